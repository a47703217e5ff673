package sim

import "time"

// Params carries the measurement payload of an Event.
type Params struct {
	Value float64
}

// Event is one firing of one device. Events are plain values and are never
// retained or mutated by the Generator after Next returns them.
type Event struct {
	Timestamp time.Time // actual emission instant, never before ScheduledAt
	DeviceID  string
	Seq       int64 // the device's sequence number after this firing
	Params    Params

	// ScheduledAt is the fire time the device was scheduled for. The gap to
	// Timestamp is the pacing lag; it is not part of the published record.
	ScheduledAt time.Time
}

// Lag returns how late the event was emitted relative to its schedule.
func (e Event) Lag() time.Duration {
	return e.Timestamp.Sub(e.ScheduledAt)
}
