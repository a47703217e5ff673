// Package trace records emitted events for after-the-fact analysis of pacing
// and per-device sequencing.
// This package has no dependencies on sim/ — it stores pure data types.
package trace

import "time"

// EmissionRecord captures one emitted (or consumed) event.
type EmissionRecord struct {
	DeviceID    string
	Seq         int64
	ScheduledAt time.Time // zero when unknown, e.g. for records read back from a topic
	EmittedAt   time.Time
}

// ViolationKind classifies a break in a device's sequence.
type ViolationKind string

const (
	// ViolationGap means one or more sequence numbers were skipped.
	ViolationGap ViolationKind = "gap"
	// ViolationDuplicate means the same sequence number was seen twice in a row.
	ViolationDuplicate ViolationKind = "duplicate"
	// ViolationRegression means the sequence number went backwards.
	ViolationRegression ViolationKind = "regression"
)

// SequenceViolation captures one break in a device's 1-step sequence.
type SequenceViolation struct {
	DeviceID string
	Position int // index of the offending record in the trace
	Expected int64
	Got      int64
	Kind     ViolationKind
}
