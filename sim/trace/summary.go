package trace

import "time"

// TraceSummary aggregates statistics from an EmissionTrace.
type TraceSummary struct {
	TotalEvents   int
	UniqueDevices int
	DeviceCounts  map[string]int // device ID → events seen

	// Lag statistics cover only records with a known ScheduledAt.
	LagSamples int
	MeanLag    time.Duration
	MaxLag     time.Duration

	// Violations lists every break in a device's sequence. The first record
	// seen for a device sets its baseline, so a trace that starts mid-stream
	// is not itself a violation.
	Violations []SequenceViolation

	// OutOfOrder counts records emitted earlier than the previous record of
	// the same device.
	OutOfOrder int
}

// Summarize computes aggregate statistics from an EmissionTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(et *EmissionTrace) *TraceSummary {
	summary := &TraceSummary{
		DeviceCounts: make(map[string]int),
	}
	if et == nil {
		return summary
	}

	lastSeq := make(map[string]int64)
	lastEmitted := make(map[string]time.Time)
	var totalLag time.Duration

	for i, r := range et.Records {
		summary.TotalEvents++
		summary.DeviceCounts[r.DeviceID]++

		if !r.ScheduledAt.IsZero() {
			lag := r.EmittedAt.Sub(r.ScheduledAt)
			totalLag += lag
			summary.LagSamples++
			if lag > summary.MaxLag {
				summary.MaxLag = lag
			}
		}

		if prev, seen := lastSeq[r.DeviceID]; seen {
			if v, ok := checkSequence(r.DeviceID, i, prev, r.Seq); !ok {
				summary.Violations = append(summary.Violations, v)
			}
			if r.EmittedAt.Before(lastEmitted[r.DeviceID]) {
				summary.OutOfOrder++
			}
		}
		lastSeq[r.DeviceID] = r.Seq
		lastEmitted[r.DeviceID] = r.EmittedAt
	}

	if summary.LagSamples > 0 {
		summary.MeanLag = totalLag / time.Duration(summary.LagSamples)
	}
	summary.UniqueDevices = len(summary.DeviceCounts)

	return summary
}

// Healthy reports whether every device's sequence was contiguous and in order.
func (s *TraceSummary) Healthy() bool {
	return len(s.Violations) == 0 && s.OutOfOrder == 0
}

func checkSequence(deviceID string, position int, prev, got int64) (SequenceViolation, bool) {
	expected := prev + 1
	v := SequenceViolation{DeviceID: deviceID, Position: position, Expected: expected, Got: got}
	switch {
	case got == expected:
		return v, true
	case got == prev:
		v.Kind = ViolationDuplicate
	case got < prev:
		v.Kind = ViolationRegression
	default:
		v.Kind = ViolationGap
	}
	return v, false
}
