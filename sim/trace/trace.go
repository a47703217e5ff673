package trace

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	// MaxRecords caps the number of retained records; 0 means unbounded.
	// Records past the cap are counted in Dropped but not stored.
	MaxRecords int
}

// EmissionTrace collects emission records in arrival order.
type EmissionTrace struct {
	Config  TraceConfig
	Records []EmissionRecord
	Dropped int
}

// NewEmissionTrace creates an EmissionTrace ready for recording.
func NewEmissionTrace(config TraceConfig) *EmissionTrace {
	return &EmissionTrace{
		Config:  config,
		Records: make([]EmissionRecord, 0),
	}
}

// Record appends an emission record, or counts it as dropped once the trace is full.
func (et *EmissionTrace) Record(record EmissionRecord) {
	if et.Config.MaxRecords > 0 && len(et.Records) >= et.Config.MaxRecords {
		et.Dropped++
		return
	}
	et.Records = append(et.Records, record)
}

// Len returns the number of retained records.
func (et *EmissionTrace) Len() int {
	return len(et.Records)
}
