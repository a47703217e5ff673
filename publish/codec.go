package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/devicefeed/devicefeed/sim"
)

// Record is the self-describing wire form of a sim.Event.
type Record struct {
	Timestamp float64      `json:"ts" cbor:"ts"` // unix seconds, sub-second precision
	DeviceID  string       `json:"device_id" cbor:"device_id"`
	Seq       int64        `json:"seq" cbor:"seq"`
	Params    RecordParams `json:"params" cbor:"params"`
}

// RecordParams is the measurement payload of a Record.
type RecordParams struct {
	Value float64 `json:"value" cbor:"value"`
}

// NewRecord converts an emitted event to its wire form.
func NewRecord(ev sim.Event) Record {
	return Record{
		Timestamp: float64(ev.Timestamp.UnixNano()) / 1e9,
		DeviceID:  ev.DeviceID,
		Seq:       ev.Seq,
		Params:    RecordParams{Value: ev.Params.Value},
	}
}

// EmittedAt converts the record timestamp back to a time.Time (microsecond precision).
func (r Record) EmittedAt() time.Time {
	return time.UnixMicro(int64(r.Timestamp*1e6 + 0.5))
}

// Codec serializes records for the broker.
type Codec interface {
	Name() string
	ContentType() string
	Encode(Record) ([]byte, error)
	Decode([]byte) (Record, error)
}

// Codec names accepted by CodecByName.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// CodecByName returns the codec for a --format value.
func CodecByName(name string) (Codec, error) {
	switch name {
	case FormatJSON, "":
		return JSONCodec{}, nil
	case FormatCBOR:
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown record format %q (want %q or %q)", name, FormatJSON, FormatCBOR)
	}
}

// JSONCodec encodes records as single-line JSON objects.
type JSONCodec struct{}

func (JSONCodec) Name() string        { return FormatJSON }
func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func (JSONCodec) Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode json record: %w", err)
	}
	return r, nil
}

// CBORCodec encodes records as CBOR maps keyed by the same names as JSON.
type CBORCodec struct{}

func (CBORCodec) Name() string        { return FormatCBOR }
func (CBORCodec) ContentType() string { return "application/cbor" }

func (CBORCodec) Encode(r Record) ([]byte, error) {
	return cbor.Marshal(r)
}

func (CBORCodec) Decode(data []byte) (Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode cbor record: %w", err)
	}
	return r, nil
}

// CodecByContentType returns the codec matching a HeaderContentType value.
func CodecByContentType(contentType string) (Codec, bool) {
	for _, c := range []Codec{JSONCodec{}, CBORCodec{}} {
		if c.ContentType() == contentType {
			return c, true
		}
	}
	return nil, false
}
