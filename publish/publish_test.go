package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/devicefeed/devicefeed/sim"
)

func testEvent(device string, seq int64, value float64) sim.Event {
	ts := time.Date(2025, 6, 1, 8, 30, 0, 250_000_000, time.UTC)
	return sim.Event{
		Timestamp:   ts,
		DeviceID:    device,
		Seq:         seq,
		Params:      sim.Params{Value: value},
		ScheduledAt: ts.Add(-20 * time.Millisecond),
	}
}

// fakeWriter records messages and simulates the async writer's completion callback.
type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	writeErr error
	closeErr error
	closed   bool
	release  chan struct{} // when non-nil, Close blocks until it is closed
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	if w.release != nil {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeErr
}

func TestNewRecord_WireShape(t *testing.T) {
	// GIVEN an emitted event
	ev := testEvent("dev-0003", 7, 49.812)

	// WHEN encoded as JSON
	data, err := JSONCodec{}.Encode(NewRecord(ev))
	require.NoError(t, err)

	// THEN the record uses the expected keys and carries no schedule info
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.ElementsMatch(t, []string{"ts", "device_id", "seq", "params"}, keys(raw))
	assert.Equal(t, "dev-0003", raw["device_id"])
	assert.Equal(t, 7.0, raw["seq"])
	assert.Equal(t, map[string]any{"value": 49.812}, raw["params"])
	assert.InDelta(t, float64(ev.Timestamp.UnixNano())/1e9, raw["ts"], 1e-6)
}

func TestRecord_EmittedAt_MicrosecondPrecision(t *testing.T) {
	ev := testEvent("dev-0000", 1, 50)
	got := NewRecord(ev).EmittedAt()
	assert.WithinDuration(t, ev.Timestamp, got, time.Microsecond)
}

func TestCodecs_DecodeWhatTheyEncode(t *testing.T) {
	rec := NewRecord(testEvent("dev-0042", 1234, 51.5))

	for _, name := range []string{FormatJSON, FormatCBOR} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)
			data, err := codec.Encode(rec)
			require.NoError(t, err)
			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestCBORCodec_UsesTextKeys(t *testing.T) {
	data, err := CBORCodec{}.Encode(NewRecord(testEvent("dev-0001", 2, 50.1)))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, cbor.Unmarshal(data, &raw))
	assert.Contains(t, raw, "device_id")
	assert.Contains(t, raw, "params")
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, c.Name())

	_, err = CodecByName("avro")
	assert.Error(t, err)
}

func TestCodecByContentType(t *testing.T) {
	c, ok := CodecByContentType("application/cbor")
	require.True(t, ok)
	assert.Equal(t, FormatCBOR, c.Name())

	_, ok = CodecByContentType("text/plain")
	assert.False(t, ok)
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}

func TestStreamPublisher_JSONLines(t *testing.T) {
	// GIVEN a stream publisher over a buffer
	var buf bytes.Buffer
	p := NewStreamPublisher(&buf, JSONCodec{}, nil)

	// WHEN three events are published and flushed
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, p.Publish(context.Background(), testEvent("dev-0000", i, 50)))
	}
	assert.Zero(t, buf.Len(), "records should stay buffered until flush")
	require.NoError(t, p.Flush(context.Background()))

	// THEN the output is one JSON object per line in publish order
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		rec, err := JSONCodec{}.Decode([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), rec.Seq)
	}
	assert.Equal(t, Stats{Enqueued: 3, Delivered: 3}, p.Stats())
}

func TestStreamPublisher_CBORSequence(t *testing.T) {
	var buf bytes.Buffer
	p := NewStreamPublisher(&buf, CBORCodec{}, nil)
	require.NoError(t, p.Publish(context.Background(), testEvent("dev-0000", 1, 50)))
	require.NoError(t, p.Publish(context.Background(), testEvent("dev-0001", 1, 49)))
	require.NoError(t, p.Close())

	dec := cbor.NewDecoder(&buf)
	var first, second Record
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "dev-0000", first.DeviceID)
	assert.Equal(t, "dev-0001", second.DeviceID)
}

func TestStreamPublisher_PublishAfterClose(t *testing.T) {
	p := NewStreamPublisher(&bytes.Buffer{}, JSONCodec{}, nil)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), testEvent("dev-0000", 1, 50)), ErrClosed)
	assert.NoError(t, p.Close(), "second Close should be a no-op")
}

func TestKafkaPublisher_KeysByDeviceID(t *testing.T) {
	// GIVEN a Kafka publisher over a fake writer
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "telemetry.raw", JSONCodec{}, nil)

	// WHEN events from two devices are published
	require.NoError(t, p.Publish(context.Background(), testEvent("dev-0000", 1, 50)))
	require.NoError(t, p.Publish(context.Background(), testEvent("dev-0001", 1, 50.2)))
	require.NoError(t, p.Publish(context.Background(), testEvent("dev-0000", 2, 49.9)))

	// THEN each message is keyed by its device and carries the content type
	require.Len(t, w.messages, 3)
	wantKeys := []string{"dev-0000", "dev-0001", "dev-0000"}
	for i, msg := range w.messages {
		assert.Equal(t, wantKeys[i], string(msg.Key))
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, HeaderContentType, msg.Headers[0].Key)
		assert.Equal(t, "application/json", string(msg.Headers[0].Value))

		rec, err := JSONCodec{}.Decode(msg.Value)
		require.NoError(t, err)
		assert.Equal(t, wantKeys[i], rec.DeviceID)
	}
	assert.Equal(t, int64(3), p.Stats().Enqueued)
}

func TestKafkaPublisher_CompletionCountsOutcomes(t *testing.T) {
	p := newKafkaPublisher(&fakeWriter{}, "telemetry.raw", nil, nil)

	p.onCompletion(make([]kafka.Message, 4), nil)
	p.onCompletion(make([]kafka.Message, 2), errors.New("leader not available"))

	assert.Equal(t, Stats{Delivered: 4, Failed: 2}, p.Stats())
}

func TestKafkaPublisher_WriteError_Wrapped(t *testing.T) {
	w := &fakeWriter{writeErr: errors.New("buffer full")}
	p := newKafkaPublisher(w, "telemetry.raw", nil, nil)

	err := p.Publish(context.Background(), testEvent("dev-0000", 1, 50))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev-0000")
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestKafkaPublisher_FlushClosesWriterOnce(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "telemetry.raw", nil, nil)

	require.NoError(t, p.Flush(context.Background()))
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), testEvent("dev-0000", 1, 50)), ErrClosed)
}

func TestKafkaPublisher_FlushRespectsDeadline(t *testing.T) {
	// GIVEN a writer whose drain never finishes on its own
	w := &fakeWriter{release: make(chan struct{})}
	defer close(w.release)
	p := newKafkaPublisher(w, "telemetry.raw", nil, nil)

	// WHEN flushing with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Flush(ctx)

	// THEN the flush gives up with the context error
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKafkaPublisher_CloseError_Surfaced(t *testing.T) {
	w := &fakeWriter{closeErr: errors.New("broker unreachable")}
	p := newKafkaPublisher(w, "telemetry.raw", nil, nil)
	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
}

func TestNewKafkaPublisher_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:29092"}}, nil)
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:29092"}, Topic: "t"}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close(), "closing an unused writer needs no broker")
}

func TestMetrics_RecordsDeliveryAndLag(t *testing.T) {
	// GIVEN metrics backed by a manual reader
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("devicefeed-test"), "telemetry.raw")
	require.NoError(t, err)

	// WHEN events flow through a stream publisher
	p := NewStreamPublisher(&bytes.Buffer{}, JSONCodec{}, m)
	for i := int64(1); i <= 5; i++ {
		ev := testEvent("dev-0000", i, 50)
		require.NoError(t, p.Publish(context.Background(), ev))
		m.RecordLag(context.Background(), ev)
	}
	require.NoError(t, p.Flush(context.Background()))

	// THEN the counters and the lag histogram reflect them
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(5), sumOf(t, rm, MetricEnqueued))
	assert.Equal(t, int64(5), sumOf(t, rm, MetricDelivered))

	hist := find(t, rm, MetricLag).Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(5), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.1, hist.DataPoints[0].Sum, 1e-9)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.addEnqueued(context.Background(), 1)
	m.RecordLag(context.Background(), testEvent("dev-0000", 1, 50))
}

func find(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return metricdata.Metrics{}
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	sum := find(t, rm, name).Data.(metricdata.Sum[int64])
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
