package publish

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/devicefeed/devicefeed/sim"
)

// Instrument names.
const (
	MetricEnqueued  = "devicefeed.events.enqueued"
	MetricDelivered = "devicefeed.events.delivered"
	MetricFailed    = "devicefeed.events.failed"
	MetricLag       = "devicefeed.emission.lag"
)

// Metrics holds the OpenTelemetry instruments for the publishing path.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enqueued  metric.Int64Counter
	delivered metric.Int64Counter
	failed    metric.Int64Counter
	lag       metric.Float64Histogram
	attrs     metric.MeasurementOption
}

// NewMetrics creates the instruments on meter. Every measurement carries the
// destination topic as an attribute.
func NewMetrics(meter metric.Meter, topic string) (*Metrics, error) {
	m := &Metrics{attrs: metric.WithAttributes(attribute.String("topic", topic))}
	var err error

	if m.enqueued, err = meter.Int64Counter(MetricEnqueued,
		metric.WithDescription("Events handed to the publisher"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricEnqueued, err)
	}
	if m.delivered, err = meter.Int64Counter(MetricDelivered,
		metric.WithDescription("Events acknowledged by the destination"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricDelivered, err)
	}
	if m.failed, err = meter.Int64Counter(MetricFailed,
		metric.WithDescription("Events that could not be delivered"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricFailed, err)
	}
	if m.lag, err = meter.Float64Histogram(MetricLag,
		metric.WithDescription("Delay between an event's scheduled and actual emission time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create %s histogram: %w", MetricLag, err)
	}
	return m, nil
}

func (m *Metrics) addEnqueued(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, int64(n), m.attrs)
}

func (m *Metrics) addDelivered(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.delivered.Add(ctx, int64(n), m.attrs)
}

func (m *Metrics) addFailed(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, int64(n), m.attrs)
}

// RecordLag records how late ev was emitted relative to its schedule.
func (m *Metrics) RecordLag(ctx context.Context, ev sim.Event) {
	if m == nil {
		return
	}
	m.lag.Record(ctx, ev.Lag().Seconds(), m.attrs)
}
