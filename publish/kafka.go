package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/devicefeed/devicefeed/sim"
)

// HeaderContentType carries the codec content type on every message.
const HeaderContentType = "content-type"

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string      // bootstrap addresses, e.g. "localhost:29092"
	Topic        string        // destination topic
	BatchTimeout time.Duration // linger before a partial batch is sent (default 5ms)
	Codec        Codec         // record encoding (default JSON)
}

// ParseBrokers splits a comma-separated bootstrap list.
func ParseBrokers(bootstrap string) []string {
	var brokers []string
	for _, b := range strings.Split(bootstrap, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes records keyed by device ID through an asynchronous
// kafka-go writer. The hash balancer pins each key to one partition, so a
// consumer of that partition sees each device's events in emission order.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	codec   Codec
	metrics *Metrics
	stats   counters

	closing   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// NewKafkaPublisher creates the writer. No connection is made until the first
// batch is sent. metrics may be nil.
func NewKafkaPublisher(cfg KafkaConfig, metrics *Metrics) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: no topic configured")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Millisecond
	}

	p := newKafkaPublisher(nil, cfg.Topic, cfg.Codec, metrics)
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		Compression:            kafka.Zstd,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             p.onCompletion,
		Logger:                 kafka.LoggerFunc(logrus.WithField("component", "kafka").Debugf),
		ErrorLogger:            kafka.LoggerFunc(logrus.WithField("component", "kafka").Errorf),
	}
	return p, nil
}

func newKafkaPublisher(w messageWriter, topic string, codec Codec, metrics *Metrics) *KafkaPublisher {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		codec:   codec,
		metrics: metrics,
		closed:  make(chan struct{}),
	}
}

// Publish encodes ev and queues it. With the async writer this returns as soon
// as the message is buffered; delivery is reported through onCompletion.
func (p *KafkaPublisher) Publish(ctx context.Context, ev sim.Event) error {
	if p.closing.Load() {
		return ErrClosed
	}

	value, err := p.codec.Encode(NewRecord(ev))
	if err != nil {
		p.fail(ctx, 1)
		return fmt.Errorf("encode %s seq %d: %w", ev.DeviceID, ev.Seq, err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.DeviceID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: HeaderContentType, Value: []byte(p.codec.ContentType())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.fail(ctx, 1)
		return fmt.Errorf("produce %s seq %d to %s: %w", ev.DeviceID, ev.Seq, p.topic, err)
	}

	p.stats.enqueued.Add(1)
	p.metrics.addEnqueued(ctx, 1)
	return nil
}

// Flush drains the writer's buffers and waits for every outstanding batch to
// be acknowledged or failed. kafka-go only drains on Close, so Flush closes
// the writer; the publisher rejects Publish afterwards.
func (p *KafkaPublisher) Flush(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		go func() {
			p.closeErr = p.writer.Close()
			close(p.closed)
		}()
	})

	select {
	case <-p.closed:
		if p.closeErr != nil {
			return fmt.Errorf("flush kafka writer: %w", p.closeErr)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush kafka writer: %w", ctx.Err())
	}
}

// Close flushes without a deadline.
func (p *KafkaPublisher) Close() error {
	return p.Flush(context.Background())
}

// Stats returns delivery counters.
func (p *KafkaPublisher) Stats() Stats {
	return p.stats.snapshot()
}

// onCompletion is invoked by the writer for every finished batch.
func (p *KafkaPublisher) onCompletion(messages []kafka.Message, err error) {
	ctx := context.Background()
	if err != nil {
		p.fail(ctx, len(messages))
		logrus.Warnf("Failed to deliver %d message(s) to %s: %v", len(messages), p.topic, err)
		return
	}
	p.stats.delivered.Add(int64(len(messages)))
	p.metrics.addDelivered(ctx, len(messages))
}

func (p *KafkaPublisher) fail(ctx context.Context, n int) {
	p.stats.failed.Add(int64(n))
	p.metrics.addFailed(ctx, n)
}
