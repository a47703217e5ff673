// Package publish hands generated events to their destination: a Kafka topic
// in normal operation, or any io.Writer for local inspection.
//
// Publishers are best-effort. The generator never inspects publish outcomes;
// failures are logged and counted, and the host flushes once before exit.
package publish

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/devicefeed/devicefeed/sim"
)

// ErrClosed is returned by Publish after the publisher has been flushed or closed.
var ErrClosed = errors.New("publisher closed")

// Publisher accepts events keyed by device ID.
type Publisher interface {
	// Publish queues ev for delivery. It does not wait for acknowledgment.
	Publish(ctx context.Context, ev sim.Event) error
	// Flush blocks until every queued event is acknowledged or failed, or ctx is done.
	Flush(ctx context.Context) error
	// Close flushes without a deadline and releases resources.
	Close() error
}

// Stats counts events at each stage of delivery.
type Stats struct {
	Enqueued  int64
	Delivered int64
	Failed    int64
}

type counters struct {
	enqueued  atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Enqueued:  c.enqueued.Load(),
		Delivered: c.delivered.Load(),
		Failed:    c.failed.Load(),
	}
}

// StreamPublisher writes encoded records to an io.Writer: JSON lines, or a
// CBOR sequence where records are simply concatenated.
type StreamPublisher struct {
	mu      sync.Mutex
	w       *bufio.Writer
	codec   Codec
	metrics *Metrics
	stats   counters
	pending int // written to the buffer since the last flush
	closed  bool
}

// NewStreamPublisher wraps w. metrics may be nil.
func NewStreamPublisher(w io.Writer, codec Codec, metrics *Metrics) *StreamPublisher {
	return &StreamPublisher{
		w:       bufio.NewWriter(w),
		codec:   codec,
		metrics: metrics,
	}
}

// Publish encodes ev and writes it to the buffer.
func (p *StreamPublisher) Publish(ctx context.Context, ev sim.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	data, err := p.codec.Encode(NewRecord(ev))
	if err != nil {
		p.fail(ctx)
		return fmt.Errorf("encode %s seq %d: %w", ev.DeviceID, ev.Seq, err)
	}
	if p.codec.Name() == FormatJSON {
		data = append(data, '\n')
	}
	if _, err := p.w.Write(data); err != nil {
		p.fail(ctx)
		return fmt.Errorf("write %s seq %d: %w", ev.DeviceID, ev.Seq, err)
	}

	p.pending++
	p.stats.enqueued.Add(1)
	p.metrics.addEnqueued(ctx, 1)
	return nil
}

// Flush writes buffered records to the underlying writer. Everything written
// successfully counts as delivered.
func (p *StreamPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx)
}

// Close flushes and rejects further publishes.
func (p *StreamPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.flushLocked(context.Background())
}

// Stats returns delivery counters.
func (p *StreamPublisher) Stats() Stats {
	return p.stats.snapshot()
}

func (p *StreamPublisher) flushLocked(ctx context.Context) error {
	pending := p.pending
	p.pending = 0
	if err := p.w.Flush(); err != nil {
		p.stats.failed.Add(int64(pending))
		p.metrics.addFailed(ctx, pending)
		return fmt.Errorf("flush stream: %w", err)
	}
	p.stats.delivered.Add(int64(pending))
	p.metrics.addDelivered(ctx, pending)
	return nil
}

func (p *StreamPublisher) fail(ctx context.Context) {
	p.stats.failed.Add(1)
	p.metrics.addFailed(ctx, 1)
}
