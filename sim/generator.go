package sim

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Generator merges the renewal processes of a fixed device population into a
// single time-ordered stream paced to the clock.
//
// The queue always holds exactly one entry per device between calls to Next,
// including after a Next that was interrupted by cancellation.
//
// Thread-safety: NOT thread-safe. A Generator must be driven from a single goroutine.
type Generator struct {
	devices []*Device
	rngs    []*rand.Rand // per-device streams, same index as devices
	queue   *ScheduleHeap
	clock   clockwork.Clock

	lagWarnThreshold time.Duration
	behind           bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces the wall clock used for scheduling and pacing.
func WithClock(clock clockwork.Clock) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// NewGenerator builds a fresh device population from cfg and schedules the
// first firing of every device relative to the current clock reading.
func NewGenerator(cfg GeneratorConfig, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		clock:            clockwork.NewRealClock(),
		lagWarnThreshold: cfg.LagWarnThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}

	rng := NewPartitionedRNG(NewSimulationKey(cfg.Seed))
	g.devices = NewDevices(rng.ForSubsystem(SubsystemPopulation), cfg.Devices)
	g.rngs = make([]*rand.Rand, len(g.devices))
	g.queue = NewScheduleHeap(len(g.devices))

	now := g.clock.Now()
	for i, d := range g.devices {
		g.rngs[i] = rng.ForDevice(i)
		g.queue.Schedule(ScheduleEntry{
			FireAt: now.Add(SampleInterval(g.rngs[i], d.Rate)),
			Index:  i,
		})
	}

	logrus.Debugf("Generator ready: %d devices, seed=%d, %s",
		len(g.devices), cfg.Seed, describeRates(g.devices))
	return g, nil
}

// Next blocks until the earliest scheduled device is due, fires it and
// returns the resulting Event.
//
// If ctx is done before the device fires, the pending entry is restored, no
// device state changes and ctx.Err() is returned. A device that is already
// overdue fires immediately; missed time is never made up.
func (g *Generator) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	entry, ok := g.queue.PopNext()
	if !ok {
		// Unreachable while the one-entry-per-device invariant holds.
		return Event{}, fmt.Errorf("schedule queue empty with %d devices", len(g.devices))
	}

	if wait := entry.FireAt.Sub(g.clock.Now()); wait > 0 {
		timer := g.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.queue.Schedule(entry)
			return Event{}, ctx.Err()
		case <-timer.Chan():
		}
	}

	d := g.devices[entry.Index]
	rng := g.rngs[entry.Index]

	d.Seq++
	d.Value = Advance(rng, d.Value)

	ev := Event{
		Timestamp:   g.clock.Now(),
		DeviceID:    d.ID,
		Seq:         d.Seq,
		Params:      Params{Value: d.Value},
		ScheduledAt: entry.FireAt,
	}

	// Anchor on the scheduled time so jitter does not accumulate into the rate.
	g.queue.Schedule(ScheduleEntry{
		FireAt: entry.FireAt.Add(SampleInterval(rng, d.Rate)),
		Index:  entry.Index,
	})

	g.observeLag(ev)
	return ev, nil
}

// Events returns the generator as an infinite iterator. Iteration stops when
// ctx is done or the consumer breaks out of the loop.
func (g *Generator) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := g.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Run hands every event to fn until ctx is done or fn returns an error.
// The returned error is ctx.Err() or fn's error; Run never returns nil.
func (g *Generator) Run(ctx context.Context, fn func(Event) error) error {
	for {
		ev, err := g.Next(ctx)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// Pending returns the number of scheduled entries.
func (g *Generator) Pending() int {
	return g.queue.Len()
}

// Devices returns a snapshot of the device population.
func (g *Generator) Devices() []Device {
	out := make([]Device, len(g.devices))
	for i, d := range g.devices {
		out[i] = *d
	}
	return out
}

// observeLag warns once each time emission falls behind by more than the
// configured threshold, and re-arms when it catches up.
func (g *Generator) observeLag(ev Event) {
	if g.lagWarnThreshold <= 0 {
		return
	}
	lag := ev.Lag()
	switch {
	case lag > g.lagWarnThreshold && !g.behind:
		g.behind = true
		logrus.Warnf("Generator is %v behind schedule at %s seq %d; consumer may be too slow",
			lag.Round(time.Millisecond), ev.DeviceID, ev.Seq)
	case lag <= g.lagWarnThreshold && g.behind:
		g.behind = false
		logrus.Infof("Generator caught up with schedule")
	}
}

func describeRates(devices []*Device) string {
	if len(devices) == 0 {
		return "no devices"
	}
	lo, hi, sum := devices[0].Rate, devices[0].Rate, 0.0
	for _, d := range devices {
		lo = min(lo, d.Rate)
		hi = max(hi, d.Rate)
		sum += d.Rate
	}
	return fmt.Sprintf("rate min=%.3f mean=%.3f max=%.3f ev/s", lo, sum/float64(len(devices)), hi)
}
