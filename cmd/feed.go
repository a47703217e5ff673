package cmd

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/devicefeed/devicefeed/publish"
	"github.com/devicefeed/devicefeed/sim"
	"github.com/devicefeed/devicefeed/sim/trace"
)

var errLimitReached = errors.New("event limit reached")

// feedOptions controls a single pump run.
type feedOptions struct {
	limit   int                 // stop after this many events; 0 = unbounded
	metrics *publish.Metrics    // may be nil
	trace   *trace.EmissionTrace // may be nil
}

// pump drives gen into pub until ctx is done or the limit is reached and
// returns the number of events produced. Publish failures are logged and do
// not stop the stream; cancellation is a normal stop, not an error.
//
// An event that has been emitted is always handed to pub, even if ctx is
// cancelled while publishing it.
func pump(ctx context.Context, gen *sim.Generator, pub publish.Publisher, opts feedOptions) (int, error) {
	publishCtx := context.WithoutCancel(ctx)
	produced := 0
	err := gen.Run(ctx, func(ev sim.Event) error {
		produced++
		if err := pub.Publish(publishCtx, ev); err != nil {
			logrus.Warnf("Publish failed: %v", err)
		}
		opts.metrics.RecordLag(ctx, ev)
		if opts.trace != nil {
			opts.trace.Record(trace.EmissionRecord{
				DeviceID:    ev.DeviceID,
				Seq:         ev.Seq,
				ScheduledAt: ev.ScheduledAt,
				EmittedAt:   ev.Timestamp,
			})
		}
		logrus.Tracef("Emitted %s seq=%d value=%.3f", ev.DeviceID, ev.Seq, ev.Params.Value)

		if opts.limit > 0 && produced >= opts.limit {
			return errLimitReached
		}
		return nil
	})

	switch {
	case errors.Is(err, errLimitReached), errors.Is(err, context.Canceled):
		return produced, nil
	default:
		return produced, err
	}
}
