package reporter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/broadcast"
	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/ericogr/ds18b20-to-http/pkg/output"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
)

// Receiver is the subscriber side of the readings channel.
type Receiver interface {
	Receive(ctx context.Context) (sensor.ReadingSet, error)
}

// Reporter forwards every reading set it receives to one output. Failed
// sends are logged and dropped; nothing is replayed.
type Reporter struct {
	name     string
	sub      Receiver
	out      output.Output
	interval time.Duration
	clk      clock.Clock
	logger   *slog.Logger
	last     time.Time
}

type Option func(*Reporter)

// WithInterval skips sets that arrive sooner than d after the last one
// handed to the output.
func WithInterval(d time.Duration) Option { return func(r *Reporter) { r.interval = d } }

func WithClock(c clock.Clock) Option { return func(r *Reporter) { r.clk = c } }

func WithLogger(l *slog.Logger) Option { return func(r *Reporter) { r.logger = l } }

func New(name string, sub Receiver, out output.Output, opts ...Option) *Reporter {
	r := &Reporter{name: name, sub: sub, out: out, clk: clock.Real(), logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("output", name)
	return r
}

// Run loops until ctx is done or the channel is closed, which returns nil.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		set, err := r.sub.Receive(ctx)
		if err != nil {
			var lag *broadcast.LagError
			switch {
			case errors.As(err, &lag):
				r.logger.Error("reporter lagged behind sampler", "missed", lag.Missed)
				continue
			case errors.Is(err, broadcast.ErrClosed):
				return nil
			default:
				return err
			}
		}

		now := r.clk.Now()
		if r.interval > 0 && !r.last.IsZero() && now.Sub(r.last) < r.interval {
			r.logger.Debug("skipping readings inside output interval", "seq", set.Seq)
			continue
		}
		r.last = now

		if err := r.out.Publish(ctx, set); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("publish failed, readings dropped", "seq", set.Seq, "error", err)
		}
	}
}
