package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/ericogr/ds18b20-to-http/pkg/retry"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
	"periph.io/x/conn/v3/onewire"
)

// DefaultPeriod is the time between the end of one cycle and the start of
// the next.
const DefaultPeriod = time.Second

// Publisher receives complete reading sets. Publish must not block.
type Publisher interface {
	Publish(sensor.ReadingSet)
}

// Sampler owns the bus and the discovered sensors. No other goroutine may
// use the bus while Run is active.
type Sampler struct {
	bus     onewire.Bus
	handles []sensor.Handle
	pub     Publisher

	clk          clock.Clock
	logger       *slog.Logger
	period       time.Duration
	convertRetry retry.Policy
	readRetry    retry.Policy

	cycle uint64
	seq   uint64
}

type Option func(*Sampler)

func WithClock(c clock.Clock) Option { return func(s *Sampler) { s.clk = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Sampler) { s.logger = l } }

func WithPeriod(d time.Duration) Option { return func(s *Sampler) { s.period = d } }

// WithRetry sets the policy for both the conversion broadcast and each
// sensor read.
func WithRetry(p retry.Policy) Option {
	return func(s *Sampler) {
		s.convertRetry = p
		s.readRetry = p
	}
}

func New(bus onewire.Bus, handles []sensor.Handle, pub Publisher, opts ...Option) *Sampler {
	s := &Sampler{
		bus:          bus,
		handles:      handles,
		pub:          pub,
		clk:          clock.Real(),
		logger:       slog.Default(),
		period:       DefaultPeriod,
		convertRetry: retry.Bus,
		readRetry:    retry.Bus,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run samples forever until ctx is done. A cycle in which any sensor fails
// all its read attempts is logged and dropped; the next period starts a
// fresh cycle.
func (s *Sampler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-s.clk.After(s.period):
		case <-ctx.Done():
			return ctx.Err()
		}
		set, err := s.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sampling cycle abandoned", "cycle", s.cycle, "error", err)
			continue
		}
		s.logger.Info("cycle", "cycle", s.cycle, "seq", set.Seq, "temperatures", set.Temperatures())
		s.pub.Publish(set)
	}
}

// Cycle converts every sensor at once, waits the conversion time and reads
// each sensor back in discovery order. It returns a set only when every
// sensor was read.
func (s *Sampler) Cycle(ctx context.Context) (sensor.ReadingSet, error) {
	s.cycle++
	err := s.convertRetry.Do(ctx, s.clk, func(attempt int) error {
		err := sensor.ConvertAll(s.bus)
		if err != nil {
			s.logger.Warn("convert failed", "attempt", attempt+1, "error", err)
		}
		return err
	})
	if err != nil {
		return sensor.ReadingSet{}, fmt.Errorf("convert: %w", err)
	}

	select {
	case <-s.clk.After(sensor.ConversionTime):
	case <-ctx.Done():
		return sensor.ReadingSet{}, ctx.Err()
	}

	readings := make([]sensor.Reading, 0, len(s.handles))
	for _, h := range s.handles {
		var celsius float32
		err := s.readRetry.Do(ctx, s.clk, func(attempt int) error {
			c, err := sensor.ReadCelsius(s.bus, h)
			if err != nil {
				s.logger.Warn("read failed", "sensor", h.String(), "attempt", attempt+1, "error", err)
				return err
			}
			celsius = c
			return nil
		})
		if err != nil {
			return sensor.ReadingSet{}, fmt.Errorf("read %s: %w", h, err)
		}
		s.logger.Debug("temperature", "sensor", h.String(), "celsius", celsius)
		readings = append(readings, sensor.Reading{Address: h.Address(), Celsius: celsius})
	}

	s.seq++
	return sensor.ReadingSet{Seq: s.seq, Time: s.clk.Now(), Readings: readings}, nil
}
