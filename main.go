package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/broadcast"
	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/ericogr/ds18b20-to-http/pkg/config"
	"github.com/ericogr/ds18b20-to-http/pkg/link"
	"github.com/ericogr/ds18b20-to-http/pkg/output"
	"github.com/ericogr/ds18b20-to-http/pkg/output/console"
	"github.com/ericogr/ds18b20-to-http/pkg/output/httppost"
	"github.com/ericogr/ds18b20-to-http/pkg/output/mqtt"
	"github.com/ericogr/ds18b20-to-http/pkg/reporter"
	"github.com/ericogr/ds18b20-to-http/pkg/sampler"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/onewire"
)

type outputEntry struct {
	Name       string
	Output     output.Output
	IntervalMs int
}

func main() {
	cfg, err := config.LoadFromFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting", "sensor_type", cfg.SensorType, "bus", cfg.Bus.Name, "sensors", cfg.Bus.Sensors)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := sensor.OpenBus(cfg)
	if err != nil {
		logger.Error("open bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	handles, err := sensor.DiscoverWithRetry(ctx, bus, byte(cfg.Bus.FamilyCode), cfg.Bus.Sensors, cfg.DiscoveryRetry.Policy(), clock.Real(), logger)
	if err != nil {
		// no sensors means nothing to report; let the supervisor restart us
		logger.Error("sensor discovery failed", "error", err)
		bus.Close()
		os.Exit(1)
	}

	if cfg.Link.Wait && needsNetwork(cfg) {
		sup := link.New(cfg.Link.Interface, time.Duration(cfg.Link.PollMs)*time.Millisecond, link.WithLogger(logger))
		if _, err := sup.WaitReady(ctx); err != nil {
			logger.Info("stopped while waiting for link", "error", err)
			return
		}
	}

	entries, err := initOutputs(cfg, addresses(handles), logger)
	if err != nil {
		logger.Error("init outputs", "error", err)
		bus.Close()
		os.Exit(1)
	}

	if err := serve(ctx, cfg, bus, handles, entries, clock.Real(), logger); err != nil {
		logger.Error("stopped", "error", err)
		bus.Close()
		os.Exit(1)
	}
	logger.Info("stopped")
}

// serve runs the sampler and one reporter per output until ctx is done.
// Each reporter owns its own subscription, so a slow output only lags
// itself.
func serve(ctx context.Context, cfg config.Config, bus onewire.Bus, handles []sensor.Handle, entries []outputEntry, clk clock.Clock, logger *slog.Logger) error {
	defer func() {
		for _, e := range entries {
			if err := e.Output.Close(); err != nil {
				logger.Warn("close output", "output", e.Name, "error", err)
			}
		}
	}()

	ch := broadcast.New[sensor.ReadingSet](cfg.ChannelCapacity, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		sub, err := ch.Subscribe()
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", e.Name, err)
		}
		rep := reporter.New(e.Name, sub, e.Output,
			reporter.WithInterval(time.Duration(e.IntervalMs)*time.Millisecond),
			reporter.WithClock(clk),
			reporter.WithLogger(logger))
		g.Go(func() error { return rep.Run(gctx) })
	}

	s := sampler.New(bus, handles, ch,
		sampler.WithClock(clk),
		sampler.WithLogger(logger),
		sampler.WithPeriod(time.Duration(cfg.IntervalMs)*time.Millisecond),
		sampler.WithRetry(cfg.ReadRetry.Policy()))
	g.Go(func() error {
		defer ch.Close()
		return s.Run(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// initOutputs creates the configured outputs. sensors feeds MQTT discovery.
func initOutputs(cfg config.Config, sensors []onewire.Address, logger *slog.Logger) ([]outputEntry, error) {
	var entries []outputEntry
	fail := func(err error) ([]outputEntry, error) {
		for _, e := range entries {
			_ = e.Output.Close()
		}
		return nil, err
	}
	seen := map[string]int{}
	for _, oc := range cfg.Outputs {
		var (
			out output.Output
			err error
		)
		switch oc.Type {
		case config.OutputConsole:
			out = console.NewConsole()
		case config.OutputHTTP:
			if oc.HTTP == nil {
				return fail(errors.New("http output needs settings"))
			}
			out, err = httppost.New(*oc.HTTP, httppost.WithLogger(logger))
		case config.OutputMQTT:
			if oc.MQTT == nil {
				return fail(errors.New("mqtt output needs settings"))
			}
			out, err = mqtt.NewMQTT(*oc.MQTT, sensors, logger)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			return fail(fmt.Errorf("%s output: %w", oc.Type, err))
		}
		name := oc.Type
		if n := seen[oc.Type]; n > 0 {
			name = fmt.Sprintf("%s#%d", oc.Type, n)
		}
		seen[oc.Type]++
		entries = append(entries, outputEntry{Name: name, Output: out, IntervalMs: oc.IntervalMs})
	}
	if len(entries) == 0 {
		return nil, errors.New("no outputs configured")
	}
	return entries, nil
}

func needsNetwork(cfg config.Config) bool {
	for _, o := range cfg.Outputs {
		if o.Type == config.OutputHTTP || o.Type == config.OutputMQTT {
			return true
		}
	}
	return false
}

func addresses(handles []sensor.Handle) []onewire.Address {
	out := make([]onewire.Address, len(handles))
	for i, h := range handles {
		out[i] = h.Address()
	}
	return out
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
