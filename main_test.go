package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/ericogr/ds18b20-to-http/pkg/config"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
)

type recordingOutput struct {
	mu     sync.Mutex
	sets   []sensor.ReadingSet
	want   int
	cancel func()
	closed bool
}

func (r *recordingOutput) Publish(_ context.Context, set sensor.ReadingSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, set)
	if len(r.sets) == r.want {
		r.cancel()
	}
	return nil
}

func (r *recordingOutput) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestInitOutputsSetsInterval(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console", IntervalMs: 123}, {Type: "console"}}}
	entries, err := initOutputs(cfg, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries len: %d", len(entries))
	}
	if entries[0].IntervalMs != 123 {
		t.Fatalf("entry interval not set, got %d", entries[0].IntervalMs)
	}
	if entries[0].Name != "console" || entries[1].Name != "console#1" {
		t.Fatalf("names: %q %q", entries[0].Name, entries[1].Name)
	}
}

func TestInitOutputsRejectsBadOutputs(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	bad := []config.Config{
		{Outputs: []config.OutputConfig{{Type: "carrier-pigeon"}}},
		{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "http"}}},
		{Outputs: []config.OutputConfig{{Type: "http", HTTP: &config.HTTPConfig{Address: "localhost:80"}}}},
		{},
	}
	for i, cfg := range bad {
		if _, err := initOutputs(cfg, nil, logger); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestServeDeliversSetsToEveryOutput(t *testing.T) {
	bus := sensor.NewSimulatedBus(1)
	bus.AddSensor(1, 23.5)
	bus.AddSensor(2, 24.125)
	handles, err := sensor.Discover(bus, sensor.FamilyDS18B20, 2, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &recordingOutput{want: 3, cancel: cancel}
	second := &recordingOutput{want: -1, cancel: cancel}
	entries := []outputEntry{{Name: "a", Output: first}, {Name: "b", Output: second}}

	cfg := config.DefaultConfig()
	cfg.ChannelCapacity = 64
	if err := serve(ctx, cfg, bus, handles, entries, clock.Fake(time.Unix(0, 0)), slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("serve: %v", err)
	}

	if len(first.sets) < 3 {
		t.Fatalf("first output got %d sets", len(first.sets))
	}
	for i, set := range first.sets {
		if len(set.Readings) != 2 {
			t.Fatalf("set %d has %d readings", i, len(set.Readings))
		}
		if got := set.Temperatures(); got[0] != 23.5 || got[1] != 24.125 {
			t.Fatalf("set %d temperatures %v", i, got)
		}
	}
	if !first.closed || !second.closed {
		t.Fatalf("outputs not closed")
	}
}

func TestNeedsNetwork(t *testing.T) {
	if needsNetwork(config.Config{Outputs: []config.OutputConfig{{Type: "console"}}}) {
		t.Fatalf("console does not need the network")
	}
	if !needsNetwork(config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "mqtt"}}}) {
		t.Fatalf("mqtt needs the network")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown")
	if bytes.Contains(buf.Bytes(), []byte("hidden")) || !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
	if parseLevel("DEBUG") != slog.LevelDebug || parseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("parseLevel")
	}
}
