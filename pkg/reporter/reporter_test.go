package reporter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/broadcast"
	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutput struct {
	mu     sync.Mutex
	seqs   []uint64
	failOn map[uint64]bool
}

func (f *fakeOutput) Publish(_ context.Context, set sensor.ReadingSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[set.Seq] {
		return errors.New("collector unreachable")
	}
	f.seqs = append(f.seqs, set.Seq)
	return nil
}

func (f *fakeOutput) Close() error { return nil }

// steppingClock advances one second per Now call.
type steppingClock struct {
	*clock.FakeClock
}

func (c steppingClock) Now() time.Time {
	<-c.FakeClock.After(time.Second)
	return c.FakeClock.Now()
}

func publishSets(ch *broadcast.Channel[sensor.ReadingSet], from, to uint64) {
	for s := from; s <= to; s++ {
		ch.Publish(sensor.ReadingSet{Seq: s})
	}
}

func TestRunForwardsInOrderAndSurvivesFailures(t *testing.T) {
	ch := broadcast.New[sensor.ReadingSet](8, 1)
	sub, err := ch.Subscribe()
	require.NoError(t, err)
	out := &fakeOutput{failOn: map[uint64]bool{2: true}}

	publishSets(ch, 1, 4)
	ch.Close()

	r := New("test", sub, out, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []uint64{1, 3, 4}, out.seqs)
}

func TestRunLogsLagAndContinues(t *testing.T) {
	ch := broadcast.New[sensor.ReadingSet](2, 1)
	sub, err := ch.Subscribe()
	require.NoError(t, err)
	out := &fakeOutput{}

	publishSets(ch, 1, 5)
	ch.Close()

	var logs bytes.Buffer
	r := New("http", sub, out, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []uint64{4, 5}, out.seqs)
	assert.Contains(t, logs.String(), "reporter lagged behind sampler")
	assert.Contains(t, logs.String(), "missed=3")
	assert.Contains(t, logs.String(), "output=http")
}

func TestRunHonoursInterval(t *testing.T) {
	ch := broadcast.New[sensor.ReadingSet](8, 1)
	sub, err := ch.Subscribe()
	require.NoError(t, err)
	out := &fakeOutput{}

	publishSets(ch, 1, 6)
	ch.Close()

	clk := steppingClock{clock.Fake(time.Unix(0, 0))}
	r := New("console", sub, out, WithInterval(2*time.Second), WithClock(clk), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []uint64{1, 3, 5}, out.seqs)
}

func TestRunStopsOnCancel(t *testing.T) {
	ch := broadcast.New[sensor.ReadingSet](1, 1)
	sub, err := ch.Subscribe()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New("test", sub, &fakeOutput{}, WithLogger(slog.New(slog.DiscardHandler)))
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}
