package link

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource answers each lookup with the next entry.
type scriptedSource struct {
	steps [][]netip.Addr
	errs  []error
	calls int
	iface string
}

func (s *scriptedSource) Addrs(iface string) ([]netip.Addr, error) {
	s.iface = iface
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.steps[i], err
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestWaitReadyPollsUntilAddress(t *testing.T) {
	src := &scriptedSource{
		steps: [][]netip.Addr{nil, addrs("169.254.3.4", "fe80::1"), nil, addrs("fe80::1", "192.168.4.20")},
		errs:  []error{nil, nil, errors.New("netlink busy")},
	}
	clk := clock.Fake(time.Unix(0, 0))
	s := New("wlan0", 0, WithSource(src), WithClock(clk), WithLogger(slog.New(slog.DiscardHandler)))

	a, err := s.WaitReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.4.20"), a)
	assert.Equal(t, "wlan0", src.iface)
	assert.Equal(t, []time.Duration{DefaultPoll, DefaultPoll, DefaultPoll}, clk.Waits())
}

func TestWaitReadyCancelled(t *testing.T) {
	src := &scriptedSource{steps: [][]netip.Addr{nil}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New("", time.Hour, WithSource(src), WithLogger(slog.New(slog.DiscardHandler)))
	_, err := s.WaitReady(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRoutableIPv4(t *testing.T) {
	_, ok := routableIPv4(addrs("127.0.0.1", "0.0.0.0", "169.254.1.1", "2001:db8::1"))
	assert.False(t, ok)
	a, ok := routableIPv4(addrs("::ffff:10.0.0.7"))
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.7", a.String())
}

func TestSystemAddrsUnknownInterface(t *testing.T) {
	_, err := SystemAddrs{}.Addrs("no-such-interface-0")
	assert.Error(t, err)
}
