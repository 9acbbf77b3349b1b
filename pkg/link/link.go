// Package link waits for the network to be usable before reporting starts.
// Association and address assignment belong to the operating system; this
// package only observes their result.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/clock"
)

// DefaultPoll is how often addresses are checked while waiting.
const DefaultPoll = 500 * time.Millisecond

// AddrSource lists the addresses of interfaces that are up and not
// loopback, restricted to iface when it is not empty.
type AddrSource interface {
	Addrs(iface string) ([]netip.Addr, error)
}

type Supervisor struct {
	iface  string
	poll   time.Duration
	src    AddrSource
	clk    clock.Clock
	logger *slog.Logger
}

type Option func(*Supervisor)

func WithSource(src AddrSource) Option { return func(s *Supervisor) { s.src = src } }

func WithClock(c clock.Clock) Option { return func(s *Supervisor) { s.clk = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

func New(iface string, poll time.Duration, opts ...Option) *Supervisor {
	if poll <= 0 {
		poll = DefaultPoll
	}
	s := &Supervisor{iface: iface, poll: poll, src: SystemAddrs{}, clk: clock.Real(), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WaitReady blocks until a routable IPv4 address is assigned and returns
// it.
func (s *Supervisor) WaitReady(ctx context.Context) (netip.Addr, error) {
	waiting := false
	for {
		addrs, err := s.src.Addrs(s.iface)
		if err == nil {
			if a, ok := routableIPv4(addrs); ok {
				s.logger.Info("link ready", "interface", s.iface, "address", a.String())
				return a, nil
			}
		}
		if !waiting {
			s.logger.Info("waiting for link", "interface", s.iface)
			waiting = true
		}
		if err != nil {
			s.logger.Debug("address lookup failed", "error", err)
		}
		select {
		case <-s.clk.After(s.poll):
		case <-ctx.Done():
			return netip.Addr{}, ctx.Err()
		}
	}
}

func routableIPv4(addrs []netip.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is4() && !a.IsLoopback() && !a.IsLinkLocalUnicast() && !a.IsUnspecified() {
			return a, true
		}
	}
	return netip.Addr{}, false
}

// SystemAddrs reads addresses from the host interfaces.
type SystemAddrs struct{}

func (SystemAddrs) Addrs(iface string) ([]netip.Addr, error) {
	var ifaces []net.Interface
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", iface, err)
		}
		ifaces = []net.Interface{*ifi}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("list interfaces: %w", err)
		}
		ifaces = all
	}

	var out []netip.Addr
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipn.IP); ok {
				out = append(out, ip)
			}
		}
	}
	return out, nil
}
