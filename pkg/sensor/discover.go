package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/ericogr/ds18b20-to-http/pkg/retry"
	"periph.io/x/conn/v3/onewire"
)

// ErrSensorCount is returned when the bus does not hold exactly the
// expected number of matching devices.
var ErrSensorCount = errors.New("unexpected number of sensors")

var errBadROM = errors.New("address CRC mismatch")

// Discover searches the bus and returns a handle for every device of the
// given family, in search order. Any search error fails the whole
// discovery, even when some devices were already found. The first match
// beyond n is logged and ends the scan; fewer than n is an error.
func Discover(bus onewire.Bus, family byte, n int, logger *slog.Logger) ([]Handle, error) {
	addrs, err := bus.Search(false)
	if err != nil {
		return nil, &BusError{Op: "search", Err: err}
	}
	handles := make([]Handle, 0, n)
	for _, a := range addrs {
		if !validAddress(a) {
			return nil, &BusError{Op: "search", Addr: a, Err: errBadROM}
		}
		if FamilyOf(a) != family {
			continue
		}
		if len(handles) == n {
			logger.Warn("found more sensors than expected, discarding", "address", FormatAddress(a), "expected", n)
			break
		}
		logger.Info("found sensor", "address", FormatAddress(a), "family", fmt.Sprintf("%#02x", family))
		handles = append(handles, Handle{addr: a})
	}
	if len(handles) != n {
		return nil, fmt.Errorf("%w: found %d, expected %d", ErrSensorCount, len(handles), n)
	}
	return handles, nil
}

// DiscoverWithRetry runs Discover under the given policy. Callers treat a
// returned error as fatal: there is no mode without sensors.
func DiscoverWithRetry(ctx context.Context, bus onewire.Bus, family byte, n int, policy retry.Policy, clk clock.Clock, logger *slog.Logger) ([]Handle, error) {
	var handles []Handle
	err := policy.Do(ctx, clk, func(attempt int) error {
		h, err := Discover(bus, family, n, logger)
		if err != nil {
			logger.Warn("error finding devices", "attempt", attempt+1, "error", err)
			return err
		}
		handles = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover sensors on %s: %w", bus, err)
	}
	return handles, nil
}
