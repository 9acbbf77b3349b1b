package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/clock"
)

// Policy bounds how often a fallible operation is attempted. MaxAttempts
// counts every attempt including the first; Backoff is the pause between
// two attempts (none after the last one).
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Bus is the policy used for one-wire discovery, conversion and reads.
var Bus = Policy{MaxAttempts: 3, Backoff: 25 * time.Millisecond}

// Once attempts an operation a single time.
var Once = Policy{MaxAttempts: 1}

// Do runs op until it succeeds or the attempts are used up. op receives
// the zero-based attempt number. The last error is returned wrapped with
// the attempt count. A cancelled context stops the loop during backoff.
func (p Policy) Do(ctx context.Context, clk clock.Clock, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-clk.After(p.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
