package output

import (
	"context"

	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
)

// Output delivers reading sets to one destination. Publish is called from a
// single reporter goroutine and may block up to its own timeouts.
type Output interface {
	Publish(ctx context.Context, set sensor.ReadingSet) error
	Close() error
}

// helper constructors are in subpackages
