package console

import (
	"context"
	"fmt"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/output"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(_ context.Context, set sensor.ReadingSet) error {
	for _, r := range set.Readings {
		fmt.Printf("%s seq=%d sensor=%s temperature=%.4f\n", set.Time.Format(time.RFC3339), set.Seq, sensor.FormatAddress(r.Address), r.Celsius)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
