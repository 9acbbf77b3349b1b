package sensor

import (
	"fmt"
	"strings"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/config"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/host/v3"
)

const serialPrefix = "serial:"

// OpenBus opens the one-wire bus selected by the configuration. The
// simulation type gets an in-process bus holding the expected number of
// sensors; otherwise the bus name picks a UART adapter ("serial:<dev>")
// or a bus registered by the periph host drivers (Linux w1 netlink
// masters, "" for the first one).
func OpenBus(cfg config.Config) (onewire.BusCloser, error) {
	if cfg.SensorType == config.SensorTypeSimulation {
		return newSimulation(cfg.Bus.Sensors, time.Now().UnixNano()), nil
	}
	if dev, ok := strings.CutPrefix(cfg.Bus.Name, serialPrefix); ok {
		bus, err := OpenSerialBus(dev)
		if err != nil {
			return nil, err
		}
		return bus, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := onewirereg.Open(cfg.Bus.Name)
	if err != nil {
		return nil, fmt.Errorf("open onewire %q: %w", cfg.Bus.Name, err)
	}
	return bus, nil
}

// newSimulation returns a bus with n drifting sensors around 20 °C.
func newSimulation(n int, seed int64) *SimulatedBus {
	b := NewSimulatedBus(seed)
	for i := 0; i < n; i++ {
		b.AddSensor(uint64(0x075c5e30+i), 20+float32(i))
	}
	b.SetDrift(0.0625)
	return b
}
