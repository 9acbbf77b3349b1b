package sensor

import (
	"testing"

	"github.com/ericogr/ds18b20-to-http/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedBusReadsPowerOnValueBeforeConvert(t *testing.T) {
	bus := NewSimulatedBus(1)
	a := bus.AddSensor(1, 21.5)

	c, err := ReadCelsius(bus, Handle{addr: a})
	require.NoError(t, err)
	assert.Equal(t, float32(85), c)

	require.NoError(t, ConvertAll(bus))
	c, err = ReadCelsius(bus, Handle{addr: a})
	require.NoError(t, err)
	assert.Equal(t, float32(21.5), c)
}

func TestSimulatedBusFaults(t *testing.T) {
	bus := NewSimulatedBus(1)
	a := bus.AddSensor(1, 20)
	other := bus.AddDevice(0x10, 2)

	bus.FailConverts(1)
	assert.Error(t, ConvertAll(bus))
	assert.NoError(t, ConvertAll(bus))

	bus.FailReads(a, 1)
	_, err := ReadCelsius(bus, Handle{addr: a})
	assert.ErrorIs(t, err, errSimulatedRead)
	_, err = ReadCelsius(bus, Handle{addr: a})
	assert.NoError(t, err)

	// a device that is not a thermometer leaves the bus idle
	_, err = ReadCelsius(bus, Handle{addr: other})
	assert.ErrorIs(t, err, errNoResponse)

	assert.Error(t, bus.Tx([]byte{0x33}, make([]byte, 8), false))
}

func TestSimulatedBusDriftStaysInRange(t *testing.T) {
	bus := NewSimulatedBus(7)
	a := bus.AddSensor(1, 124.9)
	bus.SetDrift(5)
	for i := 0; i < 50; i++ {
		require.NoError(t, ConvertAll(bus))
		c, err := ReadCelsius(bus, Handle{addr: a})
		require.NoError(t, err)
		assert.LessOrEqual(t, c, float32(125))
		assert.GreaterOrEqual(t, c, float32(-55))
	}
}

func TestOpenBusSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorTypeSimulation
	cfg.Bus.Sensors = 3

	bus, err := OpenBus(cfg)
	require.NoError(t, err)
	defer bus.Close()

	handles, err := Discover(bus, FamilyDS18B20, 3, discard)
	require.NoError(t, err)
	assert.Len(t, handles, 3)
}
