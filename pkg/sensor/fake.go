package sensor

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"
	"periph.io/x/conn/v3/onewire"
)

var (
	errSimulatedRead    = errors.New("simulated read fault")
	errSimulatedSearch  = errors.New("simulated search fault")
	errSimulatedConvert = errors.New("simulated convert fault")
)

// powerOnRegister is the temperature register content before the first
// conversion (85 °C).
const powerOnRegister = 0x0550

// SimulatedBus is an in-process one-wire bus populated with DS18B20-like
// devices. It backs the "simulation" bus type and lets tests inject search,
// convert and read faults.
type SimulatedBus struct {
	mu           sync.Mutex
	devices      []*simDevice
	rnd          *rand.Rand
	drift        float32
	searchFaults int
	convertFault int
}

type simDevice struct {
	addr       onewire.Address
	thermo     bool
	celsius    float32
	register   int16
	readFaults int
}

// NewSimulatedBus returns an empty bus. seed drives the temperature drift.
func NewSimulatedBus(seed int64) *SimulatedBus {
	return &SimulatedBus{rnd: rand.New(rand.NewSource(seed))}
}

func (b *SimulatedBus) String() string { return "simulation" }

func (b *SimulatedBus) Close() error { return nil }

// AddSensor attaches a DS18B20 with the given 48-bit serial and returns its
// address.
func (b *SimulatedBus) AddSensor(serial uint64, celsius float32) onewire.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &simDevice{addr: makeAddress(FamilyDS18B20, serial), thermo: true, celsius: celsius, register: powerOnRegister}
	b.devices = append(b.devices, d)
	return d.addr
}

// AddDevice attaches a device of another family. It shows up in searches
// but does not answer temperature commands.
func (b *SimulatedBus) AddDevice(family byte, serial uint64) onewire.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &simDevice{addr: makeAddress(family, serial)}
	b.devices = append(b.devices, d)
	return d.addr
}

// SetTemperature sets the value the next conversion of a sensor latches.
func (b *SimulatedBus) SetTemperature(a onewire.Address, celsius float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d := b.find(a); d != nil {
		d.celsius = celsius
	}
}

// SetDrift makes every conversion move each temperature by a random
// amount in [-drift, drift].
func (b *SimulatedBus) SetDrift(drift float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drift = drift
}

// FailReads makes the next n scratchpad reads of a sensor fail.
func (b *SimulatedBus) FailReads(a onewire.Address, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d := b.find(a); d != nil {
		d.readFaults = n
	}
}

// FailSearches makes the next n searches fail after the first device.
func (b *SimulatedBus) FailSearches(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searchFaults = n
}

// FailConverts makes the next n conversion broadcasts fail.
func (b *SimulatedBus) FailConverts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convertFault = n
}

// Search implements onewire.Bus. Devices are returned in attach order.
func (b *SimulatedBus) Search(alarmOnly bool) ([]onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if alarmOnly {
		return nil, nil
	}
	out := make([]onewire.Address, 0, len(b.devices))
	for _, d := range b.devices {
		out = append(out, d.addr)
	}
	if b.searchFaults > 0 {
		b.searchFaults--
		if len(out) > 1 {
			out = out[:1]
		}
		return out, errSimulatedSearch
	}
	return out, nil
}

// Tx implements onewire.Bus for the Skip ROM + Convert T broadcast and the
// Match ROM + Read Scratchpad transaction.
func (b *SimulatedBus) Tx(w, r []byte, _ onewire.Pullup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case bytes.Equal(w, []byte{cmdSkipROM, cmdConvertT}) && len(r) == 0:
		if b.convertFault > 0 {
			b.convertFault--
			return errSimulatedConvert
		}
		b.convert()
		return nil
	case len(w) == 10 && w[0] == 0x55 && w[9] == cmdReadScratchpad && len(r) == scratchpadLen:
		var a onewire.Address
		for i := 8; i >= 1; i-- {
			a = a<<8 | onewire.Address(w[i])
		}
		d := b.find(a)
		if d == nil || !d.thermo {
			// nobody drives the bus: every bit reads as 1
			for i := range r {
				r[i] = 0xff
			}
			return nil
		}
		if d.readFaults > 0 {
			d.readFaults--
			return errSimulatedRead
		}
		copy(r, scratchpad(d.register))
		return nil
	}
	return fmt.Errorf("simulation: unsupported transaction w=%#v r=%d", w, len(r))
}

func (b *SimulatedBus) convert() {
	for _, d := range b.devices {
		if !d.thermo {
			continue
		}
		if b.drift > 0 {
			d.celsius += (b.rnd.Float32()*2 - 1) * b.drift
			d.celsius = math32.Max(-55, math32.Min(125, d.celsius))
		}
		d.register = int16(math32.Round(d.celsius * 16))
	}
}

func (b *SimulatedBus) find(a onewire.Address) *simDevice {
	for _, d := range b.devices {
		if d.addr == a {
			return d
		}
	}
	return nil
}

// scratchpad lays out a 12-bit DS18B20 scratchpad with its CRC.
func scratchpad(register int16) []byte {
	sp := []byte{byte(register), byte(uint16(register) >> 8), 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10, 0}
	sp[8] = onewire.CalcCRC(sp[:8])
	return sp
}
