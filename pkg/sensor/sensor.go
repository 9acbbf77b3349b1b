package sensor

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/onewire"
)

// FamilyDS18B20 is the one-wire family code of the DS18B20 thermometer.
const FamilyDS18B20 byte = 0x28

// ConversionTime is the worst case (12-bit) DS18B20 conversion time. Reads
// issued earlier return the previous measurement.
const ConversionTime = 750 * time.Millisecond

// Handle is a discovered sensor. It can only be obtained from Discover and
// never changes afterwards.
type Handle struct {
	addr onewire.Address
}

// Address returns the 64-bit ROM address of the sensor.
func (h Handle) Address() onewire.Address { return h.addr }

// Family returns the family code stored in the low byte of the address.
func (h Handle) Family() byte { return FamilyOf(h.addr) }

func (h Handle) String() string { return FormatAddress(h.addr) }

// Reading is one temperature sample of one sensor.
type Reading struct {
	Address onewire.Address `json:"address"`
	Celsius float32         `json:"temperature"`
}

// ReadingSet holds one reading per discovered sensor, in discovery order,
// for a single sampling cycle. A set is only produced when every sensor was
// read successfully.
type ReadingSet struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Readings []Reading `json:"readings"`
}

// Temperatures returns the temperatures of the set in order.
func (s ReadingSet) Temperatures() []float32 {
	out := make([]float32, len(s.Readings))
	for i, r := range s.Readings {
		out[i] = r.Celsius
	}
	return out
}

// BusError reports a failed one-wire transaction. It implements the
// BusError convention of periph.io/x/conn/v3/onewire.
type BusError struct {
	Op   string
	Addr onewire.Address
	Err  error
}

func (e *BusError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("onewire %s %s: %v", e.Op, FormatAddress(e.Addr), e.Err)
	}
	return fmt.Sprintf("onewire %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// BusError always returns true.
func (e *BusError) BusError() bool { return true }
