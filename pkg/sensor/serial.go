package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/onewire"
)

// A UART with TX and RX tied to the one-wire line (DS9097 style adapter)
// can generate bus timing: at 9600 baud a 0xF0 byte is a reset pulse and
// the echo reveals presence pulses; at 115200 baud every byte is one time
// slot, 0xFF writes a 1 (or reads), 0x00 writes a 0.
var (
	resetMode = &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	slotMode  = &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
)

const (
	resetPulse        = 0xf0
	slotOne           = 0xff
	slotZero          = 0x00
	serialReadTimeout = 100 * time.Millisecond
)

var errSerialTimeout = errors.New("serial echo timeout")

type noPresenceError struct{}

func (noPresenceError) Error() string   { return "onewire: no presence pulse after reset" }
func (noPresenceError) NoDevices() bool { return true }

type shortedError struct{}

func (shortedError) Error() string   { return "onewire: bus shorted" }
func (shortedError) IsShorted() bool { return true }
func (shortedError) BusError() bool  { return true }

// SerialBus is a one-wire bus master driven through a serial port. It
// cannot provide a strong pull-up, so sensors must be externally powered.
type SerialBus struct {
	mu   sync.Mutex
	name string
	port serial.Port
}

// OpenSerialBus opens a serial device such as /dev/ttyUSB0 as a one-wire
// bus.
func OpenSerialBus(name string) (*SerialBus, error) {
	port, err := serial.Open(name, slotMode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serial read timeout: %w", err)
	}
	return newSerialBus(name, port), nil
}

func newSerialBus(name string, port serial.Port) *SerialBus {
	return &SerialBus{name: name, port: port}
}

func (s *SerialBus) String() string { return "serial-onewire(" + s.name + ")" }

func (s *SerialBus) Close() error { return s.port.Close() }

// Tx implements onewire.Bus: reset, write w, then read len(r) bytes.
func (s *SerialBus) Tx(w, r []byte, _ onewire.Pullup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reset(); err != nil {
		return err
	}
	for _, b := range w {
		if _, err := s.byteSlots(b); err != nil {
			return err
		}
	}
	for i := range r {
		v, err := s.byteSlots(0xff)
		if err != nil {
			return err
		}
		r[i] = v
	}
	return nil
}

// Search implements onewire.Bus through onewire.Search.
func (s *SerialBus) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(s, alarmOnly)
}

// SearchTriplet implements onewire.BusSearcher: read the id bit and its
// complement, then write the chosen direction.
func (s *SerialBus) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	echo, err := s.exchange([]byte{slotOne, slotOne})
	if err != nil {
		return onewire.TripletResult{}, err
	}
	res := onewire.TripletResult{GotZero: echo[0] != slotOne, GotOne: echo[1] != slotOne}
	switch {
	case res.GotZero && res.GotOne:
		res.Taken = direction & 1
	case res.GotOne:
		res.Taken = 1
	}
	slot := byte(slotZero)
	if res.Taken == 1 {
		slot = slotOne
	}
	if _, err := s.exchange([]byte{slot}); err != nil {
		return onewire.TripletResult{}, err
	}
	return res, nil
}

func (s *SerialBus) reset() error {
	if err := s.port.SetMode(resetMode); err != nil {
		return fmt.Errorf("serial reset mode: %w", err)
	}
	echo, err := s.exchange([]byte{resetPulse})
	if merr := s.port.SetMode(slotMode); merr != nil && err == nil {
		err = fmt.Errorf("serial slot mode: %w", merr)
	}
	if err != nil {
		return err
	}
	switch echo[0] {
	case resetPulse:
		return noPresenceError{}
	case 0x00:
		return shortedError{}
	}
	return nil
}

// byteSlots sends one byte LSB first as eight time slots and returns what
// was sampled on the line.
func (s *SerialBus) byteSlots(v byte) (byte, error) {
	var out [8]byte
	for i := range out {
		if v>>i&1 == 1 {
			out[i] = slotOne
		}
	}
	echo, err := s.exchange(out[:])
	if err != nil {
		return 0, err
	}
	var in byte
	for i, e := range echo {
		if e == slotOne {
			in |= 1 << i
		}
	}
	return in, nil
}

// exchange writes buf and reads back the same number of echoed bytes.
func (s *SerialBus) exchange(buf []byte) ([]byte, error) {
	if err := s.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("serial flush: %w", err)
	}
	if _, err := s.port.Write(buf); err != nil {
		return nil, fmt.Errorf("serial write: %w", err)
	}
	echo := make([]byte, len(buf))
	for got := 0; got < len(echo); {
		n, err := s.port.Read(echo[got:])
		if err != nil {
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			return nil, errSerialTimeout
		}
		got += n
	}
	return echo, nil
}
