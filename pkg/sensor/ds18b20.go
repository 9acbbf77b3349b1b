package sensor

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/onewire"
)

// DS18B20 function commands.
const (
	cmdSkipROM         = 0xcc
	cmdConvertT        = 0x44
	cmdReadScratchpad  = 0xbe
	scratchpadLen      = 9
	scratchpadConfig   = 4
	resolutionBitsMask = 0x3
)

var (
	errNoResponse    = errors.New("no response from device")
	errScratchpadCRC = errors.New("scratchpad CRC mismatch")
)

// ConvertAll starts a temperature conversion on every device of the bus at
// once. The bus is left with a strong pull-up so parasite-powered devices
// can complete the conversion. Callers must wait ConversionTime before
// reading.
func ConvertAll(bus onewire.Bus) error {
	if err := bus.Tx([]byte{cmdSkipROM, cmdConvertT}, nil, onewire.StrongPullup); err != nil {
		return &BusError{Op: "convert", Err: err}
	}
	return nil
}

// ReadCelsius reads the scratchpad of one sensor and returns the last
// converted temperature.
func ReadCelsius(bus onewire.Bus, h Handle) (float32, error) {
	dev := onewire.Dev{Bus: bus, Addr: h.addr}
	var sp [scratchpadLen]byte
	if err := dev.Tx([]byte{cmdReadScratchpad}, sp[:]); err != nil {
		return 0, &BusError{Op: "read", Addr: h.addr, Err: err}
	}
	c, err := decodeScratchpad(sp[:])
	if err != nil {
		return 0, &BusError{Op: "read", Addr: h.addr, Err: err}
	}
	return c, nil
}

// decodeScratchpad validates a 9-byte scratchpad and converts the
// temperature register. Bits below the configured resolution are
// undefined on the device and are cleared.
func decodeScratchpad(sp []byte) (float32, error) {
	if len(sp) != scratchpadLen {
		return 0, fmt.Errorf("scratchpad length %d, want %d", len(sp), scratchpadLen)
	}
	if uniform(sp, 0x00) || uniform(sp, 0xff) {
		return 0, errNoResponse
	}
	if !onewire.CheckCRC(sp) {
		return 0, errScratchpadCRC
	}
	raw := int16(uint16(sp[0]) | uint16(sp[1])<<8)
	switch (sp[scratchpadConfig] >> 5) & resolutionBitsMask {
	case 0: // 9 bit
		raw &^= 7
	case 1: // 10 bit
		raw &^= 3
	case 2: // 11 bit
		raw &^= 1
	}
	return float32(raw) / 16, nil
}

func uniform(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}
