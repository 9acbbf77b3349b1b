package sensor

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/onewire"
)

// FamilyOf extracts the family code from a one-wire address.
func FamilyOf(a onewire.Address) byte { return byte(a) }

// addressBytes returns the ROM code in bus order: family, serial, CRC.
func addressBytes(a onewire.Address) [8]byte {
	var b [8]byte
	for i := range b {
		b[i] = byte(a >> (8 * i))
	}
	return b
}

// FormatAddress renders an address the way the Linux w1 subsystem names
// devices: "28-0000075c5e3a" (family, then the 48-bit serial).
func FormatAddress(a onewire.Address) string {
	serial := (uint64(a) >> 8) & 0xffffffffffff
	return fmt.Sprintf("%02x-%012x", FamilyOf(a), serial)
}

// ParseAddress accepts either the w1 form produced by FormatAddress (the CRC
// byte is recomputed) or a raw 64-bit value in decimal or 0x hex.
func ParseAddress(s string) (onewire.Address, error) {
	s = strings.TrimSpace(s)
	if fam, serial, ok := strings.Cut(s, "-"); ok {
		f, err := strconv.ParseUint(fam, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid family %q: %w", fam, err)
		}
		n, err := strconv.ParseUint(serial, 16, 48)
		if err != nil {
			return 0, fmt.Errorf("invalid serial %q: %w", serial, err)
		}
		return makeAddress(byte(f), n), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return onewire.Address(v), nil
}

// makeAddress builds a ROM code with a valid CRC byte.
func makeAddress(family byte, serial uint64) onewire.Address {
	a := onewire.Address(family) | onewire.Address(serial&0xffffffffffff)<<8
	b := addressBytes(a)
	crc := onewire.CalcCRC(b[:7])
	return a | onewire.Address(crc)<<56
}

// validAddress reports whether the CRC byte of the address matches.
func validAddress(a onewire.Address) bool {
	b := addressBytes(a)
	return onewire.CheckCRC(b[:])
}
