package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/onewire"
)

func TestFormatAndParseAddress(t *testing.T) {
	a := makeAddress(FamilyDS18B20, 0x075c5e3a)
	assert.True(t, validAddress(a))
	assert.Equal(t, "28-0000075c5e3a", FormatAddress(a))

	got, err := ParseAddress("28-0000075c5e3a")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = ParseAddress("0x28")
	require.NoError(t, err)
	assert.Equal(t, onewire.Address(0x28), got)

	for _, bad := range []string{"zz-00", "28-xyz", "nope", "28-1000000000000"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddressBytesOrder(t *testing.T) {
	a := makeAddress(0x10, 0x0102030405)
	b := addressBytes(a)
	assert.Equal(t, byte(0x10), b[0])
	assert.Equal(t, byte(0x05), b[1])
	assert.Equal(t, byte(0x01), b[5])
	assert.Equal(t, onewire.CalcCRC(b[:7]), b[7])
	assert.Equal(t, byte(0x10), FamilyOf(a))
}

func TestReadingSetTemperatures(t *testing.T) {
	s := ReadingSet{Readings: []Reading{{Address: 1, Celsius: 23.5}, {Address: 2, Celsius: 24.125}}}
	assert.Equal(t, []float32{23.5, 24.125}, s.Temperatures())
}

func TestBusErrorMessage(t *testing.T) {
	a := makeAddress(FamilyDS18B20, 0x0a)
	err := &BusError{Op: "read", Addr: a, Err: errNoResponse}
	assert.Equal(t, "onewire read 28-00000000000a: no response from device", err.Error())
	assert.True(t, err.BusError())
	assert.Equal(t, "onewire search: no response from device", (&BusError{Op: "search", Err: errNoResponse}).Error())
}
