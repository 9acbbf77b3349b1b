package httppost

import (
	"errors"
	"strconv"

	"github.com/chewxy/math32"
)

var (
	// ErrCapacity is returned when a payload or request does not fit its
	// buffer. Nothing is truncated.
	ErrCapacity = errors.New("buffer capacity exceeded")
	// ErrNotFinite rejects NaN and infinite temperatures, which JSON cannot
	// represent.
	ErrNotFinite = errors.New("temperature is not finite")
)

// maxFloatWidth bounds the shortest round-trip text of any float32,
// sign and exponent included ("-1.17549435e-38" is 15 bytes).
const maxFloatWidth = 16

const (
	payloadPrefix = `{ "temperature": [`
	payloadSuffix = `]}`
)

// Buffer is a byte buffer that refuses to grow past the capacity it was
// created with.
type Buffer struct {
	b []byte
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{b: make([]byte, 0, capacity)}
}

// Write appends p entirely or not at all.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(b.b)+len(p) > cap(b.b) {
		return 0, ErrCapacity
	}
	b.b = append(b.b, p...)
	return len(p), nil
}

func (b *Buffer) WriteString(s string) (int, error) {
	if len(b.b)+len(s) > cap(b.b) {
		return 0, ErrCapacity
	}
	b.b = append(b.b, s...)
	return len(s), nil
}

func (b *Buffer) Bytes() []byte { return b.b }

func (b *Buffer) Len() int { return len(b.b) }

func (b *Buffer) Cap() int { return cap(b.b) }

// PayloadCapacity is the worst case payload size for n temperatures.
func PayloadCapacity(n int) int {
	sep := 0
	if n > 1 {
		sep = n - 1
	}
	return len(payloadPrefix) + n*maxFloatWidth + sep + len(payloadSuffix)
}

// EncodePayload writes the JSON body for temps into dst. Every value is the
// shortest decimal text that parses back to the same float32.
func EncodePayload(dst *Buffer, temps []float32) error {
	if _, err := dst.WriteString(payloadPrefix); err != nil {
		return err
	}
	var scratch [32]byte
	for i, t := range temps {
		if math32.IsNaN(t) || math32.IsInf(t, 0) {
			return ErrNotFinite
		}
		num := scratch[:0]
		if i > 0 {
			num = append(num, ',')
		}
		num = strconv.AppendFloat(num, float64(t), 'g', -1, 32)
		if _, err := dst.Write(num); err != nil {
			return err
		}
	}
	_, err := dst.WriteString(payloadSuffix)
	return err
}
