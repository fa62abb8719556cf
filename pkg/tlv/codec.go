package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Codec constants.
const (
	// HeaderSize is the size of the type and length fields in bytes.
	HeaderSize = 4

	// MaxValueSize is the largest value the 16-bit length field can describe.
	MaxValueSize = math.MaxUint16

	// DefaultMaxFrameSize is the default maximum value size accepted by a
	// FrameReader. It equals MaxValueSize so a reader never rejects a frame a
	// conforming writer can produce.
	DefaultMaxFrameSize = MaxValueSize
)

// Codec errors.
var (
	// ErrEncodeOverflow indicates the value does not fit the length field or
	// the destination buffer.
	ErrEncodeOverflow = errors.New("tlv: encode overflow")

	// ErrMalformed indicates a buffer too short for the frame it describes.
	ErrMalformed = errors.New("tlv: malformed frame")
)

// Encode returns the wire encoding of a frame with the given type and value.
func Encode(typ Type, value []byte) ([]byte, error) {
	if len(value) > MaxValueSize {
		return nil, fmt.Errorf("%w: value length %d > %d", ErrEncodeOverflow, len(value), MaxValueSize)
	}
	buf := make([]byte, HeaderSize+len(value))
	putHeader(buf, typ, len(value))
	copy(buf[HeaderSize:], value)
	return buf, nil
}

// EncodeInto writes the frame into dst and returns the number of bytes used.
// dst must hold the header plus the full value.
func EncodeInto(dst []byte, typ Type, value []byte) (int, error) {
	if len(value) > MaxValueSize {
		return 0, fmt.Errorf("%w: value length %d > %d", ErrEncodeOverflow, len(value), MaxValueSize)
	}
	n := HeaderSize + len(value)
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d bytes, buffer has %d", ErrEncodeOverflow, n, len(dst))
	}
	putHeader(dst, typ, len(value))
	copy(dst[HeaderSize:n], value)
	return n, nil
}

// Decode parses one frame from the start of buf. The returned value aliases
// buf. Bytes following the frame are ignored.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformed, len(buf), HeaderSize)
	}
	typ, length := parseHeader(buf)
	end := HeaderSize + int(length)
	if len(buf) < end {
		return Frame{}, fmt.Errorf("%w: length %d exceeds %d available bytes", ErrMalformed, length, len(buf)-HeaderSize)
	}
	return Frame{Type: typ, Value: buf[HeaderSize:end:end]}, nil
}

func putHeader(dst []byte, typ Type, length int) {
	binary.BigEndian.PutUint16(dst[0:2], uint16(typ))
	binary.BigEndian.PutUint16(dst[2:4], uint16(length))
}

func parseHeader(src []byte) (Type, uint16) {
	return Type(binary.BigEndian.Uint16(src[0:2])), binary.BigEndian.Uint16(src[2:4])
}
