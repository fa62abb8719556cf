package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		value []byte
	}{
		{name: "empty value", typ: TypeListRequest, value: nil},
		{name: "get id", typ: TypeGetRequest, value: []byte{0x00, 0x00, 0x00, 0x01}},
		{name: "unknown type", typ: Type(0xBEEF), value: []byte("payload")},
		{name: "binary data", typ: TypeListResponse, value: []byte{0x00, 0xFF, 0x7F, 0x80}},
		{name: "max size value", typ: TypeListResponse, value: bytes.Repeat([]byte{0xAB}, MaxValueSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.typ, tt.value)
			require.NoError(t, err)
			require.Len(t, buf, HeaderSize+len(tt.value))

			f, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, f.Type)
			assert.Len(t, f.Value, len(tt.value))
			assert.True(t, bytes.Equal(tt.value, f.Value))
		})
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	buf, err := Encode(TypeSetRequest, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x15, 0x00, 0x03, 1, 2, 3}, buf)
}

func TestEncodeOverflow(t *testing.T) {
	_, err := Encode(TypeListResponse, make([]byte, MaxValueSize+1))
	assert.True(t, errors.Is(err, ErrEncodeOverflow), "got %v", err)
}

func TestEncodeInto(t *testing.T) {
	dst := make([]byte, 16)
	n, err := EncodeInto(dst, TypeDiscoverResponse, []byte{0x13, 0x89})
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x02, 0x13, 0x89}, dst[:n])

	_, err = EncodeInto(make([]byte, 5), TypeDiscoverResponse, []byte{0x13, 0x89})
	assert.ErrorIs(t, err, ErrEncodeOverflow)

	_, err = EncodeInto(make([]byte, 3), TypeDiscoverRequest, nil)
	assert.ErrorIs(t, err, ErrEncodeOverflow)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{name: "empty", buf: nil},
		{name: "short header", buf: []byte{0x00, 0x01, 0x00}},
		{name: "length beyond buffer", buf: []byte{0x00, 0x13, 0x00, 0x04, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x00, 0x00, 0xFF, 0xFF}
	f, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, TypeDiscoverRequest, f.Type)
	assert.Empty(t, f.Value)
}

func TestDecodeValueCannotGrowIntoTrailer(t *testing.T) {
	buf := []byte{0x00, 0x02, 0x00, 0x02, 0x13, 0x89, 0xAA}
	f, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, cap(f.Value))
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "GET_REQUEST", TypeGetRequest.String())
	assert.Equal(t, "UNKNOWN(0x00ff)", Type(0xFF).String())
	assert.True(t, TypeSetResponse.Known())
	assert.False(t, Type(0x12).Known())
}
