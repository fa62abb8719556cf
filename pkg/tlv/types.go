package tlv

import "fmt"

// Type identifies the meaning of a frame's value.
type Type uint16

// Frame types.
const (
	TypeDiscoverRequest  Type = 0x01
	TypeDiscoverResponse Type = 0x02
	TypeListRequest      Type = 0x10
	TypeListResponse     Type = 0x11
	TypeGetRequest       Type = 0x13
	TypeGetResponse      Type = 0x14
	TypeSetRequest       Type = 0x15
	TypeSetResponse      Type = 0x16
)

var typeNames = map[Type]string{
	TypeDiscoverRequest:  "DISCOVER_REQUEST",
	TypeDiscoverResponse: "DISCOVER_RESPONSE",
	TypeListRequest:      "LIST_REQUEST",
	TypeListResponse:     "LIST_RESPONSE",
	TypeGetRequest:       "GET_REQUEST",
	TypeGetResponse:      "GET_RESPONSE",
	TypeSetRequest:       "SET_REQUEST",
	TypeSetResponse:      "SET_RESPONSE",
}

// String returns the protocol name of the type, or its hex code if unknown.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04x)", uint16(t))
}

// Known reports whether t is one of the defined frame types.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Frame is one decoded TLV unit.
type Frame struct {
	Type  Type
	Value []byte
}

// Len returns the encoded size of the frame including its header.
func (f Frame) Len() int {
	return HeaderSize + len(f.Value)
}

// String returns a short description used in logs.
func (f Frame) String() string {
	return fmt.Sprintf("%s len=%d", f.Type, len(f.Value))
}
