package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// RecordSize is the wire size of one record:
// id (u32 BE), temperature (f32 bits BE), battery (u8), status (u8).
const RecordSize = 10

// MaxRecords is the largest device set whose LIST_RESPONSE still fits the
// 16-bit TLV length field.
const MaxRecords = math.MaxUint16 / RecordSize

// ErrRecordLength indicates a buffer whose length is not a valid record
// encoding.
var ErrRecordLength = errors.New("device: invalid record length")

// Status is the operational state reported by a device.
type Status uint8

// Device states.
const (
	StatusOffline Status = 0
	StatusOnline  Status = 1
	StatusError   Status = 2
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "OFFLINE"
	case StatusOnline:
		return "ONLINE"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// ParseStatus parses a status name as written by String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "OFFLINE", "offline":
		return StatusOffline, nil
	case "ONLINE", "online":
		return StatusOnline, nil
	case "ERROR", "error":
		return StatusError, nil
	default:
		return 0, fmt.Errorf("device: unknown status %q", s)
	}
}

// Record is the status of one device.
type Record struct {
	ID          uint32
	Temperature float32
	Battery     uint8
	Status      Status
}

// String formats the record the way the interactive client prints it.
func (r Record) String() string {
	return fmt.Sprintf("id=%d  temp=%.2f C  batt=%d%%  status=%s", r.ID, r.Temperature, r.Battery, r.Status)
}

// AppendBinary appends the wire encoding of r to b.
func (r Record) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, r.ID)
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(r.Temperature))
	return append(b, r.Battery, byte(r.Status))
}

// MarshalBinary returns the 10-byte wire encoding of r.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RecordSize)), nil
}

// UnmarshalBinary decodes exactly one record.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrRecordLength, len(data), RecordSize)
	}
	r.ID = binary.BigEndian.Uint32(data[0:4])
	r.Temperature = math.Float32frombits(binary.BigEndian.Uint32(data[4:8]))
	r.Battery = data[8]
	r.Status = Status(data[9])
	return nil
}

// EncodeRecords concatenates the wire encodings of records in order.
func EncodeRecords(records []Record) []byte {
	b := make([]byte, 0, len(records)*RecordSize)
	for _, r := range records {
		b = r.AppendBinary(b)
	}
	return b
}

// DecodeRecords splits a LIST payload into records. The payload length must
// be a multiple of RecordSize.
func DecodeRecords(data []byte) ([]Record, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrRecordLength, len(data), RecordSize)
	}
	records := make([]Record, len(data)/RecordSize)
	for i := range records {
		off := i * RecordSize
		if err := records[i].UnmarshalBinary(data[off : off+RecordSize]); err != nil {
			return nil, err
		}
	}
	return records, nil
}
