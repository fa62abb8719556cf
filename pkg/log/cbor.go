package log

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// logEncMode is the CBOR encoder mode for capture events: nanosecond
// timestamps, deterministic key order.
var logEncMode cbor.EncMode

// logDecMode is the CBOR decoder mode for capture events.
var logDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	logEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	logDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// EncodeEvent encodes an Event to CBOR bytes.
func EncodeEvent(event Event) ([]byte, error) {
	return logEncMode.Marshal(event)
}

// DecodeEvent decodes CBOR bytes into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := logDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// A capture file is a fixed header followed by a stream of CBOR events.
// The header is the magic "DEVMONCAP" and one format version byte.
const (
	captureMagic = "DEVMONCAP"

	// CaptureVersion is the capture format written by FileLogger.
	CaptureVersion = 1

	// CaptureHeaderSize is the length of the capture file header.
	CaptureHeaderSize = len(captureMagic) + 1
)

// Capture file errors.
var (
	// ErrNotCapture indicates a file that does not start with the capture
	// header.
	ErrNotCapture = errors.New("log: not a devmon capture file")

	// ErrCaptureVersion indicates a capture written in a format version this
	// reader does not understand.
	ErrCaptureVersion = errors.New("log: unsupported capture version")
)

func captureHeader() []byte {
	return append([]byte(captureMagic), CaptureVersion)
}

// checkCaptureHeader validates a header read from the start of a file.
func checkCaptureHeader(hdr []byte) error {
	if len(hdr) < CaptureHeaderSize || !bytes.Equal(hdr[:len(captureMagic)], []byte(captureMagic)) {
		return ErrNotCapture
	}
	if v := hdr[len(captureMagic)]; v != CaptureVersion {
		return fmt.Errorf("%w: %d", ErrCaptureVersion, v)
	}
	return nil
}

// NewEncoder writes the capture header to w and returns an event encoder
// for the rest of the stream.
func NewEncoder(w io.Writer) (*cbor.Encoder, error) {
	if _, err := w.Write(captureHeader()); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return logEncMode.NewEncoder(w), nil
}

// NewDecoder reads and checks the capture header from r and returns an
// event decoder for the rest of the stream.
func NewDecoder(r io.Reader) (*cbor.Decoder, error) {
	hdr := make([]byte, CaptureHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotCapture
		}
		return nil, err
	}
	if err := checkCaptureHeader(hdr); err != nil {
		return nil, err
	}
	return logDecMode.NewDecoder(r), nil
}
