package tlv

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/devmon-project/devmon-go/pkg/log"
)

// MaxLogFrameDataSize is the maximum frame data size included in log events.
// Larger frames are truncated in the event.
const MaxLogFrameDataSize = 4096

// Framing errors.
var (
	// ErrConnectionClosed indicates the peer closed the stream cleanly
	// between frames. It matches io.EOF under errors.Is.
	ErrConnectionClosed = fmt.Errorf("tlv: connection closed: %w", io.EOF)

	// ErrTruncatedFrame indicates the stream ended inside a frame.
	ErrTruncatedFrame = errors.New("tlv: truncated frame")

	// ErrFrameTooLarge indicates a frame whose length exceeds the reader's
	// maximum. The remainder of the frame is left unread.
	ErrFrameTooLarge = errors.New("tlv: frame too large")
)

// FrameReader reads TLV frames from an underlying stream.
type FrameReader struct {
	r            io.Reader
	maxFrameSize int
	header       [HeaderSize]byte

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameReader creates a frame reader accepting values up to
// DefaultMaxFrameSize bytes.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxFrameSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom maximum
// value size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{
		r:            r,
		maxFrameSize: maxSize,
	}
}

// SetLogger configures protocol capture for this reader.
// Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// MaxFrameSize returns the largest value size the reader accepts.
func (fr *FrameReader) MaxFrameSize() int {
	return fr.maxFrameSize
}

// ReadFrame reads exactly one frame. Partial reads from the underlying
// stream are reassembled; the caller never sees a partial frame.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		if err == io.EOF {
			return Frame{}, ErrConnectionClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: short header", ErrTruncatedFrame)
		}
		return Frame{}, fmt.Errorf("failed to read frame header: %w", err)
	}

	typ, length := parseHeader(fr.header[:])
	if int(length) > fr.maxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.maxFrameSize)
	}

	value := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, value); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
				return Frame{}, fmt.Errorf("%w: short value", ErrTruncatedFrame)
			}
			return Frame{}, fmt.Errorf("failed to read frame value: %w", err)
		}
	}

	f := Frame{Type: typ, Value: value}
	if fr.logger != nil {
		fr.logger.Log(makeFrameEvent(fr.connID, f, log.DirectionIn))
	}
	return f, nil
}

// FrameWriter writes TLV frames to an underlying stream.
type FrameWriter struct {
	w  io.Writer
	mu sync.Mutex

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// SetLogger configures protocol capture for this writer.
// Pass nil to disable logging.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes one frame. Header and value go out in a single buffer,
// and short writes are continued until the whole frame is written.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(f Frame) error {
	buf, err := Encode(f.Type, f.Value)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := writeAll(fw.w, buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if fw.logger != nil {
		fw.logger.Log(makeFrameEvent(fw.connID, f, log.DirectionOut))
	}
	return nil
}

func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// Framer combines frame reading and writing on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxFrameSize)
}

// NewFramerWithMaxSize creates a framer with a custom maximum value size for
// incoming frames.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize int) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriter(rw),
	}
}

// SetLogger configures logging for both reader and writer.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}

func makeFrameEvent(connID string, f Frame, direction log.Direction) log.Event {
	data := f.Value
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Type:      uint16(f.Type),
			Size:      f.Len(),
			Data:      data,
			Truncated: truncated,
		},
	}
}
