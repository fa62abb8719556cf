package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
	"github.com/google/uuid"
)

// Client errors.
var (
	// ErrUnexpectedResponse indicates a response of the wrong type or
	// length for the request that was sent.
	ErrUnexpectedResponse = errors.New("transport: unexpected response")

	// ErrClientClosed is returned by requests on a closed client.
	ErrClientClosed = errors.New("transport: client closed")
)

// ClientConfig configures a devmon client.
type ClientConfig struct {
	// ConnectTimeout bounds Dial when ctx has no deadline (default: 10s).
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request/response exchange (default: 10s).
	RequestTimeout time.Duration

	// MaxFrameSize bounds the value length of incoming frames
	// (default: tlv.DefaultMaxFrameSize).
	MaxFrameSize int

	// ProtocolLogger captures frames sent and received (optional).
	ProtocolLogger log.Logger
}

// Client is a synchronous request/response connection to a devmon server.
// Requests are serialized; a Client is safe for concurrent use.
type Client struct {
	conn    net.Conn
	framer  *tlv.Framer
	config  ClientConfig
	connID  string
	closeCh chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the server at address.
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}

	c := &Client{
		conn:    conn,
		framer:  tlv.NewFramerWithMaxSize(conn, config.MaxFrameSize),
		config:  config,
		connID:  uuid.New().String(),
		closeCh: make(chan struct{}),
	}
	if config.ProtocolLogger != nil {
		c.framer.SetLogger(config.ProtocolLogger, c.connID)
	}
	return c, nil
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnID returns the identifier used for this connection in protocol logs.
func (c *Client) ConnID() string {
	return c.connID
}

// List returns all device records in registry order.
func (c *Client) List(ctx context.Context) ([]device.Record, error) {
	resp, err := c.Do(ctx, tlv.Frame{Type: tlv.TypeListRequest}, tlv.TypeListResponse)
	if err != nil {
		return nil, err
	}
	records, err := device.DecodeRecords(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return records, nil
}

// Get returns the record for id. found is false if the server does not
// know the device.
func (c *Client) Get(ctx context.Context, id uint32) (rec device.Record, found bool, err error) {
	req := tlv.Frame{Type: tlv.TypeGetRequest, Value: binary.BigEndian.AppendUint32(nil, id)}
	resp, err := c.Do(ctx, req, tlv.TypeGetResponse)
	if err != nil {
		return device.Record{}, false, err
	}
	switch len(resp.Value) {
	case 0:
		return device.Record{}, false, nil
	case device.RecordSize:
		if err := rec.UnmarshalBinary(resp.Value); err != nil {
			return device.Record{}, false, err
		}
		return rec, true, nil
	default:
		return device.Record{}, false, fmt.Errorf("%w: GET_RESPONSE length %d", ErrUnexpectedResponse, len(resp.Value))
	}
}

// Set updates the temperature of device id and returns the server's result
// code. Codes the client does not know are returned as-is.
func (c *Client) Set(ctx context.Context, id uint32, temperature float32) (device.SetResult, error) {
	v := binary.BigEndian.AppendUint32(nil, id)
	v = binary.BigEndian.AppendUint32(v, math.Float32bits(temperature))

	resp, err := c.Do(ctx, tlv.Frame{Type: tlv.TypeSetRequest, Value: v}, tlv.TypeSetResponse)
	if err != nil {
		return 0, err
	}
	if len(resp.Value) != 1 {
		return 0, fmt.Errorf("%w: SET_RESPONSE length %d", ErrUnexpectedResponse, len(resp.Value))
	}
	return device.SetResult(resp.Value[0]), nil
}

// Do sends req and reads one response frame, which must be of type want.
func (c *Client) Do(ctx context.Context, req tlv.Frame, want tlv.Type) (tlv.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeCh:
		return tlv.Frame{}, ErrClientClosed
	default:
	}

	deadline := time.Now().Add(c.config.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return tlv.Frame{}, err
	}
	defer c.conn.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.framer.WriteFrame(req); err != nil {
		return tlv.Frame{}, c.ctxErr(ctx, fmt.Errorf("transport: send %s: %w", req.Type, err))
	}
	resp, err := c.framer.ReadFrame()
	if err != nil {
		return tlv.Frame{}, c.ctxErr(ctx, fmt.Errorf("transport: await %s: %w", want, err))
	}
	if resp.Type != want {
		return tlv.Frame{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, resp.Type, want)
	}
	return resp, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
