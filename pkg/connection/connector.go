package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/transport"
)

// Connector errors.
var (
	ErrClosed           = errors.New("connection: connector closed")
	ErrAttemptsExceeded = errors.New("connection: dial attempts exceeded")
)

// State represents the connector state.
type State uint8

const (
	// StateDisconnected indicates no open connection.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates an open connection.
	StateConnected

	// StateClosed indicates the connector has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc opens a new client connection.
type DialFunc func(ctx context.Context) (*transport.Client, error)

// ConnectorConfig configures a Connector.
type ConnectorConfig struct {
	// MaxAttempts bounds dial attempts per request (default: 5).
	MaxAttempts int

	// Backoff spaces dial attempts (default: NewBackoff()).
	Backoff *Backoff

	// OnStateChange is called on every state transition.
	OnStateChange func(oldState, newState State)

	// OnRetry is called before waiting for the next dial attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Connector holds at most one client connection and replaces it after
// failures.
type Connector struct {
	dial   DialFunc
	config ConnectorConfig

	mu     sync.Mutex
	state  State
	client *transport.Client
}

// NewConnector creates a connector. No connection is opened until the
// first request.
func NewConnector(dial DialFunc, config ConnectorConfig) *Connector {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.Backoff == nil {
		config.Backoff = NewBackoff()
	}
	return &Connector{dial: dial, config: config}
}

// State returns the current state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Do runs fn with a connected client. If fn fails on a connection that had
// already served earlier requests, the connection is assumed stale and fn
// is retried once on a fresh connection. Any failure drops the connection
// so the next call redials.
func (c *Connector) Do(ctx context.Context, fn func(*transport.Client) error) error {
	client, reused, err := c.get(ctx)
	if err != nil {
		return err
	}

	err = fn(client)
	if err == nil || errors.Is(err, transport.ErrUnexpectedResponse) || ctx.Err() != nil {
		return err
	}
	c.drop(client)
	if !reused {
		return err
	}

	client, _, err = c.get(ctx)
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		if !errors.Is(err, transport.ErrUnexpectedResponse) {
			c.drop(client)
		}
		return err
	}
	return nil
}

// Close closes the current connection and rejects further requests.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	c.setState(StateClosed)
	return err
}

// get returns the open client, dialing if needed. reused reports whether
// the client existed before this call.
func (c *Connector) get(ctx context.Context) (client *transport.Client, reused bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil, false, ErrClosed
	}
	if c.client != nil {
		return c.client, true, nil
	}

	c.setState(StateConnecting)
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		client, err := c.dial(ctx)
		if err == nil {
			c.client = client
			c.config.Backoff.Reset()
			c.setState(StateConnected)
			return client, false, nil
		}
		lastErr = err
		if attempt == c.config.MaxAttempts {
			break
		}

		delay := c.config.Backoff.Next()
		if c.config.OnRetry != nil {
			c.config.OnRetry(attempt, delay, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil, false, ctx.Err()
		}
	}

	c.setState(StateDisconnected)
	return nil, false, fmt.Errorf("%w (%d): %w", ErrAttemptsExceeded, c.config.MaxAttempts, lastErr)
}

// drop closes client if it is still the current connection.
func (c *Connector) drop(client *transport.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != client {
		return
	}
	c.client.Close()
	c.client = nil
	if c.state != StateClosed {
		c.setState(StateDisconnected)
	}
}

// setState must be called with c.mu held.
func (c *Connector) setState(s State) {
	old := c.state
	c.state = s
	if old != s && c.config.OnStateChange != nil {
		c.config.OnStateChange(old, s)
	}
}

// List returns all device records, redialing as needed.
func (c *Connector) List(ctx context.Context) ([]device.Record, error) {
	var records []device.Record
	err := c.Do(ctx, func(client *transport.Client) error {
		var err error
		records, err = client.List(ctx)
		return err
	})
	return records, err
}

// Get returns one device record, redialing as needed.
func (c *Connector) Get(ctx context.Context, id uint32) (rec device.Record, found bool, err error) {
	err = c.Do(ctx, func(client *transport.Client) error {
		var err error
		rec, found, err = client.Get(ctx, id)
		return err
	})
	return rec, found, err
}

// Set updates a device temperature, redialing as needed. A SET is
// idempotent, so retrying it on a fresh connection is safe.
func (c *Connector) Set(ctx context.Context, id uint32, temperature float32) (device.SetResult, error) {
	var result device.SetResult
	err := c.Do(ctx, func(client *transport.Client) error {
		var err error
		result, err = client.Set(ctx, id, temperature)
		return err
	})
	return result, err
}

// Compile-time interface satisfaction check.
var _ transport.DeviceClient = (*Connector)(nil)
