package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/dispatch"
	"github.com/devmon-project/devmon-go/pkg/registry"
	"github.com/devmon-project/devmon-go/pkg/transport"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			1600 * time.Millisecond,
			3200 * time.Millisecond,
			5 * time.Second,
			5 * time.Second, // Should stay at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 100; i++ {
			b.Reset()
			delay := b.Next()
			if delay < InitialBackoff || delay > InitialBackoff+InitialBackoff/4 {
				t.Fatalf("delay %v outside [%v, %v]", delay, InitialBackoff, InitialBackoff+InitialBackoff/4)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		b.Next()
		b.Next()
		b.Reset()
		if b.Current() != InitialBackoff || b.Attempts() != 0 {
			t.Errorf("after Reset: current %v, attempts %d", b.Current(), b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Millisecond, Max: 3 * time.Millisecond, Multiplier: 3})
		if d := b.Next(); d != time.Millisecond {
			t.Errorf("first = %v", d)
		}
		if d := b.Next(); d != 3*time.Millisecond {
			t.Errorf("second = %v, want capped at max", d)
		}
	})
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "DISCONNECTED",
		StateConnecting:   "CONNECTING",
		StateConnected:    "CONNECTED",
		StateClosed:       "CLOSED",
		State(42):         "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func startServer(t *testing.T) string {
	t.Helper()
	reg, err := registry.New(device.DefaultSeed())
	if err != nil {
		t.Fatal(err)
	}
	server, err := transport.NewServer(transport.ServerConfig{
		Address: "127.0.0.1:0",
		Handler: dispatch.New(reg, dispatch.Config{}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { server.Stop() })
	return server.Addr().String()
}

func fastBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond})
}

func TestConnectorDialsLazily(t *testing.T) {
	addr := startServer(t)
	var dials atomic.Int32
	c := NewConnector(func(ctx context.Context) (*transport.Client, error) {
		dials.Add(1)
		return transport.Dial(ctx, addr, transport.ClientConfig{})
	}, ConnectorConfig{})
	defer c.Close()

	if dials.Load() != 0 || c.State() != StateDisconnected {
		t.Fatal("connector dialed before first request")
	}

	for i := 0; i < 3; i++ {
		err := c.Do(context.Background(), func(client *transport.Client) error {
			_, err := client.List(context.Background())
			return err
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
	if c.State() != StateConnected {
		t.Errorf("state = %s", c.State())
	}
}

func TestConnectorRetriesStaleConnection(t *testing.T) {
	addr := startServer(t)
	var dials atomic.Int32
	c := NewConnector(func(ctx context.Context) (*transport.Client, error) {
		dials.Add(1)
		return transport.Dial(ctx, addr, transport.ClientConfig{})
	}, ConnectorConfig{Backoff: fastBackoff()})
	defer c.Close()

	var first *transport.Client
	err := c.Do(context.Background(), func(client *transport.Client) error {
		first = client
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	var records []device.Record
	err = c.Do(context.Background(), func(client *transport.Client) error {
		var err error
		records, err = client.List(context.Background())
		return err
	})
	if err != nil {
		t.Fatalf("Do after stale connection: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("records = %d", len(records))
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}
}

func TestConnectorGivesUpAfterMaxAttempts(t *testing.T) {
	dialErr := errors.New("refused")
	var retries []int
	var transitions []State
	c := NewConnector(func(context.Context) (*transport.Client, error) {
		return nil, dialErr
	}, ConnectorConfig{
		MaxAttempts: 3,
		Backoff:     fastBackoff(),
		OnRetry: func(attempt int, _ time.Duration, _ error) {
			retries = append(retries, attempt)
		},
		OnStateChange: func(_, newState State) {
			transitions = append(transitions, newState)
		},
	})

	err := c.Do(context.Background(), func(*transport.Client) error { return nil })
	if !errors.Is(err, ErrAttemptsExceeded) || !errors.Is(err, dialErr) {
		t.Fatalf("error = %v", err)
	}
	if len(retries) != 2 {
		t.Errorf("retries = %v, want 2", retries)
	}
	if len(transitions) != 2 || transitions[0] != StateConnecting || transitions[1] != StateDisconnected {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestConnectorContextCancelDuringBackoff(t *testing.T) {
	c := NewConnector(func(context.Context) (*transport.Client, error) {
		return nil, errors.New("refused")
	}, ConnectorConfig{
		MaxAttempts: 10,
		Backoff:     NewBackoffWithConfig(BackoffConfig{Initial: time.Second}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := c.Do(ctx, func(*transport.Client) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestConnectorUnexpectedResponseKeepsConnection(t *testing.T) {
	addr := startServer(t)
	var dials atomic.Int32
	c := NewConnector(func(ctx context.Context) (*transport.Client, error) {
		dials.Add(1)
		return transport.Dial(ctx, addr, transport.ClientConfig{})
	}, ConnectorConfig{})
	defer c.Close()

	protoErr := transport.ErrUnexpectedResponse
	if err := c.Do(context.Background(), func(*transport.Client) error { return protoErr }); !errors.Is(err, protoErr) {
		t.Fatalf("error = %v", err)
	}
	if err := c.Do(context.Background(), func(*transport.Client) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
}

func TestConnectorClosed(t *testing.T) {
	c := NewConnector(func(context.Context) (*transport.Client, error) {
		t.Fatal("dial after close")
		return nil, nil
	}, ConnectorConfig{})

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Do(context.Background(), func(*transport.Client) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s", c.State())
	}
}

func TestConnectorRequests(t *testing.T) {
	addr := startServer(t)
	c := NewConnector(func(ctx context.Context) (*transport.Client, error) {
		return transport.Dial(ctx, addr, transport.ClientConfig{})
	}, ConnectorConfig{})
	defer c.Close()
	ctx := context.Background()

	result, err := c.Set(ctx, 2, 21.5)
	if err != nil || result != device.SetOK {
		t.Fatalf("Set = %v, %v", result, err)
	}

	rec, found, err := c.Get(ctx, 2)
	if err != nil || !found {
		t.Fatalf("Get = %v, %v, %v", rec, found, err)
	}
	if rec.Temperature != 21.5 {
		t.Errorf("temperature = %v, want 21.5", rec.Temperature)
	}

	if _, found, err := c.Get(ctx, 99); err != nil || found {
		t.Errorf("Get(99) found=%v err=%v", found, err)
	}

	records, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 || records[1].Temperature != 21.5 {
		t.Errorf("List = %v", records)
	}
}
