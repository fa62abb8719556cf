package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// DefaultPort is the default TCP service port.
const DefaultPort = 5001

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Handler executes one request. ok is false when no response must be sent.
// Implemented by dispatch.Dispatcher.
type Handler interface {
	Dispatch(ctx context.Context, req tlv.Frame) (resp tlv.Frame, ok bool)
}

// ServerConfig configures a devmon TCP server.
type ServerConfig struct {
	// Address to listen on (e.g., ":5001" or "127.0.0.1:0").
	Address string

	// Handler executes requests. Required.
	Handler Handler

	// MaxFrameSize bounds the value length of incoming frames
	// (default: tlv.DefaultMaxFrameSize).
	MaxFrameSize int

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger captures frames and state changes (optional).
	ProtocolLogger log.Logger

	// OnConnect is called when a new connection is accepted.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called after a connection reaches a terminal state.
	// err is nil for a clean close.
	OnDisconnect func(conn *ServerConn, state ConnState, err error)

	// OnRequest is called after each request has been dispatched and its
	// response, if any, written.
	OnRequest func(conn *ServerConn, req tlv.Frame, responded bool, elapsed time.Duration)
}

// Server accepts TCP connections and serves TLV requests on each of them.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener

	// Active connections
	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	// State
	running    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	handlers   *conc.WaitGroup
	acceptDone chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new server. It does not bind until Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, errors.New("transport: handler is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = tlv.DefaultMaxFrameSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		config:   config,
		logger:   logger.With(slog.String("component", "listener")),
		conns:    make(map[*ServerConn]struct{}),
		handlers: conc.NewWaitGroup(),
	}, nil
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("transport: server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.acceptDone = make(chan struct{})
	s.running.Store(true)

	s.logger.Info("listening", slog.String("address", listener.Addr().String()))
	s.logListenerState("", "LISTENING", "")

	go s.acceptLoop()

	return nil
}

// Run starts the server and blocks until ctx is cancelled, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop closes the listener and every open connection, then waits for all
// connection handlers to finish.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.cancel()

		err = s.listener.Close()
		<-s.acceptDone

		s.connsMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()

		s.handlers.Wait()

		s.logListenerState("LISTENING", "STOPPED", "")
		s.logger.Info("listener stopped")
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts connections until the listener is closed. Transient
// accept errors are retried with a growing delay.
func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			s.logger.Warn("accept failed, retrying",
				slog.Any("error", err),
				slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		delay = 0

		sconn := s.newConn(conn)
		s.handlers.Go(func() {
			s.handleConnection(sconn)
		})
	}
}

func (s *Server) newConn(conn net.Conn) *ServerConn {
	connID := uuid.New().String()

	framer := tlv.NewFramerWithMaxSize(conn, s.config.MaxFrameSize)
	if s.config.ProtocolLogger != nil {
		framer.SetLogger(s.config.ProtocolLogger, connID)
	}

	sconn := &ServerConn{
		conn:       conn,
		framer:     framer,
		server:     s,
		connID:     connID,
		remoteAddr: conn.RemoteAddr(),
	}
	sconn.logger = s.logger.With(
		slog.String("component", "connection"),
		slog.String("conn_id", connID),
		slog.String("remote", sconn.remoteAddr.String()),
	)

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	return sconn
}

// handleConnection runs one connection to completion. A panic in the
// handler is contained to this connection.
func (s *Server) handleConnection(c *ServerConn) {
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, c)
		s.connsMu.Unlock()
	}()

	c.logger.Info("client connected")
	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	var (
		final ConnState
		cause error
	)
	var pc panics.Catcher
	pc.Try(func() {
		final, cause = c.serve(s.ctx)
	})
	if r := pc.Recovered(); r != nil {
		final, cause = StateClosedError, r.AsError()
		c.logger.Error("connection handler panicked", slog.String("panic", r.String()))
		c.setState(final, cause.Error())
	}
	c.Close()

	if cause != nil {
		c.logger.Info("client disconnected", slog.String("state", final.String()), slog.Any("error", cause))
	} else {
		c.logger.Info("client disconnected", slog.String("state", final.String()))
	}
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c, final, cause)
	}
}

func (s *Server) logListenerState(oldState, newState, reason string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		LocalRole: log.RoleServer,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityListener,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// ServerConn is one accepted client connection.
type ServerConn struct {
	conn       net.Conn
	framer     *tlv.Framer
	server     *Server
	logger     *slog.Logger
	connID     string
	remoteAddr net.Addr

	state     atomic.Int32
	opened    bool
	closeOnce sync.Once
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// State returns the current handler state.
func (c *ServerConn) State() ConnState {
	return ConnState(c.state.Load())
}

// Close closes the underlying socket. Safe to call more than once.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// serve runs the request loop and returns the terminal state. The returned
// error is nil for a clean close.
func (c *ServerConn) serve(ctx context.Context) (ConnState, error) {
	handler := c.server.config.Handler
	c.setState(StateAwaitingFrame, "")

	for {
		req, err := c.framer.ReadFrame()
		if err != nil {
			if c.closedCleanly(err) {
				c.setState(StateClosedClean, "")
				return StateClosedClean, nil
			}
			if errors.Is(err, tlv.ErrFrameTooLarge) {
				c.logger.Warn("frame too large, closing connection", slog.Any("error", err))
			}
			c.setState(StateClosedError, err.Error())
			return StateClosedError, err
		}

		c.setState(StateDispatching, "")
		start := time.Now()
		resp, ok := handler.Dispatch(ctx, req)
		if ok {
			if err := c.framer.WriteFrame(resp); err != nil {
				err = fmt.Errorf("transport: write %s: %w", resp.Type, err)
				c.setState(StateClosedError, err.Error())
				return StateClosedError, err
			}
		}
		if c.server.config.OnRequest != nil {
			c.server.config.OnRequest(c, req, ok, time.Since(start))
		}
		c.setState(StateAwaitingFrame, "")
	}
}

// closedCleanly reports whether a read error ends the connection without
// fault: the peer closed between frames, or the server is shutting down.
func (c *ServerConn) closedCleanly(err error) bool {
	if errors.Is(err, tlv.ErrConnectionClosed) {
		return true
	}
	return !c.server.running.Load() && errors.Is(err, net.ErrClosed)
}

func (c *ServerConn) setState(state ConnState, reason string) {
	old := ConnState(c.state.Swap(int32(state)))
	first := !c.opened
	c.opened = true

	// Only lifecycle edges are captured, not per-request transitions.
	if c.server.config.ProtocolLogger == nil || (!first && !state.Terminal()) {
		return
	}

	oldName := ""
	if !first {
		oldName = old.String()
	}
	c.server.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldName,
			NewState: state.String(),
			Reason:   reason,
		},
	})
}
