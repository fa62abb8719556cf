package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
	"golang.org/x/net/ipv4"
)

// Handler builds the DISCOVER_RESPONSE frame. Implemented by
// dispatch.Dispatcher.
type Handler interface {
	DiscoverResponse() tlv.Frame
}

// ResponderConfig configures a discovery responder.
type ResponderConfig struct {
	// Group is the multicast group to join (default: DefaultGroup).
	// A unicast address binds a plain socket on that address instead,
	// which is useful on hosts without multicast routing.
	Group string

	// Port is the UDP port (default: DefaultPort). Zero keeps the default;
	// use -1 to bind an ephemeral port.
	Port int

	// Interface restricts the group membership to one network interface.
	// Empty means the system default.
	Interface string

	// Handler builds the response. Required.
	Handler Handler

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger captures datagrams received and sent (optional).
	ProtocolLogger log.Logger
}

// ResponderStats is a snapshot of responder counters.
type ResponderStats struct {
	Requests   uint64
	Responses  uint64
	Dropped    uint64
	SendErrors uint64
}

// Responder answers discovery requests on a UDP multicast group.
type Responder struct {
	config ResponderConfig
	logger *slog.Logger
	group  net.IP

	conn  net.PacketConn
	pconn *ipv4.PacketConn

	requests   atomic.Uint64
	responses  atomic.Uint64
	dropped    atomic.Uint64
	sendErrors atomic.Uint64

	closeOnce sync.Once
}

// NewResponder validates config and creates a responder. It does not bind
// until Listen.
func NewResponder(config ResponderConfig) (*Responder, error) {
	if config.Handler == nil {
		return nil, errors.New("discovery: handler is required")
	}
	if config.Group == "" {
		config.Group = DefaultGroup
	}
	switch {
	case config.Port == 0:
		config.Port = DefaultPort
	case config.Port < 0:
		config.Port = 0
	}

	group := net.ParseIP(config.Group).To4()
	if group == nil {
		return nil, fmt.Errorf("discovery: group %q is not an IPv4 address", config.Group)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Responder{
		config: config,
		logger: logger.With(slog.String("component", "discovery")),
		group:  group,
	}, nil
}

// Listen binds the UDP socket and joins the multicast group.
func (r *Responder) Listen() error {
	bind := net.JoinHostPort(r.group.String(), strconv.Itoa(r.config.Port))
	if r.group.IsMulticast() {
		bind = net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(r.config.Port))
	}

	conn, err := net.ListenPacket("udp4", bind)
	if err != nil {
		return fmt.Errorf("discovery: listen on %s: %w", bind, err)
	}
	pconn := ipv4.NewPacketConn(conn)

	if r.group.IsMulticast() {
		ifi, err := lookupInterface(r.config.Interface)
		if err != nil {
			conn.Close()
			return err
		}
		if err := pconn.JoinGroup(ifi, &net.UDPAddr{IP: r.group}); err != nil {
			conn.Close()
			return fmt.Errorf("discovery: join group %s: %w", r.group, err)
		}
	}

	r.conn = conn
	r.pconn = pconn
	r.logger.Info("discovery responder listening",
		slog.String("group", r.group.String()),
		slog.String("address", conn.LocalAddr().String()))
	r.logState("", "LISTENING", "")
	return nil
}

// Addr returns the bound local address, or nil before Listen.
func (r *Responder) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve answers requests until ctx is cancelled or the responder is closed.
// Per-datagram failures are logged and never end the loop.
func (r *Responder) Serve(ctx context.Context) error {
	if r.pconn == nil {
		return errors.New("discovery: responder not listening")
	}
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, _, src, err := r.pconn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logState("LISTENING", "STOPPED", "")
				return nil
			}
			r.logger.Warn("discovery read failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		resp, ok := r.handle(buf[:n], src)
		if !ok {
			continue
		}
		if _, err := r.pconn.WriteTo(resp, nil, src); err != nil {
			r.sendErrors.Add(1)
			r.logger.Warn("discovery response failed",
				slog.String("remote", src.String()),
				slog.Any("error", err))
			r.logError(src, err, "send response")
			continue
		}
		r.responses.Add(1)
	}
}

// Run binds the responder and serves until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	return r.Serve(ctx)
}

// Close leaves the group and closes the socket. Safe to call more than
// once.
func (r *Responder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.conn == nil {
			return
		}
		if r.group.IsMulticast() {
			ifi, _ := lookupInterface(r.config.Interface)
			_ = r.pconn.LeaveGroup(ifi, &net.UDPAddr{IP: r.group})
		}
		err = r.conn.Close()
	})
	return err
}

// Stats returns the current counters.
func (r *Responder) Stats() ResponderStats {
	return ResponderStats{
		Requests:   r.requests.Load(),
		Responses:  r.responses.Load(),
		Dropped:    r.dropped.Load(),
		SendErrors: r.sendErrors.Load(),
	}
}

// handle decodes one datagram and returns the encoded response, if any.
func (r *Responder) handle(datagram []byte, src net.Addr) ([]byte, bool) {
	req, err := tlv.Decode(datagram)
	if err != nil {
		r.dropped.Add(1)
		r.logger.Debug("dropping malformed datagram",
			slog.String("remote", src.String()),
			slog.Int("size", len(datagram)),
			slog.Any("error", err))
		r.logError(src, err, "decode datagram")
		return nil, false
	}
	r.logFrame(src, req, log.DirectionIn)

	if req.Type != tlv.TypeDiscoverRequest {
		r.dropped.Add(1)
		r.logger.Debug("dropping datagram",
			slog.String("remote", src.String()),
			slog.String("type", req.Type.String()))
		return nil, false
	}
	r.requests.Add(1)

	resp := r.config.Handler.DiscoverResponse()
	out, err := tlv.Encode(resp.Type, resp.Value)
	if err != nil {
		r.logger.Error("encode discovery response", slog.Any("error", err))
		return nil, false
	}
	r.logger.Debug("answering discovery request", slog.String("remote", src.String()))
	r.logFrame(src, resp, log.DirectionOut)
	return out, true
}

func (r *Responder) logFrame(src net.Addr, f tlv.Frame, dir log.Direction) {
	if r.config.ProtocolLogger == nil {
		return
	}
	r.config.ProtocolLogger.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  dir,
		Layer:      log.LayerDiscovery,
		Category:   log.CategoryMessage,
		LocalRole:  log.RoleServer,
		RemoteAddr: src.String(),
		Frame: &log.FrameEvent{
			Type: uint16(f.Type),
			Size: f.Len(),
			Data: f.Value,
		},
	})
}

func (r *Responder) logError(src net.Addr, err error, op string) {
	if r.config.ProtocolLogger == nil {
		return
	}
	r.config.ProtocolLogger.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerDiscovery,
		Category:   log.CategoryError,
		LocalRole:  log.RoleServer,
		RemoteAddr: src.String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerDiscovery,
			Message: err.Error(),
			Context: op,
		},
	})
}

func (r *Responder) logState(oldState, newState, reason string) {
	if r.config.ProtocolLogger == nil {
		return
	}
	r.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerDiscovery,
		Category:  log.CategoryState,
		LocalRole: log.RoleServer,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityResponder,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// lookupInterface resolves an interface name. An empty name returns nil,
// which selects the system default.
func lookupInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("discovery: interface %q: %w", name, err)
	}
	return ifi, nil
}
