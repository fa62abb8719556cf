package discovery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
	"golang.org/x/net/ipv4"
)

// DiscoverConfig configures a discovery request.
type DiscoverConfig struct {
	// Group is the multicast group to query (default: DefaultGroup). A
	// unicast address sends the request directly to that host.
	Group string

	// Port is the UDP port of the group (default: DefaultPort).
	Port int

	// Interface selects the outgoing interface for the request. Empty means
	// the system default.
	Interface string

	// Timeout bounds the wait for a response (default: DefaultTimeout).
	Timeout time.Duration

	// ProtocolLogger captures the request and response (optional).
	ProtocolLogger log.Logger
}

// Discover sends one DISCOVER_REQUEST and returns the first server that
// answers. It returns ErrNoServer when nothing answers before the timeout.
func Discover(ctx context.Context, config DiscoverConfig) (*Server, error) {
	if config.Group == "" {
		config.Group = DefaultGroup
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	group := net.ParseIP(config.Group).To4()
	if group == nil {
		return nil, fmt.Errorf("discovery: group %q is not an IPv4 address", config.Group)
	}
	dst := &net.UDPAddr{IP: group, Port: config.Port}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("discovery: open socket: %w", err)
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	if group.IsMulticast() {
		ifi, err := lookupInterface(config.Interface)
		if err != nil {
			return nil, err
		}
		if ifi != nil {
			if err := pconn.SetMulticastInterface(ifi); err != nil {
				return nil, fmt.Errorf("discovery: select interface: %w", err)
			}
		}
		// A responder on this host must see the request.
		_ = pconn.SetMulticastLoopback(true)
	}

	deadline := time.Now().Add(config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	req, err := tlv.Encode(tlv.TypeDiscoverRequest, nil)
	if err != nil {
		return nil, err
	}
	if _, err := pconn.WriteTo(req, nil, dst); err != nil {
		return nil, fmt.Errorf("discovery: send request to %s: %w", dst, err)
	}
	captureFrame(config.ProtocolLogger, dst, tlv.Frame{Type: tlv.TypeDiscoverRequest}, log.DirectionOut)

	buf := make([]byte, MaxDatagramSize)
	for {
		n, _, src, err := pconn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("%w within %s", ErrNoServer, config.Timeout)
			}
			return nil, fmt.Errorf("discovery: read response: %w", err)
		}

		resp, err := tlv.Decode(buf[:n])
		if err != nil || resp.Type != tlv.TypeDiscoverResponse {
			continue
		}
		captureFrame(config.ProtocolLogger, src, resp, log.DirectionIn)
		if len(resp.Value) < 2 {
			return nil, fmt.Errorf("%w: %d byte value from %s", ErrMalformedResponse, len(resp.Value), src)
		}

		udpSrc, ok := src.(*net.UDPAddr)
		if !ok {
			host, _, err := net.SplitHostPort(src.String())
			if err != nil {
				return nil, fmt.Errorf("discovery: response source %s: %w", src, err)
			}
			udpSrc = &net.UDPAddr{IP: net.ParseIP(host)}
		}
		return &Server{
			IP:   udpSrc.IP,
			Port: binary.BigEndian.Uint16(resp.Value[:2]),
		}, nil
	}
}

func captureFrame(logger log.Logger, peer net.Addr, f tlv.Frame, dir log.Direction) {
	if logger == nil {
		return
	}
	logger.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  dir,
		Layer:      log.LayerDiscovery,
		Category:   log.CategoryMessage,
		LocalRole:  log.RoleClient,
		RemoteAddr: peer.String(),
		Frame: &log.FrameEvent{
			Type: uint16(f.Type),
			Size: f.Len(),
			Data: f.Value,
		},
	})
}
