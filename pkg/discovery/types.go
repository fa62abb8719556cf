package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Defaults for multicast discovery.
const (
	// DefaultGroup is the IPv4 multicast group used for discovery.
	DefaultGroup = "239.0.0.1"

	// DefaultPort is the UDP port of the discovery group.
	DefaultPort = 5000

	// DefaultTimeout bounds how long a client waits for a response.
	DefaultTimeout = 5 * time.Second

	// MaxDatagramSize is the largest datagram read by the responder and
	// the client.
	MaxDatagramSize = 1500
)

// DNS-SD constants.
const (
	// ServiceType is the DNS-SD service type advertised by the server.
	ServiceType = "_devmon._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	// ErrNoServer indicates no server answered before the timeout.
	ErrNoServer = errors.New("discovery: no server found")

	// ErrMalformedResponse indicates a DISCOVER_RESPONSE whose value is
	// shorter than a port.
	ErrMalformedResponse = errors.New("discovery: malformed response")

	// ErrNotAdvertising is returned when stopping an advertisement that is
	// not active.
	ErrNotAdvertising = errors.New("discovery: not advertising")
)

// Server is a located devmon server.
type Server struct {
	// IP is the server address, taken from the response's source.
	IP net.IP

	// Port is the TCP service port.
	Port uint16

	// Instance is the DNS-SD instance name. Empty for multicast results.
	Instance string
}

// Address returns the host:port to dial.
func (s *Server) Address() string {
	return net.JoinHostPort(s.IP.String(), strconv.Itoa(int(s.Port)))
}

// String implements fmt.Stringer.
func (s *Server) String() string {
	return s.Address()
}
