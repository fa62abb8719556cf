package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devmon-project/devmon-go/pkg/version"
	"github.com/enbility/zeroconf/v3"
)

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{config: config}
}

// Advertise registers the service, replacing any earlier registration.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *ServiceInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instance := info.Instance
	if instance == "" {
		instance = defaultInstanceName()
	}
	if len(instance) > MaxInstanceNameLen {
		instance = instance[:MaxInstanceNameLen]
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		int(info.Port),
		info.TXT(),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement.
func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.Shutdown()
	a.server = nil
	return nil
}

// BrowserConfig configures an MDNSBrowser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string

	// Timeout bounds Find (default: DefaultTimeout).
	Timeout time.Duration
}

// MDNSBrowser locates devmon servers over DNS-SD.
type MDNSBrowser struct {
	config BrowserConfig
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &MDNSBrowser{config: config}
}

// Find returns the first server that resolves to an address.
func (b *MDNSBrowser) Find(ctx context.Context) (*Server, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrNoServer
			}
			if srv := entryToServer(entry); srv != nil {
				return srv, nil
			}
		case <-removed:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w via mDNS within %s", ErrNoServer, b.config.Timeout)
		}
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	return opts
}

// entryToServer converts a resolved entry, preferring IPv4. Entries
// without an address or with an incompatible protocol tag are skipped.
// Entries without a tag are accepted.
func entryToServer(entry *zeroconf.ServiceEntry) *Server {
	if entry == nil || entry.Port <= 0 || entry.Port > 0xFFFF {
		return nil
	}
	for _, txt := range entry.Text {
		if tag, ok := strings.CutPrefix(txt, TXTKeyProtocol+"="); ok && !version.Supported(tag) {
			return nil
		}
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return nil
	}
	return &Server{IP: ip, Port: uint16(entry.Port), Instance: entry.Instance}
}

// interfaces returns the named interface, or nil for all interfaces.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "devmon"
	}
	return "devmon-" + host
}

// Compile-time interface satisfaction check.
var _ Advertiser = (*MDNSAdvertiser)(nil)
