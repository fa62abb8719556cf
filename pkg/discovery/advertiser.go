package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/devmon-project/devmon-go/pkg/version"
)

// ServiceInfo describes the advertised devmon service.
type ServiceInfo struct {
	// Instance is the DNS-SD instance name (default: "devmon-<hostname>").
	Instance string

	// Port is the TCP service port.
	Port uint16

	// Devices is the number of devices in the registry.
	Devices int
}

// TXT record keys.
const (
	TXTKeyVersion  = "txtvers"
	TXTKeyProtocol = "proto"
	TXTKeyDevices  = "devices"
)

// TXT returns the TXT record strings for info.
func (info *ServiceInfo) TXT() []string {
	return []string{
		TXTKeyVersion + "=1",
		TXTKeyProtocol + "=" + version.Tag(version.Current().Major),
		TXTKeyDevices + "=" + strconv.Itoa(info.Devices),
	}
}

// Advertiser publishes the service over DNS-SD.
// Implemented by MDNSAdvertiser.
type Advertiser interface {
	// Advertise starts (or replaces) the advertisement.
	Advertise(ctx context.Context, info *ServiceInfo) error

	// Stop withdraws the advertisement.
	Stop() error
}

// AdvertiserConfig configures an MDNSAdvertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL for DNS records (default: zeroconf default).
	TTL time.Duration
}

// Announcer keeps a service advertised for the lifetime of a context.
type Announcer struct {
	advertiser Advertiser
	info       ServiceInfo
	logger     *slog.Logger
}

// NewAnnouncer creates an announcer for info.
func NewAnnouncer(advertiser Advertiser, info ServiceInfo, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Announcer{
		advertiser: advertiser,
		info:       info,
		logger:     logger.With(slog.String("component", "mdns")),
	}
}

// Run advertises the service, waits for ctx to be cancelled and withdraws
// the advertisement.
func (a *Announcer) Run(ctx context.Context) error {
	if err := a.advertiser.Advertise(ctx, &a.info); err != nil {
		return fmt.Errorf("discovery: advertise %s: %w", ServiceType, err)
	}
	a.logger.Info("advertising service",
		slog.String("type", ServiceType),
		slog.String("instance", a.info.Instance),
		slog.Int("port", int(a.info.Port)))

	<-ctx.Done()

	if err := a.advertiser.Stop(); err != nil {
		a.logger.Warn("withdraw advertisement failed", slog.Any("error", err))
		return err
	}
	a.logger.Info("advertisement withdrawn")
	return nil
}
