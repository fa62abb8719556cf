package transport

import (
	"context"
	"net"

	"github.com/devmon-project/devmon-go/pkg/device"
)

// DeviceClient is the request surface of a devmon server as seen by tools.
// Implemented by Client.
type DeviceClient interface {
	// List returns all device records in registry order.
	List(ctx context.Context) ([]device.Record, error)

	// Get returns one record; found is false for an unknown ID.
	Get(ctx context.Context, id uint32) (device.Record, bool, error)

	// Set updates a device temperature.
	Set(ctx context.Context, id uint32, temperature float32) (device.SetResult, error)

	// Close closes the connection.
	Close() error
}

// TransportServer represents a devmon TCP server.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop gracefully stops the server.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ DeviceClient    = (*Client)(nil)
	_ TransportServer = (*Server)(nil)
)
