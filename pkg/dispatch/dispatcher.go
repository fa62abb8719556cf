// Package dispatch maps request frames to response frames against a device
// registry.
//
// The dispatcher is stateless apart from its counters. A request either
// produces exactly one response frame or, for frame types it does not serve,
// no response at all. Malformed payloads never fail the connection.
package dispatch

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/registry"
	"github.com/devmon-project/devmon-go/pkg/tlv"
)

const (
	getRequestSize = 4
	setRequestSize = 8
)

// Registry is the subset of registry.Registry used by the dispatcher.
type Registry interface {
	List() []device.Record
	Find(id uint32) (device.Record, bool)
	SetTemperature(id uint32, temperature float32) device.SetResult
}

var _ Registry = (*registry.Registry)(nil)

// Config configures a Dispatcher.
type Config struct {
	// Port is the TCP service port advertised in DISCOVER_RESPONSE.
	Port uint16

	// Logger receives per-request operational logs. Nil discards them.
	Logger *slog.Logger
}

// Dispatcher executes requests against a registry.
type Dispatcher struct {
	reg    Registry
	port   uint16
	logger *slog.Logger
	stats  counters
}

// New creates a dispatcher bound to reg.
func New(reg Registry, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{reg: reg, port: cfg.Port, logger: logger}
}

// Dispatch executes a TCP request and returns its response. ok is false when
// the request type is not served on TCP and nothing must be sent back.
// DISCOVER_REQUEST is one of those: it is answered over UDP only.
func (d *Dispatcher) Dispatch(ctx context.Context, req tlv.Frame) (resp tlv.Frame, ok bool) {
	d.logger.DebugContext(ctx, "received TLV",
		slog.String("type", req.Type.String()),
		slog.Int("length", len(req.Value)))

	switch req.Type {
	case tlv.TypeListRequest:
		d.stats.list.Add(1)
		return d.list(ctx, req), true
	case tlv.TypeGetRequest:
		d.stats.get.Add(1)
		return d.get(ctx, req), true
	case tlv.TypeSetRequest:
		d.stats.set.Add(1)
		return d.set(ctx, req), true
	default:
		d.stats.ignored.Add(1)
		d.logger.DebugContext(ctx, "ignoring frame", slog.String("type", req.Type.String()))
		return tlv.Frame{}, false
	}
}

// DiscoverResponse returns the DISCOVER_RESPONSE frame carrying the service
// port. Called by the discovery responder.
func (d *Dispatcher) DiscoverResponse() tlv.Frame {
	d.stats.discover.Add(1)
	return tlv.Frame{
		Type:  tlv.TypeDiscoverResponse,
		Value: binary.BigEndian.AppendUint16(nil, d.port),
	}
}

func (d *Dispatcher) list(ctx context.Context, req tlv.Frame) tlv.Frame {
	if len(req.Value) != 0 {
		d.logger.DebugContext(ctx, "list request carries a payload, ignoring it",
			slog.Int("length", len(req.Value)))
	}
	return tlv.Frame{
		Type:  tlv.TypeListResponse,
		Value: device.EncodeRecords(d.reg.List()),
	}
}

func (d *Dispatcher) get(ctx context.Context, req tlv.Frame) tlv.Frame {
	empty := tlv.Frame{Type: tlv.TypeGetResponse, Value: []byte{}}
	if len(req.Value) != getRequestSize {
		d.stats.malformed.Add(1)
		d.logger.DebugContext(ctx, "malformed get request", slog.Int("length", len(req.Value)))
		return empty
	}

	id := binary.BigEndian.Uint32(req.Value)
	rec, found := d.reg.Find(id)
	if !found {
		d.stats.notFound.Add(1)
		d.logger.InfoContext(ctx, "device not found", slog.Uint64("id", uint64(id)))
		return empty
	}
	return tlv.Frame{Type: tlv.TypeGetResponse, Value: rec.AppendBinary(nil)}
}

func (d *Dispatcher) set(ctx context.Context, req tlv.Frame) tlv.Frame {
	if len(req.Value) != setRequestSize {
		d.stats.malformed.Add(1)
		d.logger.DebugContext(ctx, "malformed set request", slog.Int("length", len(req.Value)))
		return setResponse(device.SetBadRequest)
	}

	id := binary.BigEndian.Uint32(req.Value[0:4])
	temp := math.Float32frombits(binary.BigEndian.Uint32(req.Value[4:8]))

	result := d.reg.SetTemperature(id, temp)
	switch result {
	case device.SetOK:
		d.logger.InfoContext(ctx, "temperature updated",
			slog.Uint64("id", uint64(id)),
			slog.Float64("temperature", float64(temp)))
	case device.SetNotFound:
		d.stats.notFound.Add(1)
		d.logger.InfoContext(ctx, "device not found", slog.Uint64("id", uint64(id)))
	}
	return setResponse(result)
}

func setResponse(r device.SetResult) tlv.Frame {
	return tlv.Frame{Type: tlv.TypeSetResponse, Value: []byte{byte(r)}}
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	List      uint64
	Get       uint64
	Set       uint64
	Discover  uint64
	Ignored   uint64
	Malformed uint64
	NotFound  uint64
}

type counters struct {
	list, get, set, discover     atomic.Uint64
	ignored, malformed, notFound atomic.Uint64
}

// Stats returns the current counter values.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		List:      d.stats.list.Load(),
		Get:       d.stats.get.Load(),
		Set:       d.stats.set.Load(),
		Discover:  d.stats.discover.Load(),
		Ignored:   d.stats.ignored.Load(),
		Malformed: d.stats.malformed.Load(),
		NotFound:  d.stats.notFound.Load(),
	}
}
