// Package metrics exposes devmon server activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/devmon-project/devmon-go/pkg/discovery"
	"github.com/devmon-project/devmon-go/pkg/dispatch"
	"github.com/devmon-project/devmon-go/pkg/registry"
	"github.com/devmon-project/devmon-go/pkg/tlv"
	"github.com/devmon-project/devmon-go/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devmon"

// Metrics contains all Prometheus metrics for the devmon server.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionsClosed *prometheus.CounterVec

	// Request metrics
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Registry metrics
	TemperatureUpdates prometheus.Counter
	DeviceTemperature  *prometheus.GaugeVec
}

// New creates all metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current number of open TCP connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted TCP connections",
		}),
		ConnectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of closed TCP connections by terminal state",
		}, []string{"state"}),

		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of request frames by type and whether a response was sent",
		}, []string{"type", "responded"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time to dispatch a request and write its response",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		}, []string{"type"}),

		TemperatureUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temperature_updates_total",
			Help:      "Total number of successful temperature updates",
		}),
		DeviceTemperature: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_temperature_celsius",
			Help:      "Current temperature reported for each device",
		}, []string{"device_id"}),
	}
}

// Registry returns the Prometheus registry holding all metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentServer installs connection and request hooks on cfg. Hooks
// already present are still called.
func (m *Metrics) InstrumentServer(cfg *transport.ServerConfig) {
	onConnect := cfg.OnConnect
	cfg.OnConnect = func(c *transport.ServerConn) {
		m.ConnectionsTotal.Inc()
		m.ConnectionsActive.Inc()
		if onConnect != nil {
			onConnect(c)
		}
	}

	onDisconnect := cfg.OnDisconnect
	cfg.OnDisconnect = func(c *transport.ServerConn, state transport.ConnState, err error) {
		m.ConnectionsActive.Dec()
		m.ConnectionsClosed.WithLabelValues(state.String()).Inc()
		if onDisconnect != nil {
			onDisconnect(c, state, err)
		}
	}

	onRequest := cfg.OnRequest
	cfg.OnRequest = func(c *transport.ServerConn, req tlv.Frame, responded bool, elapsed time.Duration) {
		m.RecordRequest(req.Type, responded, elapsed)
		if onRequest != nil {
			onRequest(c, req, responded, elapsed)
		}
	}
}

// RecordRequest records one dispatched request.
func (m *Metrics) RecordRequest(typ tlv.Type, responded bool, elapsed time.Duration) {
	m.Requests.WithLabelValues(typ.String(), strconv.FormatBool(responded)).Inc()
	m.RequestDuration.WithLabelValues(typ.String()).Observe(elapsed.Seconds())
}

// ObserveRegistry publishes the current temperature of every device and
// tracks later updates.
func (m *Metrics) ObserveRegistry(reg *registry.Registry) {
	for _, rec := range reg.List() {
		m.DeviceTemperature.WithLabelValues(deviceLabel(rec.ID)).Set(float64(rec.Temperature))
	}
	reg.OnChange(func(c registry.Change) {
		m.TemperatureUpdates.Inc()
		m.DeviceTemperature.WithLabelValues(deviceLabel(c.New.ID)).Set(float64(c.New.Temperature))
	})
}

// ObserveDispatcher exposes the dispatcher's error counters.
func (m *Metrics) ObserveDispatcher(d *dispatch.Dispatcher) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_requests_total",
			Help:      "Total number of requests with an invalid payload length",
		}, func() float64 { return float64(d.Stats().Malformed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_not_found_total",
			Help:      "Total number of GET and SET requests for unknown devices",
		}, func() float64 { return float64(d.Stats().NotFound) }),
	)
}

// ObserveResponder exposes the discovery responder's counters.
func (m *Metrics) ObserveResponder(r *discovery.Responder) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "requests_total",
			Help:      "Total number of discovery requests received",
		}, func() float64 { return float64(r.Stats().Requests) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "responses_total",
			Help:      "Total number of discovery responses sent",
		}, func() float64 { return float64(r.Stats().Responses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "dropped_total",
			Help:      "Total number of malformed or unexpected datagrams",
		}, func() float64 { return float64(r.Stats().Dropped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "send_errors_total",
			Help:      "Total number of discovery responses that could not be sent",
		}, func() float64 { return float64(r.Stats().SendErrors) }),
	)
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("metrics server stopped")
	return nil
}

func deviceLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
