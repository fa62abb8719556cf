package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/dispatch"
	"github.com/devmon-project/devmon-go/pkg/registry"
	"github.com/devmon-project/devmon-go/pkg/tlv"
	"github.com/devmon-project/devmon-go/pkg/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesPrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()
	a.ConnectionsTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ConnectionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ConnectionsTotal))
}

func TestObserveRegistry(t *testing.T) {
	m := New()
	reg, err := registry.New(device.DefaultSeed())
	require.NoError(t, err)

	m.ObserveRegistry(reg)
	assert.Equal(t, 5, testutil.CollectAndCount(m.DeviceTemperature))
	assert.InDelta(t, 22.5, testutil.ToFloat64(m.DeviceTemperature.WithLabelValues("1")), 0.001)

	reg.SetTemperature(1, 30)
	reg.SetTemperature(99, 30)
	assert.InDelta(t, 30.0, testutil.ToFloat64(m.DeviceTemperature.WithLabelValues("1")), 0.001)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TemperatureUpdates))
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest(tlv.TypeListRequest, true, time.Millisecond)
	m.RecordRequest(tlv.Type(0x99), false, time.Microsecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("LIST_REQUEST", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("UNKNOWN(0x0099)", "false")))
}

func TestInstrumentServer(t *testing.T) {
	m := New()
	reg, err := registry.New(device.DefaultSeed())
	require.NoError(t, err)

	disconnected := make(chan struct{})
	cfg := transport.ServerConfig{
		Address: "127.0.0.1:0",
		Handler: dispatch.New(reg, dispatch.Config{}),
		OnDisconnect: func(*transport.ServerConn, transport.ConnState, error) {
			close(disconnected)
		},
	}
	m.InstrumentServer(&cfg)

	server, err := transport.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	client, err := transport.Dial(context.Background(), server.Addr().String(), transport.ClientConfig{})
	require.NoError(t, err)
	_, err = client.List(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("existing OnDisconnect hook was not called")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsClosed.WithLabelValues("CLOSED_CLEAN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("LIST_REQUEST", "true")))
}

func TestHandlerExposesDispatcherCounters(t *testing.T) {
	m := New()
	reg, err := registry.New(device.DefaultSeed())
	require.NoError(t, err)
	d := dispatch.New(reg, dispatch.Config{})
	m.ObserveDispatcher(d)

	d.Dispatch(context.Background(), tlv.Frame{Type: tlv.TypeSetRequest, Value: []byte{1}})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "devmon_malformed_requests_total 1")
	assert.Contains(t, body, "devmon_device_not_found_total 0")
	assert.True(t, strings.Contains(body, "go_goroutines"), "runtime collector missing")
}

func TestServeStopsOnCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0", nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
