package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true })

	m := server.Metrics()
	m.PacketsReceived.WithLabelValues("PlayerStatePacket").Inc()
	m.PacketsDropped.WithLabelValues(DropRateLimited).Inc()
	m.PlayersConnected.Set(3)

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, `teamx_packets_received_total{packet="PlayerStatePacket"} 1`)
	assert.Contains(t, body, `teamx_packets_dropped_total{reason="rate_limited"} 1`)
	assert.Contains(t, body, "teamx_players_connected 3")
}

func TestServer_Health(t *testing.T) {
	var ready atomic.Bool
	server := startServer(t, ready.Load)

	status, _ := get(t, "http://"+server.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)

	status, body := get(t, "http://"+server.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready\n", body)

	ready.Store(true)
	status, _ = get(t, "http://"+server.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_DoubleStart(t *testing.T) {
	server := startServer(t, nil)
	_, err := server.Start()
	assert.Error(t, err)

	status, _ := get(t, "http://"+server.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status, "no checker means ready")
}

func TestServer_StopEndsServing(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Empty(t, server.Addr())
	errs, err := server.Start()
	require.NoError(t, err)

	require.NoError(t, server.Stop(context.Background()))
	require.NoError(t, server.Stop(context.Background()), "second stop is a no-op")
	_, open := <-errs
	assert.False(t, open, "channel closed without an error after a clean stop")
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Saves.WithLabelValues("ok").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Saves.WithLabelValues("ok")))
	assert.Panics(t, func() { NewMetrics(reg) }, "double registration")
}
