// Package observability exposes Prometheus metrics and health checks over
// HTTP.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for PacketsDropped.
const (
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropUnknown     = "unknown"
	DropWrongState  = "wrong_state"
	DropUnhandled   = "unhandled"
	DropPanic       = "panic"
)

type Metrics struct {
	PacketsReceived  *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	Denials          *prometheus.CounterVec
	PlayersConnected prometheus.Gauge
	Blocks           prometheus.Gauge
	Saves            *prometheus.CounterVec
}

// NewMetrics creates the server metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamx_packets_received_total",
				Help: "Decoded packets by type",
			},
			[]string{"packet"},
		),
		PacketsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamx_packets_dropped_total",
				Help: "Inbound packets dropped before handling, by reason",
			},
			[]string{"reason"},
		),
		Denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamx_denials_total",
				Help: "Denial replies sent, by denied packet type",
			},
			[]string{"packet"},
		),
		PlayersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamx_players_connected",
			Help: "Joined players",
		}),
		Blocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamx_blocks",
			Help: "Blocks in the world",
		}),
		Saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamx_saves_total",
				Help: "World saves by result",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.PacketsReceived, m.PacketsDropped, m.Denials, m.PlayersConnected, m.Blocks, m.Saves)
	return m
}
