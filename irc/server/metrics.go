package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's Prometheus collectors, kept on a private
// registry so several servers can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// Connections is the number of live sessions
	Connections prometheus.Gauge

	// Registered is the number of sessions that completed registration
	Registered prometheus.Gauge

	// Channels is the number of live channels
	Channels prometheus.Gauge

	// MessagesIn counts dispatched client messages by command
	MessagesIn *prometheus.CounterVec

	// MessagesOut counts messages fully written to clients
	MessagesOut prometheus.Counter

	// Disconnects counts removed sessions by cause
	Disconnects *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_connections",
			Help: "Number of connected clients",
		}),
		Registered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_registered_clients",
			Help: "Number of clients that completed registration",
		}),
		Channels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_channels",
			Help: "Number of active channels",
		}),
		MessagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ircd_messages_received_total",
			Help: "Client messages dispatched, by command",
		}, []string{"command"}),
		MessagesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_messages_sent_total",
			Help: "Messages delivered to clients",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ircd_disconnects_total",
			Help: "Client disconnects, by cause",
		}, []string{"cause"}),
	}
}

// commandLabel keeps label cardinality bounded to the known commands.
func commandLabel(command string, known bool) string {
	if !known {
		return "unknown"
	}
	return command
}
