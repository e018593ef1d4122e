package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is 1 for the manager's current lifecycle state, 0 otherwise
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "battle_connection_state",
			Help: "Current battle connection state (1 for the active state)",
		},
		[]string{"state"},
	)

	// ConnectLatency tracks how long connect attempts take until CONNECTED or failure
	ConnectLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "battle_connect_latency_seconds",
			Help:    "Latency of battle connect attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// FramesReceived counts inbound events dispatched by kind
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_frames_received_total",
			Help: "Total number of inbound battle events by kind",
		},
		[]string{"kind"},
	)

	// FramesDropped counts inbound frames that were not dispatched
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_frames_dropped_total",
			Help: "Total number of inbound frames dropped by reason",
		},
		[]string{"reason"},
	)

	// PublishesDropped counts outbound commands dropped because the connection was not up
	PublishesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_publishes_dropped_total",
			Help: "Total number of outbound publishes dropped by destination",
		},
		[]string{"destination"},
	)

	// ReconnectAttempts counts reconnect attempts by outcome
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_reconnect_attempts_total",
			Help: "Total number of reconnect attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SupervisorEvents counts supervisor inputs and terminal transitions
	SupervisorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_supervisor_events_total",
			Help: "Total number of reconnection supervisor events by type",
		},
		[]string{"event"},
	)
)

// SetConnectionState marks state as the only active connection state
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}
