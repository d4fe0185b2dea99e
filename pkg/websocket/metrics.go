package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks whether the feed connection is up.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_ws_active_connections",
		Help: "Number of active feed WebSocket connections",
	})

	// ReconnectAttemptsTotal tracks reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_ws_reconnect_attempts_total",
		Help: "Total number of feed reconnection attempts",
	})

	// ReconnectFailuresTotal tracks reconnection failures.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_ws_reconnect_failures_total",
		Help: "Total number of feed reconnection failures",
	})

	// MessagesReceivedTotal tracks received messages by kind.
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_ws_messages_received_total",
			Help: "Total number of feed messages received",
		},
		[]string{"kind"},
	)

	// MessageLatencySeconds tracks frame decode and forward latency.
	MessageLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_ws_message_latency_seconds",
		Help:    "Feed frame processing latency",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
	})

	// SubscriptionCount tracks subscribed markets.
	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_ws_subscription_count",
		Help: "Number of subscribed markets",
	})

	// MessagesDroppedTotal tracks dropped ticks and frames.
	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_ws_messages_dropped_total",
			Help: "Total number of feed messages dropped",
		},
		[]string{"reason"},
	)

	// ConnectionDuration tracks connection lifetime.
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_ws_connection_duration_seconds",
		Help:    "Duration of feed connections before disconnect",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
	})
)
