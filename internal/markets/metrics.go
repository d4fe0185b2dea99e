package markets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarketsTracked tracks markets in the catalog.
	MarketsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_markets_tracked",
		Help: "Number of markets held in the catalog",
	})

	// EventsTotal tracks catalog events by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_markets_events_total",
			Help: "Total number of catalog events",
		},
		[]string{"type"},
	)

	// EventsDroppedTotal tracks events dropped on a full subscriber buffer.
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_markets_events_dropped_total",
		Help: "Total number of catalog events dropped because a subscriber was full",
	})

	// LoadDurationSeconds tracks market source load latency.
	LoadDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_markets_load_duration_seconds",
		Help:    "Duration of market source loads",
		Buckets: prometheus.DefBuckets,
	})

	// LoadErrorsTotal tracks market source load failures.
	LoadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_markets_load_errors_total",
		Help: "Total number of market source load failures",
	})
)
