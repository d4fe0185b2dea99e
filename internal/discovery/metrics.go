package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsHandledTotal tracks catalog events consumed by type.
	EventsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_discovery_events_total",
			Help: "Total number of catalog events handled",
		},
		[]string{"type"},
	)

	// PairsClassifiedTotal tracks classified market pairs by result.
	PairsClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_discovery_pairs_classified_total",
			Help: "Total number of market pairs classified",
		},
		[]string{"result"},
	)

	// CandidatesRegisteredTotal tracks candidates registered by tier.
	CandidatesRegisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_discovery_candidates_registered_total",
			Help: "Total number of candidates registered or replaced",
		},
		[]string{"tier"},
	)

	// CandidatesInvalidatedTotal tracks candidates removed by reason.
	CandidatesInvalidatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_discovery_candidates_invalidated_total",
			Help: "Total number of candidates removed",
		},
		[]string{"reason"},
	)

	// DiscoveryDurationSeconds tracks time to classify one market against the catalog.
	DiscoveryDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_discovery_market_duration_seconds",
		Help:    "Duration of classifying one market against the catalog",
		Buckets: prometheus.DefBuckets,
	})

	// RefreshDurationSeconds tracks periodic reclassification latency.
	RefreshDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_discovery_refresh_duration_seconds",
		Help:    "Duration of reclassifying live candidates",
		Buckets: prometheus.DefBuckets,
	})
)
