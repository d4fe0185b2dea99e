package relationship

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClassificationsTotal tracks classifier outcomes by tier or result.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_relationship_classifications_total",
			Help: "Total number of pair classifications by result",
		},
		[]string{"result"},
	)

	// ClassificationDuration tracks classifier call latency.
	ClassificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_relationship_classification_duration_seconds",
		Help:    "Duration of classifier calls",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	})

	// ClassifierCacheHitsTotal tracks verdicts served from the caching window.
	ClassifierCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_relationship_cache_hits_total",
		Help: "Total number of classifier verdicts served from cache",
	})

	// ClassifierCacheMissesTotal tracks verdicts computed afresh.
	ClassifierCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_relationship_cache_misses_total",
		Help: "Total number of classifier cache misses",
	})

	// CandidatesLive tracks live relationship candidates.
	CandidatesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_relationship_candidates_live",
		Help: "Number of live relationship candidates",
	})
)
