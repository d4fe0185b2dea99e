package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// OperationsTotal counts cache operations by cache name and result
	// (hit, miss, set, set_dropped, delete).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"cache", "result"},
	)

	// HitRatio is the last hit ratio read from Ristretto.
	HitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedge_cache_hit_ratio",
			Help: "Cache hit ratio reported by the cache",
		},
		[]string{"cache"},
	)
)
