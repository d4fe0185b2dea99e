package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpportunitiesDetectedTotal tracks opportunities emitted, by tier.
	OpportunitiesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_arb_opportunities_detected_total",
			Help: "Total number of hedge opportunities detected",
		},
		[]string{"tier"},
	)

	// OpportunityMarginBPS tracks margins in basis points.
	OpportunityMarginBPS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_arb_opportunity_margin_bps",
		Help:    "Opportunity margin in basis points",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	})

	// OpportunityQuantity tracks sized quantities.
	OpportunityQuantity = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_arb_opportunity_quantity",
		Help:    "Sized opportunity quantity in units of leg A",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})

	// DetectionDurationSeconds tracks evaluation latency per snapshot update.
	DetectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_arb_detection_duration_seconds",
		Help:    "Duration of detection for one snapshot update",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	// OpportunitiesRejectedTotal tracks rejected evaluations by reason.
	OpportunitiesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_arb_opportunities_rejected_total",
			Help: "Total number of candidate evaluations that did not emit",
		},
		[]string{"reason"},
	)

	// OpportunitiesRemovedTotal tracks open opportunities removed, by reason.
	OpportunitiesRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_arb_opportunities_removed_total",
			Help: "Total number of open opportunities removed",
		},
		[]string{"reason"},
	)

	// OpenOpportunities tracks unexpired, unexecuted opportunities.
	OpenOpportunities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_arb_open_opportunities",
		Help: "Number of open opportunities",
	})

	// DecayWindowSeconds tracks the current decay window.
	DecayWindowSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_arb_decay_window_seconds",
		Help: "Current opportunity decay window",
	})

	// EndToEndLatencySeconds tracks snapshot timestamp to emission latency.
	EndToEndLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_arb_e2e_latency_seconds",
		Help:    "Latency from the newest leg snapshot to opportunity emission",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)
