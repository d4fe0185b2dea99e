package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerEnabled indicates whether the circuit breaker allows execution.
	CircuitBreakerEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_circuit_breaker_enabled",
		Help: "Whether circuit breaker allows execution (1=enabled, 0=disabled)",
	})

	// CircuitBreakerCapital tracks the last checked available capital.
	CircuitBreakerCapital = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_circuit_breaker_capital",
		Help: "Last checked available capital",
	})

	// CircuitBreakerDisableThreshold tracks the threshold for disabling execution.
	CircuitBreakerDisableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_circuit_breaker_disable_threshold",
		Help: "Current capital threshold for disabling execution",
	})

	// CircuitBreakerEnableThreshold tracks the threshold for re-enabling execution.
	CircuitBreakerEnableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_circuit_breaker_enable_threshold",
		Help: "Current capital threshold for re-enabling execution (with hysteresis)",
	})

	// CircuitBreakerAvgTradeCost tracks the rolling average hedge cost.
	CircuitBreakerAvgTradeCost = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_circuit_breaker_avg_trade_cost",
		Help: "Rolling average cost of recent hedges",
	})

	// CircuitBreakerStateChanges tracks the number of state changes.
	CircuitBreakerStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_circuit_breaker_state_changes_total",
		Help: "Total number of times circuit breaker changed state",
	})

	// CircuitBreakerCheckDuration tracks the time taken to check capital.
	CircuitBreakerCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_circuit_breaker_check_duration_seconds",
		Help:    "Time taken to check available capital",
		Buckets: prometheus.DefBuckets,
	})
)
