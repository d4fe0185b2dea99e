package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal tracks finished executions by terminal state.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_execution_executions_total",
			Help: "Total number of executions by terminal state",
		},
		[]string{"state"},
	)

	// ExecutionsSkippedTotal tracks opportunities not executed.
	ExecutionsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_execution_skipped_total",
			Help: "Total number of opportunities skipped before committing",
		},
		[]string{"reason"},
	)

	// ExecutionsInFlight tracks executions between Committing and a terminal state.
	ExecutionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_execution_in_flight",
		Help: "Number of executions currently in flight",
	})

	// ExecutionDurationSeconds tracks execution latency.
	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_execution_duration_seconds",
		Help:    "Duration from committing to a terminal state",
		Buckets: prometheus.DefBuckets,
	})

	// CommitLatencySeconds tracks detection to commit latency.
	CommitLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_execution_commit_latency_seconds",
		Help:    "Time from opportunity detection to committing its execution",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// OrdersSubmittedTotal tracks venue orders by action and outcome status.
	OrdersSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_execution_orders_total",
			Help: "Total number of orders submitted to venues",
		},
		[]string{"action", "status"},
	)

	// FillTimeoutsTotal tracks orders that missed the confirmation deadline.
	FillTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_execution_fill_timeouts_total",
		Help: "Total number of orders not confirmed before the deadline",
	})

	// UnwindAttemptsTotal tracks chase and close attempts.
	UnwindAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_execution_unwind_attempts_total",
			Help: "Total number of unwind attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	// UnhedgedAlertsTotal tracks abandoned executions holding unhedged exposure.
	UnhedgedAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_execution_unhedged_alerts_total",
		Help: "Total number of executions abandoned with unhedged exposure",
	})

	// CapitalCommittedUSD tracks cash spent on settled hedges.
	CapitalCommittedUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_execution_capital_committed_usd",
		Help: "Cumulative cost of settled hedges",
	})
)
