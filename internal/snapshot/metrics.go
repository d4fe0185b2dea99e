package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal tracks snapshot updates by result.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_snapshot_updates_total",
			Help: "Total number of snapshot updates",
		},
		[]string{"result"},
	)

	// SnapshotsTracked tracks the number of outcome snapshots in memory.
	SnapshotsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_snapshot_outcomes_tracked",
		Help: "Number of outcome snapshots tracked in memory",
	})

	// StaleReadsTotal tracks reads that hit a stale snapshot.
	StaleReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_snapshot_stale_reads_total",
		Help: "Total number of snapshot reads older than the freshness bound",
	})

	// TicksRejectedTotal tracks feed ticks that failed validation.
	TicksRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_snapshot_ticks_rejected_total",
		Help: "Total number of feed ticks rejected",
	})

	// NotificationsDroppedTotal tracks subscriber notifications dropped on a full buffer.
	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_snapshot_notifications_dropped_total",
		Help: "Total number of snapshot notifications dropped because a subscriber was full",
	})

	// UpdateProcessingDuration tracks time spent applying one update.
	UpdateProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_snapshot_update_duration_seconds",
		Help:    "Time spent applying a snapshot update",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})
)
