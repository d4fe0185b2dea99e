package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal tracks consumed Kafka messages by decode result.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_feed_kafka_messages_total",
			Help: "Total number of Kafka feed messages consumed",
		},
		[]string{"result"},
	)

	// TicksTotal tracks ticks forwarded to the snapshot store.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_feed_kafka_ticks_total",
		Help: "Total number of ticks forwarded from Kafka",
	})

	// TicksDroppedTotal tracks ticks dropped on a full channel.
	TicksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_feed_kafka_ticks_dropped_total",
		Help: "Total number of Kafka ticks dropped because the channel was full",
	})

	// ReadErrorsTotal tracks reader failures.
	ReadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_feed_kafka_read_errors_total",
		Help: "Total number of Kafka read failures",
	})
)
