package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_enqueued_total",
		Help:      "Number of roster events accepted into the delivery queue, labeled by event type.",
	}, []string{"event_type"})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_dropped_total",
		Help:      "Number of roster events discarded because the queue was full or the dispatcher had stopped.",
	})

	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Number of roster events successfully published to Kafka.",
	})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Number of roster events that failed to publish, labeled by topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent encoding and delivering a batch of roster events.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "queue_depth",
		Help:      "Number of roster events waiting for delivery.",
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, droppedCounter, deliveredCounter, failedCounter, batchDuration, queueDepth)
}
