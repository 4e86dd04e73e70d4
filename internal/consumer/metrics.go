package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for every record fetched from Kafka.
const (
	outcomeProcessed    = "processed"
	outcomeHandlerError = "handler_error"
	outcomeDecodeError  = "decode_error"
	outcomeCommitError  = "commit_error"
)

const unknownEventType = "unknown"

var (
	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "roster_audit",
		Name:      "records_total",
		Help:      "Roster event records read from Kafka, by outcome.",
	}, []string{"topic", "event_type", "outcome"})

	eventAge = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signup_service",
		Subsystem: "roster_audit",
		Name:      "event_age_seconds",
		Help:      "Time between a roster event being written to Kafka and being audited.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"event_type"})

	duplicateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "roster_audit",
		Name:      "duplicate_events_total",
		Help:      "Redelivered roster events already present in the audit log.",
	})
)

func init() {
	prometheus.MustRegister(recordsCounter, eventAge, duplicateCounter)
}

func observeOutcome(topic, eventType, outcome string) {
	if eventType == "" {
		eventType = unknownEventType
	}
	recordsCounter.WithLabelValues(topic, eventType, outcome).Inc()
}

func observeAudited(msg Message) {
	observeOutcome(msg.Topic, msg.EventType, outcomeProcessed)
	if !msg.Timestamp.IsZero() {
		eventAge.WithLabelValues(msg.EventType).Observe(time.Since(msg.Timestamp).Seconds())
	}
}
