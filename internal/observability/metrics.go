package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of HTTP requests served, labeled by method, route and status code.",
	}, []string{"method", "route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signup_service",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"route"})

	rosterGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signup_service",
		Subsystem: "roster",
		Name:      "participants",
		Help:      "Current number of participants per activity.",
	}, []string{"activity"})
)

func init() {
	prometheus.MustRegister(requestCounter, requestDuration, rosterGauge)
}

// RecordRequest counts a served request and observes its latency.
func RecordRequest(method, route string, status int, elapsed time.Duration) {
	requestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordRosterSize updates the participant gauge for an activity.
func RecordRosterSize(activity string, size int) {
	rosterGauge.WithLabelValues(activity).Set(float64(size))
}

// SeedRosterSizes initialises the participant gauge for every activity.
func SeedRosterSizes(sizes map[string]int) {
	for activity, size := range sizes {
		RecordRosterSize(activity, size)
	}
}
