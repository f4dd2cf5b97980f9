package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arsenic"

var (
	// Service start metrics
	ServiceStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Total number of service starts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ServiceStartLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "start_seconds",
			Help:      "Time from start request to usable driver",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"kind"},
	)

	ActiveDrivers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "active_total",
			Help:      "Number of driver handles currently open",
		},
	)

	// Readiness probe metrics
	ProbeAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "attempts",
			Help:      "Requests issued before a driver answered or the budget ran out",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 30},
		},
	)

	// Rollback metrics
	RollbackClosers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "closers_total",
			Help:      "Closers run while unwinding resources, by result",
		},
		[]string{"result"},
	)
)

// Outcome labels for ServiceStarts.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RecordCloser counts one executed closer.
func RecordCloser(err error) {
	if err != nil {
		RollbackClosers.WithLabelValues("error").Inc()
		return
	}
	RollbackClosers.WithLabelValues("ok").Inc()
}
