package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SweeperMetrics owns the sweeper process registry.
type SweeperMetrics struct {
	registry *prometheus.Registry
	service  string

	purgedTotal        *prometheus.CounterVec
	sweepDuration      *prometheus.HistogramVec
	invalidationsTotal *prometheus.CounterVec
}

func NewSweeperMetrics(service string) *SweeperMetrics {
	registry := prometheus.NewRegistry()

	purgedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rce",
			Subsystem: "sweeper",
			Name:      "purged_entries_total",
			Help:      "Total expired cache entries removed per tier.",
		},
		[]string{"service", "tier"},
	)
	sweepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rce",
			Subsystem: "sweeper",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one purge pass by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	invalidationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rce",
			Subsystem: "sweeper",
			Name:      "invalidation_events_total",
			Help:      "Total invalidation events consumed by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(purgedTotal, sweepDuration, invalidationsTotal)

	return &SweeperMetrics{
		registry:           registry,
		service:            service,
		purgedTotal:        purgedTotal,
		sweepDuration:      sweepDuration,
		invalidationsTotal: invalidationsTotal,
	}
}

func (m *SweeperMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *SweeperMetrics) RecordSweep(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sweepDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *SweeperMetrics) RecordPurged(tier string, count int) {
	if count <= 0 {
		return
	}
	m.purgedTotal.WithLabelValues(m.service, tier).Add(float64(count))
}

func (m *SweeperMetrics) RecordInvalidationEvent(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.invalidationsTotal.WithLabelValues(m.service, status).Inc()
}
