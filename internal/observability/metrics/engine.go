package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

// EngineMetrics owns the API process registry: HTTP server metrics plus the
// cache and retrieval signals emitted by the query engine.
type EngineMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	cacheLookupsTotal  *prometheus.CounterVec
	cacheNearMiss      *prometheus.HistogramVec
	cacheStoreTotal    *prometheus.CounterVec
	fanoutTotal        *prometheus.CounterVec
	fanoutDuration     *prometheus.HistogramVec
	fusedCandidates    *prometheus.HistogramVec
	invalidationsTotal *prometheus.CounterVec
}

func NewEngineMetrics(service string) *EngineMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rce",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rce",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rce",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	cacheLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rce",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total semantic cache lookups by resulting tier.",
		},
		[]string{"service", "namespace", "tier"},
	)
	cacheNearMiss := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rce",
			Subsystem: "cache",
			Name:      "near_miss_similarity",
			Help:      "Similarity of lookups that landed in the advisory band.",
			Buckets:   []float64{0.88, 0.89, 0.90, 0.91, 0.92, 0.93},
		},
		[]string{"service", "namespace"},
	)
	cacheStoreTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rce",
			Subsystem: "cache",
			Name:      "store_total",
			Help:      "Total cache write-through attempts by status.",
		},
		[]string{"service", "namespace", "status"},
	)
	fanoutTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rce",
			Subsystem: "retrieval",
			Name:      "fanout_total",
			Help:      "Total per-method retrieval attempts by status.",
		},
		[]string{"service", "method", "status"},
	)
	fanoutDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rce",
			Subsystem: "retrieval",
			Name:      "fanout_duration_seconds",
			Help:      "Per-method retrieval duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2},
		},
		[]string{"service", "method"},
	)
	fusedCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rce",
			Subsystem: "retrieval",
			Name:      "fused_candidates",
			Help:      "Distribution of fused candidate counts per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service", "namespace"},
	)
	invalidationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rce",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total cache entries evicted by invalidation requests.",
		},
		[]string{"service", "namespace"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		cacheLookupsTotal,
		cacheNearMiss,
		cacheStoreTotal,
		fanoutTotal,
		fanoutDuration,
		fusedCandidates,
		invalidationsTotal,
	)

	return &EngineMetrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		cacheLookupsTotal:  cacheLookupsTotal,
		cacheNearMiss:      cacheNearMiss,
		cacheStoreTotal:    cacheStoreTotal,
		fanoutTotal:        fanoutTotal,
		fanoutDuration:     fanoutDuration,
		fusedCandidates:    fusedCandidates,
		invalidationsTotal: invalidationsTotal,
	}
}

func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *EngineMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *EngineMetrics) CacheLookup(namespace string, tier domain.Tier) {
	m.cacheLookupsTotal.WithLabelValues(m.service, namespace, string(tier)).Inc()
}

func (m *EngineMetrics) CacheNearMiss(namespace string, similarity float64) {
	m.cacheNearMiss.WithLabelValues(m.service, namespace).Observe(similarity)
}

func (m *EngineMetrics) CacheStore(namespace, status string) {
	if status == "" {
		status = "unknown"
	}
	m.cacheStoreTotal.WithLabelValues(m.service, namespace, status).Inc()
}

func (m *EngineMetrics) Fanout(method domain.RetrievalMethod, status string, elapsed time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.fanoutTotal.WithLabelValues(m.service, string(method), status).Inc()
	m.fanoutDuration.WithLabelValues(m.service, string(method)).Observe(elapsed.Seconds())
}

func (m *EngineMetrics) FusedCandidates(namespace string, count int) {
	m.fusedCandidates.WithLabelValues(m.service, namespace).Observe(float64(count))
}

func (m *EngineMetrics) RecordInvalidation(namespace string, evicted int) {
	if evicted <= 0 {
		return
	}
	m.invalidationsTotal.WithLabelValues(m.service, namespace).Add(float64(evicted))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
