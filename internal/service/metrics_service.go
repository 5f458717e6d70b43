package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
// All methods are no-ops on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	reportRuns      *prometheus.CounterVec
	reportDuration  prometheus.Observer
	deliveryAttempt *prometheus.CounterVec
	subjects        *prometheus.CounterVec

	reportsSent      uint64
	reportsFailed    uint64
	subjectsDropped  uint64
	deliveryAttempts uint64
	requestCount     uint64
}

// MetricsSnapshot is a point-in-time summary of the counters.
type MetricsSnapshot struct {
	ReportsSent      uint64    `json:"reports_sent"`
	ReportsFailed    uint64    `json:"reports_failed"`
	SubjectsDropped  uint64    `json:"subjects_dropped"`
	DeliveryAttempts uint64    `json:"delivery_attempts"`
	RequestsTotal    uint64    `json:"requests_total"`
	Goroutines       int       `json:"goroutines"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	reportRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_runs_total",
		Help: "Report runs by final status",
	}, []string{"status"})

	reportDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_build_duration_seconds",
		Help:    "Wall time of a report run including delivery",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	deliveryAttempt := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_delivery_attempts_total",
		Help: "Delivery attempts by outcome",
	}, []string{"outcome"})

	subjects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_subjects_total",
		Help: "Students processed per report run",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		reportRuns, reportDuration, deliveryAttempt, subjects, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		reportRuns:      reportRuns,
		reportDuration:  reportDuration,
		deliveryAttempt: deliveryAttempt,
		subjects:        subjects,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveReportRun records the final status and duration of a report run.
func (m *MetricsService) ObserveReportRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reportRuns.WithLabelValues(status).Inc()
	m.reportDuration.Observe(duration.Seconds())
	if status == "sent" {
		atomic.AddUint64(&m.reportsSent, 1)
	} else {
		atomic.AddUint64(&m.reportsFailed, 1)
	}
}

// ObserveDeliveryAttempt counts one call to the analytics service.
func (m *MetricsService) ObserveDeliveryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.deliveryAttempt.WithLabelValues(outcome).Inc()
	atomic.AddUint64(&m.deliveryAttempts, 1)
}

// RecordSubjects counts students included in and dropped from a report.
func (m *MetricsService) RecordSubjects(processed, dropped int) {
	if m == nil {
		return
	}
	m.subjects.WithLabelValues("processed").Add(float64(processed))
	m.subjects.WithLabelValues("dropped").Add(float64(dropped))
	atomic.AddUint64(&m.subjectsDropped, uint64(dropped))
}

// Snapshot returns aggregated counters suitable for the stats endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return MetricsSnapshot{
		ReportsSent:      atomic.LoadUint64(&m.reportsSent),
		ReportsFailed:    atomic.LoadUint64(&m.reportsFailed),
		SubjectsDropped:  atomic.LoadUint64(&m.subjectsDropped),
		DeliveryAttempts: atomic.LoadUint64(&m.deliveryAttempts),
		RequestsTotal:    atomic.LoadUint64(&m.requestCount),
		Goroutines:       runtime.NumGoroutine(),
		GeneratedAt:      time.Now().UTC(),
	}
}
