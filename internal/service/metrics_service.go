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

// MetricsService encapsulates Prometheus instrumentation for the bot and the
// admin HTTP server.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	updatesTotal    *prometheus.CounterVec
	updateDuration  *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	registrations   prometheus.Counter
	payments        prometheus.Counter
	throttled       prometheus.Counter
	sendFailures    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	storeDuration   *prometheus.HistogramVec

	cacheHitCount  uint64
	cacheMissCount uint64
	updateCount    uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of admin HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of admin HTTP requests",
	}, []string{"method", "path", "status"})

	updatesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_updates_total",
		Help: "Inbound bot updates by event kind",
	}, []string{"kind"})

	updateDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bot_update_duration_seconds",
		Help:    "Time spent handling one inbound update",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_transitions_total",
		Help: "Conversation step transitions",
	}, []string{"from", "to"})

	registrations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrations_created_total",
		Help: "Registration rows created",
	})

	payments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrations_paid_total",
		Help: "Registrations marked paid after proof upload",
	})

	throttled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_updates_throttled_total",
		Help: "Updates dropped by the per-account throttle",
	})

	sendFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_send_failures_total",
		Help: "Outbound messages the transport failed to deliver",
	}, []string{"kind"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_operation_duration_seconds",
		Help:    "Duration of record store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, updatesTotal, updateDuration, transitions,
		registrations, payments, throttled, sendFailures, cacheLatency, cacheWrite, cacheHitRatio,
		cacheHits, cacheMisses, storeDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		updatesTotal:    updatesTotal,
		updateDuration:  updateDuration,
		transitions:     transitions,
		registrations:   registrations,
		payments:        payments,
		throttled:       throttled,
		sendFailures:    sendFailures,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		storeDuration:   storeDuration,
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

// ObserveHTTPRequest records admin HTTP request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveUpdate records one handled inbound update.
func (m *MetricsService) ObserveUpdate(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(kind).Inc()
	m.updateDuration.WithLabelValues(kind).Observe(duration.Seconds())
	atomic.AddUint64(&m.updateCount, 1)
}

// ObserveTransition counts a conversation step change.
func (m *MetricsService) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RegistrationCreated counts a newly persisted registration.
func (m *MetricsService) RegistrationCreated() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// PaymentConfirmed counts a registration flipped to paid.
func (m *MetricsService) PaymentConfirmed() {
	if m == nil {
		return
	}
	m.payments.Inc()
}

// UpdateThrottled counts an update dropped before reaching the conversation.
func (m *MetricsService) UpdateThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

// SendFailed counts an outbound message the transport rejected.
func (m *MetricsService) SendFailed(kind string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveStoreOperation records record store timing.
func (m *MetricsService) ObserveStoreOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// UpdatesHandled returns the number of updates observed since start.
func (m *MetricsService) UpdatesHandled() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.updateCount)
}
