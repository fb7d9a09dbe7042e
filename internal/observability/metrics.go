package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API, coordinator and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	batchesRegisteredTotal    *prometheus.CounterVec
	completionsTotal          *prometheus.CounterVec
	triggersFiredTotal        *prometheus.CounterVec
	triggerGroupFailuresTotal prometheus.Counter
	triggerDuration           prometheus.Histogram
	lockAcquireFailuresTotal  prometheus.Counter
	storeFallbacksTotal       *prometheus.CounterVec
	workerInflight            prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_coordinator",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "batch_coordinator",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesRegisteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_coordinator",
				Name:      "batches_registered_total",
				Help:      "Total number of batches registered grouped by origin.",
			},
			[]string{"origin"},
		),
		completionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_coordinator",
				Name:      "completions_total",
				Help:      "Total number of job completion reports grouped by outcome.",
			},
			[]string{"outcome"},
		),
		triggersFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_coordinator",
				Name:      "triggers_fired_total",
				Help:      "Total number of completion triggers fired grouped by reason.",
			},
			[]string{"reason"},
		),
		triggerGroupFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batch_coordinator",
				Name:      "trigger_group_failures_total",
				Help:      "Total number of result groups whose follow-up action failed.",
			},
		),
		triggerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "batch_coordinator",
				Name:      "trigger_duration_seconds",
				Help:      "Completion trigger duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		lockAcquireFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batch_coordinator",
				Name:      "lock_acquire_failures_total",
				Help:      "Total number of batch lock acquisitions that gave up.",
			},
		),
		storeFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_coordinator",
				Name:      "store_fallbacks_total",
				Help:      "Total number of operations served locally because the shared store was unavailable.",
			},
			[]string{"component", "op"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "batch_coordinator",
				Name:      "worker_inflight",
				Help:      "Current number of completion messages being processed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesRegisteredTotal,
		m.completionsTotal,
		m.triggersFiredTotal,
		m.triggerGroupFailuresTotal,
		m.triggerDuration,
		m.lockAcquireFailuresTotal,
		m.storeFallbacksTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchRegistered(origin string) {
	if m == nil {
		return
	}
	m.batchesRegisteredTotal.WithLabelValues(normalizeLabel(origin)).Inc()
}

func (m *Metrics) IncCompletion(outcome string) {
	if m == nil {
		return
	}
	m.completionsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncTriggerFired(reason string) {
	if m == nil {
		return
	}
	m.triggersFiredTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncTriggerGroupFailure() {
	if m == nil {
		return
	}
	m.triggerGroupFailuresTotal.Inc()
}

func (m *Metrics) ObserveTriggerDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.triggerDuration.Observe(seconds)
}

func (m *Metrics) IncLockAcquireFailure() {
	if m == nil {
		return
	}
	m.lockAcquireFailuresTotal.Inc()
}

func (m *Metrics) IncStoreFallback(component string, op string) {
	if m == nil {
		return
	}
	m.storeFallbacksTotal.WithLabelValues(normalizeLabel(component), normalizeLabel(op)).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
