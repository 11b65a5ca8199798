package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for terradash.
type Metrics struct {
	config MetricsConfig

	// API metrics
	apiCalls    *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	// Retry metrics
	retriesScheduled *prometheus.CounterVec
	retrySuccesses   *prometheus.CounterVec
	retryAttempts    *prometheus.HistogramVec

	// Fetch metrics
	fetchesStarted   prometheus.Counter
	fetchesCompleted *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec

	// Error metrics
	errorsByCategory *prometheus.CounterVec

	// Session metrics
	activeSessions  prometheus.Gauge
	sessionsCleared *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// API metrics
		apiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_calls_total",
				Help:      "Total number of TFE API calls",
			},
			[]string{"method", "status"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Duration of TFE API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),

		// Retry metrics
		retriesScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Total number of retries scheduled after transient failures",
			},
			[]string{"operation", "category"},
		),
		retrySuccesses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_successes_total",
				Help:      "Total number of operations that succeeded after retrying",
			},
			[]string{"operation"},
		),
		retryAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_attempts",
				Help:      "Number of attempts used before an operation succeeded",
				Buckets:   []float64{1, 2, 3, 4, 5, 8, 11},
			},
			[]string{"operation"},
		),

		// Fetch metrics
		fetchesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_fetches_started_total",
				Help:      "Total number of plan retrievals started",
			},
		),
		fetchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_fetches_completed_total",
				Help:      "Total number of plan retrievals completed",
			},
			[]string{"status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_fetch_duration_seconds",
				Help:      "Duration of end-to-end plan retrievals in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Error metrics
		errorsByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_category_total",
				Help:      "Total number of errors by error category",
			},
			[]string{"category"},
		),

		// Session metrics
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of live secret-store sessions",
			},
		),
		sessionsCleared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_cleared_total",
				Help:      "Total number of secret-store sessions cleared",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		m.apiCalls,
		m.apiDuration,
		m.retriesScheduled,
		m.retrySuccesses,
		m.retryAttempts,
		m.fetchesStarted,
		m.fetchesCompleted,
		m.fetchDuration,
		m.errorsByCategory,
		m.activeSessions,
		m.sessionsCleared,
	)

	return m, nil
}

// API Metrics

// RecordAPICall records a single TFE API request with its status and duration.
func (m *Metrics) RecordAPICall(method string, status int, duration time.Duration) {
	if m.apiCalls == nil {
		return
	}
	m.apiCalls.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Retry Metrics

// RecordRetry records a scheduled retry for an operation.
func (m *Metrics) RecordRetry(operation, category string) {
	if m.retriesScheduled == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(operation, category).Inc()
}

// RecordRetrySuccess records an operation that succeeded after one or more
// failed attempts.
func (m *Metrics) RecordRetrySuccess(operation string, attempts int) {
	if m.retrySuccesses == nil {
		return
	}
	m.retrySuccesses.WithLabelValues(operation).Inc()
	m.retryAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// Fetch Metrics

// RecordFetchStarted increments the counter for started plan retrievals.
func (m *Metrics) RecordFetchStarted() {
	if m.fetchesStarted == nil {
		return
	}
	m.fetchesStarted.Inc()
}

// RecordFetchCompleted records a completed plan retrieval with its status and
// duration.
func (m *Metrics) RecordFetchCompleted(status string, duration time.Duration) {
	if m.fetchesCompleted == nil {
		return
	}
	m.fetchesCompleted.WithLabelValues(status).Inc()
	m.fetchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by its classified category.
func (m *Metrics) RecordError(category string) {
	if m.errorsByCategory == nil {
		return
	}
	m.errorsByCategory.WithLabelValues(category).Inc()
}

// Session Metrics

// SetActiveSessions sets the current number of live secret-store sessions.
func (m *Metrics) SetActiveSessions(count float64) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Set(count)
}

// RecordSessionCleared records a cleared secret-store session. Reason is
// "manual", "timeout" or "shutdown".
func (m *Metrics) RecordSessionCleared(reason string) {
	if m.sessionsCleared == nil {
		return
	}
	m.sessionsCleared.WithLabelValues(reason).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

