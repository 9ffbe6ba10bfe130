package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/dualpath/internal/abtest"
)

// Metrics holds the process metrics. Each instance owns its registry so tests
// and multiple servers in one process do not collide.
type Metrics struct {
	registry   *prometheus.Registry
	failedOnce sync.Once

	// DispatchCounter counts dispatches.
	// Labels: operation, plan (A|B), reason (split|fallback|queue_disabled), status (success|error)
	DispatchCounter *prometheus.CounterVec

	// DispatchDuration measures dispatch latency in seconds.
	// Labels: operation, plan
	DispatchDuration *prometheus.HistogramVec

	// SlowResults counts results above max_execution_time_ms.
	// Labels: operation, plan
	SlowResults *prometheus.CounterVec

	// AnalyticsDropped counts results dropped by a full analytics buffer.
	AnalyticsDropped prometheus.Counter

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP latency in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec

	// ConfigReloads counts hot reload attempts.
	// Labels: status (success|error)
	ConfigReloads *prometheus.CounterVec

	// ReportRuns counts scheduled analysis runs.
	// Labels: outcome (significant|not_significant|failed)
	ReportRuns *prometheus.CounterVec
}

// NewMetrics creates the metrics on a fresh registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DispatchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualpath_dispatch_total",
				Help: "Total number of dispatched operations by plan, reason and status",
			},
			[]string{"operation", "plan", "reason", "status"},
		),

		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dualpath_dispatch_duration_seconds",
				Help:    "Duration of dispatched operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"operation", "plan"},
		),

		SlowResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualpath_slow_results_total",
				Help: "Results slower than the configured max execution time",
			},
			[]string{"operation", "plan"},
		),

		AnalyticsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dualpath_analytics_dropped_total",
				Help: "Results dropped because the analytics buffer was full",
			},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualpath_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dualpath_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path"},
		),

		ConfigReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualpath_config_reloads_total",
				Help: "Configuration reload attempts by status",
			},
			[]string{"status"},
		),

		ReportRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualpath_report_runs_total",
				Help: "Scheduled analysis runs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordDispatch records one dispatch.
func (m *Metrics) RecordDispatch(operation string, plan abtest.Plan, reason string, success bool, duration time.Duration) {
	m.DispatchCounter.WithLabelValues(operation, plan.String(), reason, statusLabel(success)).Inc()
	m.DispatchDuration.WithLabelValues(operation, plan.String()).Observe(duration.Seconds())
}

// RecordSlowResult counts a result above the advisory time limit.
func (m *Metrics) RecordSlowResult(operation string, plan abtest.Plan) {
	m.SlowResults.WithLabelValues(operation, plan.String()).Inc()
}

// AnalyticsResultDropped counts a dropped analytics result.
func (m *Metrics) AnalyticsResultDropped() {
	m.AnalyticsDropped.Inc()
}

// FailureSource reports a running count of failed deliveries.
type FailureSource interface {
	Failed() uint64
}

// ObserveAnalyticsFailures exposes src as dualpath_analytics_failed_total.
// It registers once per Metrics; later calls are ignored.
func (m *Metrics) ObserveAnalyticsFailures(src FailureSource) {
	if src == nil {
		return
	}
	m.failedOnce.Do(func() {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "dualpath_analytics_failed_total",
				Help: "Results the analytics sink rejected after all attempts",
			},
			func() float64 { return float64(src.Failed()) },
		))
	})
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordConfigReload counts a reload attempt.
func (m *Metrics) RecordConfigReload(err error) {
	m.ConfigReloads.WithLabelValues(statusLabel(err == nil)).Inc()
}

// RecordReportRun counts a scheduled analysis run.
func (m *Metrics) RecordReportRun(outcome string) {
	m.ReportRuns.WithLabelValues(outcome).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
