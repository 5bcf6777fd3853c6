// Package metrics exposes Prometheus collectors for the dashboard service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	correlationRefreshTotal    *prometheus.CounterVec
	correlationEntries         prometheus.Gauge
	progressPollsTotal         *prometheus.CounterVec
	progressMissesTotal        prometheus.Counter
	progressMalformedTotal     prometheus.Counter
	progressEventsDropped      prometheus.Counter
	dependencyUp               *prometheus.GaugeVec
	taskDurationSeconds        *prometheus.HistogramVec
	taskRunsTotal              *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		correlationRefreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncboard_correlation_refresh_total",
				Help: "Correlation map rebuilds, labeled by result.",
			},
			[]string{"result"},
		)

		correlationEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "syncboard_correlation_entries",
				Help: "Submission to track links in the published correlation map.",
			},
		)

		progressPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncboard_progress_polls_total",
				Help: "Progress cache scans, labeled by result.",
			},
			[]string{"result"},
		)

		progressMissesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncboard_progress_correlation_misses_total",
				Help: "Progress entries dropped because their submission was not yet correlated.",
			},
		)

		progressMalformedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncboard_progress_malformed_total",
				Help: "Progress entries skipped because the key or value could not be decoded.",
			},
		)

		progressEventsDropped = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncboard_progress_events_dropped_total",
				Help: "Progress transition events dropped due to hub backpressure.",
			},
		)

		dependencyUp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syncboard_dependency_up",
				Help: "Whether a dependency answered its last health check (1) or not (0).",
			},
			[]string{"dependency"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncboard_task_duration_seconds",
				Help:    "Background task run time, labeled by task.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"task"},
		)

		taskRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncboard_task_runs_total",
				Help: "Background task runs, labeled by task and result.",
			},
			[]string{"task", "result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCorrelationRefresh records a rebuild attempt and, on success, the new map size.
func ObserveCorrelationRefresh(entries int, err error) {
	Init()
	correlationRefreshTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		correlationEntries.Set(float64(entries))
	}
}

// ObserveProgressPoll records one progress cache scan.
func ObserveProgressPoll(misses, malformed int, err error) {
	Init()
	progressPollsTotal.WithLabelValues(result(err)).Inc()
	if misses > 0 {
		progressMissesTotal.Add(float64(misses))
	}
	if malformed > 0 {
		progressMalformedTotal.Add(float64(malformed))
	}
}

// AddProgressEventsDropped counts events the hub could not buffer.
func AddProgressEventsDropped(n int64) {
	Init()
	if n > 0 {
		progressEventsDropped.Add(float64(n))
	}
}

// SetDependencyUp records the outcome of a dependency health check.
func SetDependencyUp(dependency string, up bool) {
	Init()
	v := 0.0
	if up {
		v = 1
	}
	dependencyUp.WithLabelValues(dependency).Set(v)
}

// ObserveTask records a background task run.
func ObserveTask(task string, duration time.Duration, err error) {
	Init()
	taskRunsTotal.WithLabelValues(task, result(err)).Inc()
	taskDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}
