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

// Metrics stores Prometheus collectors used by API, orchestrator, and worker
// flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	dialAdmissionsTotal       *prometheus.CounterVec
	stateTransitionsTotal     *prometheus.CounterVec
	anomalousTransitionsTotal *prometheus.CounterVec
	timersFiredTotal          *prometheus.CounterVec
	qualityAlertsTotal        *prometheus.CounterVec
	mosObserved               *prometheus.HistogramVec
	dialDuration              *prometheus.HistogramVec
	workerInflight            *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dialer_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dialer_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dialAdmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dialer_engine",
				Name:      "dial_admissions_total",
				Help:      "Total trunk rate limiter decisions grouped by trunk and outcome.",
			},
			[]string{"trunk", "outcome"},
		),
		stateTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dialer_engine",
				Name:      "state_transitions_total",
				Help:      "Total call attempt state transitions grouped by target state.",
			},
			[]string{"state"},
		),
		anomalousTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dialer_engine",
				Name:      "anomalous_transitions_total",
				Help:      "Total transitions rejected on already terminal attempts.",
			},
			[]string{"state"},
		),
		timersFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dialer_engine",
				Name:      "timers_fired_total",
				Help:      "Total attempt timers fired by the sweeper grouped by timer type.",
			},
			[]string{"type"},
		),
		qualityAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dialer_engine",
				Name:      "quality_alerts_total",
				Help:      "Total quality alerts raised grouped by metric and severity.",
			},
			[]string{"metric", "severity"},
		),
		mosObserved: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dialer_engine",
				Name:      "mos_observed",
				Help:      "Distribution of computed MOS scores grouped by carrier.",
				Buckets:   []float64{1.0, 1.5, 2.0, 2.5, 3.0, 3.5, 4.0, 4.5, 5.0},
			},
			[]string{"carrier"},
		),
		dialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dialer_engine",
				Name:      "dial_duration_seconds",
				Help:      "Gateway originate duration in seconds grouped by trunk.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"trunk"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dialer_engine",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight dial worker operations grouped by trunk.",
			},
			[]string{"trunk"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dialAdmissionsTotal,
		m.stateTransitionsTotal,
		m.anomalousTransitionsTotal,
		m.timersFiredTotal,
		m.qualityAlertsTotal,
		m.mosObserved,
		m.dialDuration,
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

func (m *Metrics) IncDialAdmission(trunk string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.dialAdmissionsTotal.WithLabelValues(normalizeLabel(trunk), outcome).Inc()
}

func (m *Metrics) IncStateTransition(state string) {
	if m == nil {
		return
	}
	m.stateTransitionsTotal.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *Metrics) IncAnomalousTransition(state string) {
	if m == nil {
		return
	}
	m.anomalousTransitionsTotal.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *Metrics) IncTimerFired(timerType string) {
	if m == nil {
		return
	}
	m.timersFiredTotal.WithLabelValues(normalizeLabel(timerType)).Inc()
}

func (m *Metrics) IncQualityAlert(metric string, severity string) {
	if m == nil {
		return
	}
	m.qualityAlertsTotal.WithLabelValues(normalizeLabel(metric), normalizeLabel(severity)).Inc()
}

func (m *Metrics) ObserveMOS(carrier string, mos float64) {
	if m == nil {
		return
	}
	m.mosObserved.WithLabelValues(normalizeLabel(carrier)).Observe(mos)
}

func (m *Metrics) ObserveDialDuration(trunk string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dialDuration.WithLabelValues(normalizeLabel(trunk)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(trunk string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(trunk)).Inc()
}

func (m *Metrics) DecWorkerInFlight(trunk string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(trunk)).Dec()
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
