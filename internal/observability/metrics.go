// Package observability exposes the Prometheus registry and the domain
// instruments shared across modules.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	dispenseClamps  prometheus.Counter
	reconciles      prometheus.Counter
	ledgerDrift     prometheus.Gauge
	jobRuns         *prometheus.CounterVec
}

// NewMetrics initialises the registry and base instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	clamps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_dispense_clamps_total",
		Help: "Settle-time dispenses reduced because stock ran short.",
	})
	reconciles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_bill_reconciles_total",
		Help: "Bill reconciliation passes.",
	})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_ledger_drift_batches",
		Help: "Batches whose stock log no longer sums to the live quantity, per last integrity sweep.",
	})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_jobs_total",
		Help: "Background job executions by task and outcome.",
	}, []string{"task", "outcome"})
	registry.MustRegister(requests, duration, clamps, reconciles, drift, jobs)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		dispenseClamps:  clamps,
		reconciles:      reconciles,
		ledgerDrift:     drift,
		jobRuns:         jobs,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counters and latency for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// DispenseClamped counts a settle-time quantity reduction.
func (m *Metrics) DispenseClamped() {
	if m != nil {
		m.dispenseClamps.Inc()
	}
}

// BillReconciled counts a reconciliation pass.
func (m *Metrics) BillReconciled() {
	if m != nil {
		m.reconciles.Inc()
	}
}

// SetLedgerDrift reports the drifted batch count from the last sweep.
func (m *Metrics) SetLedgerDrift(n int) {
	if m != nil {
		m.ledgerDrift.Set(float64(n))
	}
}

// JobRan counts a background job execution.
func (m *Metrics) JobRan(task, outcome string) {
	if m != nil {
		m.jobRuns.WithLabelValues(task, outcome).Inc()
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
