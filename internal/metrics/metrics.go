package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the gateway's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	gateDuration    *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	logins          *prometheus.CounterVec
	auditPruned     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consulate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route template and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consulate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route template.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consulate",
			Name:      "gate_decisions_total",
			Help:      "Gate outcomes; code is \"pass\" or the rejection code.",
		}, []string{"gate", "code"}),
		gateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consulate",
			Name:      "gate_duration_seconds",
			Help:      "Time spent in each gate.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"gate"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consulate",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by tier.",
		}, []string{"tier"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consulate",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		auditPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consulate",
			Name:      "audit_events_pruned_total",
			Help:      "Audit events deleted by retention cleanup.",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.gateDecisions,
		m.gateDuration,
		m.rateLimited,
		m.logins,
		m.auditPruned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordRequest increments the request counter and observes latency. route
// is the matched template so ids never become label values.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveGate implements gate.Observer.
func (m *Metrics) ObserveGate(gate, code string, d time.Duration) {
	if code == "" {
		code = "pass"
	}
	m.gateDecisions.WithLabelValues(gate, code).Inc()
	m.gateDuration.WithLabelValues(gate).Observe(d.Seconds())
}

func (m *Metrics) RecordRateLimited(tier string) {
	m.rateLimited.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordLogin(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAuditPruned(n int64) {
	m.auditPruned.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
