package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hitl"

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActionsSubmitted    *prometheus.CounterVec
	ActionsDecided      *prometheus.CounterVec
	ActionsExpired      prometheus.Counter
	AccessDenied        *prometheus.CounterVec
	SkillExecutions     *prometheus.CounterVec
	PIIRedactions       *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActionsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_submitted_total",
				Help:      "Pending actions submitted for approval",
			},
			[]string{"action_type"},
		),
		ActionsDecided: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_decided_total",
				Help:      "Pending actions accepted or rejected by an operator",
			},
			[]string{"decision"},
		),
		ActionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_expired_total",
				Help:      "Pending actions moved to expired by the sweeper",
			},
		),
		AccessDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_denied_total",
				Help:      "Decisions refused because the caller lacked an operator role",
			},
			[]string{"decision"},
		),
		SkillExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skill_executions_total",
				Help:      "Skill invocations by outcome",
			},
			[]string{"skill", "outcome"},
		),
		PIIRedactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pii_redactions_total",
				Help:      "PII spans redacted before persistence",
			},
			[]string{"category"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Approval notifications by result",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request latency",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActionsSubmitted,
		m.ActionsDecided,
		m.ActionsExpired,
		m.AccessDenied,
		m.SkillExecutions,
		m.PIIRedactions,
		m.Notifications,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry exposes the underlying registry for scraping in tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSubmitted(actionType string) {
	if m == nil {
		return
	}
	m.ActionsSubmitted.WithLabelValues(actionType).Inc()
}

func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.ActionsDecided.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ActionsExpired.Add(float64(n))
}

func (m *Metrics) RecordAccessDenied(decision string) {
	if m == nil {
		return
	}
	m.AccessDenied.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordSkill(skill, outcome string) {
	if m == nil {
		return
	}
	m.SkillExecutions.WithLabelValues(skill, outcome).Inc()
}

func (m *Metrics) RecordRedaction(category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PIIRedactions.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// RecordHTTP observes one served request. route is the chi route pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
