// Package metrics exposes operational counters for sync, rebuild, and
// webhook activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by counters that distinguish outcomes.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Webhook outcome label values.
const (
	WebhookOutcomeRejected   = "rejected"
	WebhookOutcomeIgnored    = "ignored"
	WebhookOutcomeMalformed  = "malformed"
	WebhookOutcomeFailed     = "failed"
	WebhookOutcomeDispatched = "dispatched"
)

// Metrics holds the counter set on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns       *prometheus.CounterVec
	upserts        *prometheus.CounterVec
	rebuilds       *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	githubRequests prometheus.Counter
}

// New creates and registers the counter set.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contrib_sync_runs_total",
			Help: "Repository sync runs by result.",
		}, []string{"result"}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contrib_upserts_total",
			Help: "Contribution upserts by result.",
		}, []string{"result"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contrib_rebuilds_total",
			Help: "Leaderboard rebuilds by result.",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contrib_webhook_events_total",
			Help: "Inbound webhook deliveries by outcome.",
		}, []string{"outcome"}),
		githubRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contrib_github_requests_total",
			Help: "Requests issued to the GitHub API.",
		}),
	}

	registry.MustRegister(
		m.syncRuns,
		m.upserts,
		m.rebuilds,
		m.webhookEvents,
		m.githubRequests,
	)
	return m
}

// Handler renders the registry in OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SyncRun records one finished sync run.
func (m *Metrics) SyncRun(result string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
}

// Upsert records one contribution upsert attempt.
func (m *Metrics) Upsert(result string) {
	if m == nil {
		return
	}
	m.upserts.WithLabelValues(result).Inc()
}

// Rebuild records one leaderboard rebuild attempt.
func (m *Metrics) Rebuild(result string) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(result).Inc()
}

// WebhookEvent records one inbound delivery.
func (m *Metrics) WebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

// GitHubRequest records one upstream API request.
func (m *Metrics) GitHubRequest() {
	if m == nil {
		return
	}
	m.githubRequests.Inc()
}
