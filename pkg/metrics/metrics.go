// Package metrics provides Prometheus metrics for the Plank core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	CommitsTotal         *prometheus.CounterVec
	CommitDuration       prometheus.Histogram
	EventsPublishedTotal prometheus.Counter
	PublishFailuresTotal prometheus.Counter
	DeliveriesTotal      *prometheus.CounterVec
	OutboxPendingRows    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plank_commits_total",
				Help: "Unit-of-work commits by outcome (committed, conflict, persistence_error, publish_error).",
			},
			[]string{"outcome"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plank_commit_duration_seconds",
				Help:    "Unit-of-work commit duration including publish.",
				Buckets: prometheus.DefBuckets,
			},
		),
		EventsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plank_events_published_total",
				Help: "Domain events handed to the publisher.",
			},
		),
		PublishFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plank_publish_failures_total",
				Help: "Post-commit publish failures (state persisted, events undelivered).",
			},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plank_webhook_deliveries_total",
				Help: "Webhook delivery attempts by result (success, failure, exhausted).",
			},
			[]string{"result"},
		),
		OutboxPendingRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plank_outbox_pending_rows",
				Help: "Events waiting in the transactional outbox.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.CommitsTotal)
	reg.MustRegister(m.CommitDuration)
	reg.MustRegister(m.EventsPublishedTotal)
	reg.MustRegister(m.PublishFailuresTotal)
	reg.MustRegister(m.DeliveriesTotal)
	reg.MustRegister(m.OutboxPendingRows)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommit increments the commit counter for an outcome.
func (m *Metrics) RecordCommit(outcome string) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCommitDuration records one commit's wall time in seconds.
func (m *Metrics) ObserveCommitDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CommitDuration.Observe(seconds)
}

// RecordPublished adds to the published-events counter.
func (m *Metrics) RecordPublished(count int) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.Add(float64(count))
}

// RecordPublishFailure increments the loud post-commit failure counter.
func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailuresTotal.Inc()
}

// RecordDelivery increments the webhook delivery counter for a result.
func (m *Metrics) RecordDelivery(result string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(result).Inc()
}

// SetOutboxPending sets the pending outbox row gauge.
func (m *Metrics) SetOutboxPending(count float64) {
	if m == nil {
		return
	}
	m.OutboxPendingRows.Set(count)
}
