package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts settlement attempts by provider and outcome.
type SettlementMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	webhooks *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_finalize_total",
		Help: "Settlement attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_finalize_duration_seconds",
		Help:    "Duration of the settlement transaction in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"provider"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhook_events_total",
		Help: "Inbound processor webhook deliveries by provider, type and result.",
	}, []string{"provider", "event_type", "result"})
	reg.MustRegister(outcomes, duration, webhooks)
	return &SettlementMetrics{outcomes: outcomes, duration: duration, webhooks: webhooks}
}

// ObserveFinalize records one settlement attempt.
func (m *SettlementMetrics) ObserveFinalize(provider, outcome string, took time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(provider)).Observe(took.Seconds())
}

// IncWebhook records one inbound delivery.
func (m *SettlementMetrics) IncWebhook(provider, eventType, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
