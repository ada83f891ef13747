package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox publish outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the outbox publisher's per-event outcomes and batch
// latency.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	batch  prometheus.Histogram
	lag    prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_outbox_events_total",
			Help: "Outbox events handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_outbox_batch_duration_seconds",
			Help:    "Time spent publishing one locked outbox batch.",
			Buckets: prometheus.DefBuckets,
		}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_outbox_publish_lag_seconds",
			Help:    "Delay between an outbox row being written and its publish.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 15, 60, 300, 900},
		}),
	}
	reg.MustRegister(m.events, m.batch, m.lag)
	return m
}

func (m *OutboxMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *OutboxMetrics) ObserveBatch(took time.Duration) {
	if m == nil {
		return
	}
	m.batch.Observe(took.Seconds())
}

// ObserveLag records how long a row waited between insert and publish.
func (m *OutboxMetrics) ObserveLag(createdAt, publishedAt time.Time) {
	if m == nil || createdAt.IsZero() || publishedAt.Before(createdAt) {
		return
	}
	m.lag.Observe(publishedAt.Sub(createdAt).Seconds())
}
