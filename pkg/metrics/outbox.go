package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts what the outbox publisher did with each row.
type OutboxMetrics struct {
	results *prometheus.CounterVec
	batches prometheus.Counter
}

// NewOutboxMetrics registers the outbox publisher metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the publisher, by result.",
		}, []string{"event_type", "result"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_batches_total",
			Help: "Non-empty batches claimed by the publisher.",
		}),
	}
	reg.MustRegister(m.results, m.batches)
	return m
}

// IncResult counts one row outcome: published, retry or dead_lettered.
func (m *OutboxMetrics) IncResult(eventType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *OutboxMetrics) IncBatch() {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Inc()
}
