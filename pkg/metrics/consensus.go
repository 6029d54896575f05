package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsensusMetrics records vote and evaluation activity.
type ConsensusMetrics struct {
	votes       *prometheus.CounterVec
	evaluations *prometheus.CounterVec
	duration    prometheus.Histogram
	transitions *prometheus.CounterVec
}

// NewConsensusMetrics registers the consensus metrics on the provided registerer.
func NewConsensusMetrics(reg prometheus.Registerer) *ConsensusMetrics {
	if reg == nil {
		return &ConsensusMetrics{}
	}
	votes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_votes_total",
		Help: "Votes recorded, by choice.",
	}, []string{"choice"})
	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_evaluations_total",
		Help: "Threshold evaluations, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proposal_evaluation_duration_seconds",
		Help:    "Time spent evaluating a proposal after a vote.",
		Buckets: prometheus.DefBuckets,
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_transitions_total",
		Help: "Status transitions won, by target status.",
	}, []string{"status"})
	reg.MustRegister(votes, evaluations, duration, transitions)
	return &ConsensusMetrics{
		votes:       votes,
		evaluations: evaluations,
		duration:    duration,
		transitions: transitions,
	}
}

// IncVote counts one recorded vote.
func (m *ConsensusMetrics) IncVote(approve bool) {
	if m == nil || m.votes == nil {
		return
	}
	choice := "reject"
	if approve {
		choice = "approve"
	}
	m.votes.WithLabelValues(choice).Inc()
}

// ObserveEvaluation records one evaluation and how it ended.
func (m *ConsensusMetrics) ObserveEvaluation(outcome string, took time.Duration) {
	if m == nil || m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.duration.Observe(took.Seconds())
}

// IncTransition counts a status change this process won.
func (m *ConsensusMetrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
