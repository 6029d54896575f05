package metrics

import "github.com/prometheus/client_golang/prometheus"

// DiscussionMetrics tracks message posting and live fan-out.
type DiscussionMetrics struct {
	posted          prometheus.Counter
	delivered       prometheus.Counter
	dropped         prometheus.Counter
	publishFailures prometheus.Counter
	subscribers     prometheus.Gauge
	channels        prometheus.Gauge
}

// NewDiscussionMetrics registers the discussion metrics on the provided registerer.
func NewDiscussionMetrics(reg prometheus.Registerer) *DiscussionMetrics {
	if reg == nil {
		return &DiscussionMetrics{}
	}
	m := &DiscussionMetrics{
		posted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discussion_messages_posted_total",
			Help: "Messages appended to proposal discussions.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discussion_fanout_delivered_total",
			Help: "Live pushes handed to local subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discussion_fanout_dropped_total",
			Help: "Live pushes dropped because a subscriber buffer was full.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discussion_publish_failures_total",
			Help: "Broker publishes that failed after the message was stored.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discussion_subscribers",
			Help: "Open local subscriptions.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discussion_broker_channels",
			Help: "Proposals with an open broker subscription in this process.",
		}),
	}
	reg.MustRegister(m.posted, m.delivered, m.dropped, m.publishFailures, m.subscribers, m.channels)
	return m
}

func (m *DiscussionMetrics) IncPosted() {
	if m == nil || m.posted == nil {
		return
	}
	m.posted.Inc()
}

func (m *DiscussionMetrics) IncDelivered() {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.Inc()
}

func (m *DiscussionMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}

func (m *DiscussionMetrics) IncPublishFailure() {
	if m == nil || m.publishFailures == nil {
		return
	}
	m.publishFailures.Inc()
}

// SubscriberAdded and SubscriberRemoved keep the open subscription gauge current.
func (m *DiscussionMetrics) SubscriberAdded() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *DiscussionMetrics) SubscriberRemoved() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *DiscussionMetrics) ChannelOpened() {
	if m == nil || m.channels == nil {
		return
	}
	m.channels.Inc()
}

func (m *DiscussionMetrics) ChannelClosed() {
	if m == nil || m.channels == nil {
		return
	}
	m.channels.Dec()
}
