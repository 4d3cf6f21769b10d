package observ

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics counts live fan-out activity. A nil *HubMetrics is valid and
// records nothing, so tests can build brokers without a registry.
type HubMetrics struct {
	Published     prometheus.Counter
	Delivered     prometheus.Counter
	Dropped       prometheus.Counter
	PublishErrors prometheus.Counter
	Subscribers   prometheus.Gauge
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmstream", Subsystem: "hub", Name: "published_total",
			Help: "Events accepted for fan-out.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmstream", Subsystem: "hub", Name: "delivered_total",
			Help: "Events handed to a subscriber buffer.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmstream", Subsystem: "hub", Name: "dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmstream", Subsystem: "hub", Name: "publish_errors_total",
			Help: "Publish calls rejected (queue full, closed, transport error).",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dmstream", Subsystem: "hub", Name: "subscribers",
			Help: "Currently open subscriptions.",
		}),
	}
	reg.MustRegister(m.Published, m.Delivered, m.Dropped, m.PublishErrors, m.Subscribers)
	return m
}

func (m *HubMetrics) IncPublished() {
	if m != nil {
		m.Published.Inc()
	}
}

func (m *HubMetrics) IncDelivered() {
	if m != nil {
		m.Delivered.Inc()
	}
}

func (m *HubMetrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *HubMetrics) IncPublishErrors() {
	if m != nil {
		m.PublishErrors.Inc()
	}
}

func (m *HubMetrics) SubscriberAdded() {
	if m != nil {
		m.Subscribers.Inc()
	}
}

func (m *HubMetrics) SubscriberRemoved() {
	if m != nil {
		m.Subscribers.Dec()
	}
}

// ChatMetrics counts send outcomes in the conversation service.
type ChatMetrics struct {
	Sent *prometheus.CounterVec
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmstream", Subsystem: "chat", Name: "send_total",
			Help: "SendMessage calls by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Sent)
	return m
}

func (m *ChatMetrics) IncSend(outcome string) {
	if m != nil {
		m.Sent.WithLabelValues(outcome).Inc()
	}
}
