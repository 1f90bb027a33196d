package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AutoReplyMetrics exposes counters/histograms for the inbound auto-reply pipeline.
type AutoReplyMetrics struct {
	decisions *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func NewAutoReplyMetrics(reg prometheus.Registerer) *AutoReplyMetrics {
	m := &AutoReplyMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haulops",
			Subsystem: "autoreply",
			Name:      "decisions_total",
			Help:      "Auto-reply pipeline outcomes by status and reason",
		}, []string{"status", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "haulops",
			Subsystem: "autoreply",
			Name:      "duration_seconds",
			Help:      "Time spent deciding and persisting one auto-reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisions, m.latency)
	return m
}

// ObserveDecision counts one orchestrator invocation.
func (m *AutoReplyMetrics) ObserveDecision(status, reason string, took time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(status, reason).Inc()
	m.latency.WithLabelValues(status).Observe(took.Seconds())
}

// OutboxMetrics counts outbox delivery attempts.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	m := &OutboxMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haulops",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox delivery attempts by event type and result",
		}, []string{"type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.deliveries)
	return m
}

func (m *OutboxMetrics) ObserveDelivery(eventType, status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(eventType, status).Inc()
}
