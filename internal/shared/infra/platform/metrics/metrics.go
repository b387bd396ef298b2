package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rutas de publicación de un registro del outbox.
const (
	PathRelay     = "relay"
	PathImmediate = "immediate"
)

// Metrics agrupa los contadores de mensajería. Un *Metrics nil es válido y no registra nada.
type Metrics struct {
	registry *prometheus.Registry

	outboxClaimed      prometheus.Counter
	outboxPublished    *prometheus.CounterVec
	outboxRetried      *prometheus.CounterVec
	outboxDeadLettered *prometheus.CounterVec
	immediateFailed    prometheus.Counter
	inboxProcessed     *prometheus.CounterVec
	inboxDuplicates    *prometheus.CounterVec
	idempotency        *prometheus.CounterVec
	consumerUp         *prometheus.GaugeVec
}

// New crea un registro propio con los colectores de runtime y los contadores de la app.
func New(namespace string) *Metrics {
	namespace = strings.ReplaceAll(namespace, "-", "_")
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		outboxClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "claimed_total",
			Help: "Outbox records claimed by the publisher.",
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "published_total",
			Help: "Outbox records marked PUBLISHED.",
		}, []string{"type", "path"}),
		outboxRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "retried_total",
			Help: "Failed publish attempts released for retry.",
		}, []string{"type"}),
		outboxDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "dead_lettered_total",
			Help: "Outbox records marked FAILED after exhausting attempts.",
		}, []string{"type"}),
		immediateFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "immediate_publish_failures_total",
			Help: "Best-effort publishes after commit that were left to the publisher.",
		}),
		inboxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inbox", Name: "processed_total",
			Help: "Inbound messages applied.",
		}, []string{"consumer_group"}),
		inboxDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inbox", Name: "duplicates_total",
			Help: "Inbound messages skipped because they were already processed.",
		}, []string{"consumer_group"}),
		idempotency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "idempotency", Name: "outcomes_total",
			Help: "Idempotency decisions by outcome.",
		}, []string{"outcome"}),
		consumerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "up",
			Help: "1 while the topic reader is consuming, 0 once it stopped.",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		m.outboxClaimed, m.outboxPublished, m.outboxRetried, m.outboxDeadLettered,
		m.immediateFailed, m.inboxProcessed, m.inboxDuplicates, m.idempotency, m.consumerUp,
	)
	return m
}

// Handler expone el registro para /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OutboxClaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxClaimed.Add(float64(n))
}

func (m *Metrics) OutboxPublished(eventType, path string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(eventType, path).Inc()
}

func (m *Metrics) OutboxRetried(eventType string) {
	if m == nil {
		return
	}
	m.outboxRetried.WithLabelValues(eventType).Inc()
}

func (m *Metrics) OutboxDeadLettered(eventType string) {
	if m == nil {
		return
	}
	m.outboxDeadLettered.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ImmediatePublishFailed() {
	if m == nil {
		return
	}
	m.immediateFailed.Inc()
}

func (m *Metrics) InboxProcessed(group string) {
	if m == nil {
		return
	}
	m.inboxProcessed.WithLabelValues(group).Inc()
}

func (m *Metrics) InboxDuplicate(group string) {
	if m == nil {
		return
	}
	m.inboxDuplicates.WithLabelValues(group).Inc()
}

func (m *Metrics) IdempotencyOutcome(outcome string) {
	if m == nil {
		return
	}
	m.idempotency.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConsumerUp(topic string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.consumerUp.WithLabelValues(topic).Set(v)
}
