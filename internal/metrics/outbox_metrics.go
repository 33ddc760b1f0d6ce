package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы публикации outbox-сообщения.
const (
	PublishSent       = "sent"
	PublishRetry      = "retry_error"
	PublishDeferred   = "deferred"
	PublishFailed     = "failed"
	PublishDLQFailed  = "dlq_failed"
	PublishDeadLetter = "dead_lettered"
)

// OutboxMetrics — метрики доставки уведомлений и backlog outbox. Методы безопасно вызывать на nil.
type OutboxMetrics struct {
	attempts  *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики в переданном реестре.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		attempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by event type and result",
		}, []string{"event_type", "result"}), "oms_outbox_publish_attempts_total"),
		pending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		}), "oms_outbox_pending_records"),
		oldestAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record",
		}), "oms_outbox_oldest_pending_age_seconds"),
	}
}

// RecordPublish учитывает одну попытку или итог доставки.
func (m *OutboxMetrics) RecordPublish(eventType, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(eventType, result).Inc()
}

// SetBacklog выставляет размер очереди и возраст самого старого сообщения.
func (m *OutboxMetrics) SetBacklog(pending int, oldest, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	m.oldestAge.Set(max(now.Sub(oldest).Seconds(), 0))
}
