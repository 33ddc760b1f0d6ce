package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IdempotencyMetrics — метрики ключей Idempotency-Key и их очистки. Методы безопасно вызывать на nil.
type IdempotencyMetrics struct {
	outcomes        *prometheus.CounterVec
	cleanupRuns     *prometheus.CounterVec
	cleanupDeleted  prometheus.Counter
	cleanupLast     prometheus.Gauge
	cleanupDuration prometheus.Histogram
}

// Значения метки outcome.
const (
	OutcomeExecuted = "executed"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
)

// NewIdempotencyMetrics регистрирует метрики в переданном реестре.
func NewIdempotencyMetrics(registerer prometheus.Registerer) *IdempotencyMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &IdempotencyMetrics{
		outcomes: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_idempotency_requests_total",
			Help: "Create requests carrying an Idempotency-Key by outcome",
		}, []string{"outcome"}), "oms_idempotency_requests_total"),
		cleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs by result",
		}, []string{"result"}), "oms_idempotency_cleanup_runs_total"),
		cleanupDeleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency keys deleted by cleanup",
		}), "oms_idempotency_cleanup_deleted_total"),
		cleanupLast: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_idempotency_cleanup_last_deleted",
			Help: "Keys deleted during the last cleanup run",
		}), "oms_idempotency_cleanup_last_deleted"),
		cleanupDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oms_idempotency_cleanup_duration_seconds",
			Help:    "Duration of idempotency cleanup runs",
			Buckets: prometheus.DefBuckets,
		}), "oms_idempotency_cleanup_duration_seconds"),
	}
}

// RecordOutcome учитывает исход запроса с ключом.
func (m *IdempotencyMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RecordCleanup учитывает один проход очистки.
func (m *IdempotencyMetrics) RecordCleanup(deleted int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.cleanupDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.cleanupRuns.WithLabelValues(ResultError).Inc()
		return
	}
	m.cleanupRuns.WithLabelValues(ResultSuccess).Inc()
	m.cleanupDeleted.Add(float64(deleted))
	m.cleanupLast.Set(float64(deleted))
}
