package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// ReservationMetrics содержит метрики жизненного цикла заказа и движка резервирования.
// Методы безопасно вызывать на nil.
type ReservationMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stockAdjustments  *prometheus.CounterVec
	stockConflicts    prometheus.Counter
	compensationFails *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	timelineEvents    prometheus.Counter
	inFlight          prometheus.Gauge
}

// NewReservationMetrics регистрирует метрики в DefaultRegisterer.
func NewReservationMetrics() *ReservationMetrics {
	return NewReservationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReservationMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewReservationMetricsWithRegisterer(registerer prometheus.Registerer) *ReservationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReservationMetrics{
		operations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_order_operations_total",
			Help: "Order lifecycle operations by operation and result",
		}, []string{"operation", "result"}), "oms_order_operations_total"),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oms_order_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}), "oms_order_operation_duration_seconds"),
		stockAdjustments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_stock_adjustments_total",
			Help: "Stock reservations and releases by result",
		}, []string{"operation", "result"}), "oms_stock_adjustments_total"),
		stockConflicts: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_stock_conflicts_total",
			Help: "Atomic stock adjustments rejected because stock dropped below the required minimum",
		}), "oms_stock_conflicts_total"),
		compensationFails: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_stock_compensation_failures_total",
			Help: "Compensating stock adjustments that failed and left stock inconsistent",
		}, []string{"operation"}), "oms_stock_compensation_failures_total"),
		notifications: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_notifications_enqueued_total",
			Help: "Notifications written to the outbox by kind",
		}, []string{"kind"}), "oms_notifications_enqueued_total"),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}), "oms_timeline_events_total"),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_order_operations_in_flight",
			Help: "Number of order mutations currently running",
		}), "oms_order_operations_in_flight"),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C, name string) C {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// StartOperation отмечает начало мутации; возвращённая функция фиксирует результат и длительность.
func (m *ReservationMetrics) StartOperation(operation string) func(result string) {
	if m == nil {
		return func(string) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.operations.WithLabelValues(operation, result).Inc()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	}
}

// RecordStockAdjustment учитывает резервирование или возврат остатка.
func (m *ReservationMetrics) RecordStockAdjustment(operation, result string) {
	if m == nil {
		return
	}
	m.stockAdjustments.WithLabelValues(operation, result).Inc()
	if result == ResultConflict {
		m.stockConflicts.Inc()
	}
}

// RecordCompensationFailure учитывает неудачную компенсацию.
func (m *ReservationMetrics) RecordCompensationFailure(operation string) {
	if m == nil {
		return
	}
	m.compensationFails.WithLabelValues(operation).Inc()
}

// RecordNotification учитывает уведомление, записанное в outbox.
func (m *ReservationMetrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ReservationMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}
