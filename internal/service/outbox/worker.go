// Package outbox доставляет уведомления из transactional outbox в брокер.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// outcome — итог доставки одного сообщения.
type outcome int

const (
	delivered outcome = iota
	// deferred: брокер недоступен, сообщение остаётся pending до следующего цикла.
	deferred
	deadLettered
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher задаёт publisher для сообщений, которые не удалось доставить.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithMetrics включает метрики доставки.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации перед DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(delay, 0) }
}

// Worker публикует pending-сообщения из outbox в порядке записи.
// Несогласованное уведомление не ретраится и сразу уходит в DLQ.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlq            domain.OutboxPublisher
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
	}
	for _, option := range options {
		option(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce выполняет один цикл опроса и возвращает число доставленных сообщений.
// Отложенное сообщение останавливает батч, чтобы не нарушить порядок.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}

		result := w.deliver(ctx, msg)
		if result == deferred {
			break
		}
		if result == delivered {
			sent++
		}
		w.settle(ctx, msg, result)
	}
	return sent
}

func (w *Worker) settle(ctx context.Context, msg domain.OutboxMessage, result outcome) {
	mark, status := w.repo.MarkSent, "sent"
	if result == deadLettered {
		mark, status = w.repo.MarkFailed, "failed"
	}
	if err := mark(ctx, msg.ID); err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"outbox_id": msg.ID,
			"status":    status,
		}).Warn("failed to settle outbox message")
	}
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) outcome {
	logger := w.logger.WithFields(log.Fields{"outbox_id": msg.ID, "event_type": msg.EventType})

	err := w.publishWithRetry(ctx, msg)
	switch {
	case err == nil:
		return delivered
	case ctx.Err() != nil:
		return deferred
	case errors.Is(err, domain.ErrOutboxPublish):
		logger.WithError(err).Warn("broker unavailable, outbox delivery deferred")
		w.metrics.RecordPublish(msg.EventType, metrics.PublishDeferred)
		return deferred
	}

	logger.WithError(err).Error("outbox publish failed")
	w.metrics.RecordPublish(msg.EventType, metrics.PublishFailed)
	if dlqErr := w.deadLetter(ctx, msg, err); dlqErr != nil {
		logger.WithError(dlqErr).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish(msg.EventType, metrics.PublishDLQFailed)
	}
	return deadLettered
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, w.retryBackoff(attempt-1)); err != nil {
				return err
			}
		}

		err := w.publisher.Publish(ctx, msg)
		if err == nil {
			w.metrics.RecordPublish(msg.EventType, metrics.PublishSent)
			return nil
		}
		w.metrics.RecordPublish(msg.EventType, metrics.PublishRetry)
		if errors.Is(err, domain.ErrInvalidNotification) || errors.Is(err, domain.ErrOutboxPublish) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryBackoff удваивает задержку с каждой попыткой, без переполнения.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

// deadLetter публикует в DLQ исходное сообщение вместе с причиной отказа.
func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, publishErr error) error {
	if w.dlq == nil {
		return nil
	}
	wrapped, err := domain.NewDeadLetter(msg, publishErr, w.now()).Wrap()
	if err != nil {
		return err
	}
	if err := w.dlq.Publish(ctx, wrapped); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	w.metrics.RecordPublish(msg.EventType, metrics.PublishDeadLetter)
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if ctx.Err() != nil || w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}
