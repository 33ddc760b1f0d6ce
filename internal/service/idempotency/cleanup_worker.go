package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) { w.logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом к хранилищу.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithCleanupMetrics подключает метрики очистки.
func WithCleanupMetrics(m *metrics.IdempotencyMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// CleanupWorker удаляет просроченные ключи Idempotency-Key, после чего тот же ключ
// можно использовать для нового заказа.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.IdempotencyMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       time.Now,
	}
	for _, option := range options {
		option(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup")
	}
	return w
}

// Run чистит ключи сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	started := time.Now()
	deleted, err := w.DeleteExpired(ctx, w.now().UTC())
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.RecordCleanup(deleted, time.Since(started), err)

	switch {
	case err != nil:
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup failed")
	case deleted > 0:
		w.logger.WithField("deleted", deleted).Info("expired idempotency keys deleted")
	}
}

// DeleteExpired удаляет все ключи с TTL не позже before. Хранилище вызывается порциями
// по batchSize, пока очередная порция не окажется неполной.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().UTC()
	}

	total := 0
	for ctx.Err() == nil {
		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		total += deleted
		if err != nil {
			return total, err
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
