// Package idempotency обеспечивает однократное выполнение запросов с Idempotency-Key
// и очистку просроченных ключей.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
)

// Response — сохраняемый ответ на запрос.
type Response struct {
	Status int
	Body   []byte
}

// Guard выполняет обработчик не более одного раза на ключ и повторяет сохранённый ответ.
type Guard struct {
	repo    domain.IdempotencyRepository
	ttl     time.Duration
	logger  *log.Entry
	metrics *metrics.IdempotencyMetrics
	now     func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт время жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// WithGuardMetrics включает счётчики исходов.
func WithGuardMetrics(m *metrics.IdempotencyMetrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{repo: repo, ttl: domain.DefaultIdempotencyTTL, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.WithField("component", "idempotency-guard")
	}
	return g
}

// RequestHash строит отпечаток запроса: маршрут плюс тело.
func RequestHash(route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(route))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Do выполняет handler, если ключ новый. Для известного ключа возвращает сохранённый ответ,
// ErrIdempotencyHashMismatch для другого тела или ErrIdempotencyKeyAlreadyExists,
// пока первый запрос ещё выполняется.
func (g *Guard) Do(ctx context.Context, key, requestHash string, handler func(context.Context) Response) (Response, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Response{}, false, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().UTC().Add(g.ttl))
	if err != nil {
		resp, replayErr := replay(record, err)
		switch {
		case replayErr == nil:
			g.metrics.RecordOutcome(metrics.OutcomeReplayed)
		case errors.Is(replayErr, domain.ErrIdempotencyHashMismatch),
			errors.Is(replayErr, domain.ErrIdempotencyKeyAlreadyExists):
			g.metrics.RecordOutcome(metrics.OutcomeConflict)
		}
		return resp, replayErr == nil, replayErr
	}

	g.metrics.RecordOutcome(metrics.OutcomeExecuted)
	resp := handler(ctx)
	g.store(context.WithoutCancel(ctx), key, resp)
	return resp, false, nil
}

func replay(record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, createErr
	case !errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	case record.Status == domain.IdempotencyStatusProcessing:
		return Response{}, fmt.Errorf("%w: request is still processing", createErr)
	case !record.Status.Settled():
		return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
	case record.HTTPStatus == 0:
		return Response{}, fmt.Errorf("idempotency record %s has no stored response", record.Key)
	}
	return Response{Status: record.HTTPStatus, Body: record.ResponseBody}, nil
}

// store сохраняет ответ, чтобы повтор с тем же ключом получил его же.
func (g *Guard) store(ctx context.Context, key string, resp Response) {
	if err := g.repo.Settle(ctx, key, resp.Body, resp.Status); err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"status":          resp.Status,
		}).Warn("failed to store idempotent response")
	}
}
