package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок жизни ключа, если вызывающий его не задал.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus — состояние ключа Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid сообщает, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// Settled — запрос завершён и его ответ сохранён.
func (s IdempotencyStatus) Settled() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord — ключ создания заказа вместе с сохранённым ответом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord нормализует ключ и хэш и открывает запись в статусе processing.
// Нулевой ttlAt заменяется на now + DefaultIdempotencyTTL.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	now = now.UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Expired — ключ отжил своё и может быть занят заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Conflict объясняет, почему живой ключ нельзя занять запросом с данным хэшем.
func (r IdempotencyRecord) Conflict(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Settle фиксирует итог запроса: 2xx как done, остальное как failed.
func (r *IdempotencyRecord) Settle(body []byte, httpStatus int, now time.Time) {
	r.Status = SettledStatus(httpStatus)
	r.ResponseBody = append([]byte(nil), body...)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = now.UTC()
}

// SettledStatus выбирает итоговый статус по HTTP-коду ответа.
func SettledStatus(httpStatus int) IdempotencyStatus {
	if httpStatus >= 200 && httpStatus < 300 {
		return IdempotencyStatusDone
	}
	return IdempotencyStatusFailed
}
