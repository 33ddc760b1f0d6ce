package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

// Topics для Kafka
const (
	TopicNotifications   = "oms.catalog.notifications"
	TopicDeadLetterQueue = "oms.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderReplayedAt    = "x-replayed-at"
)

// Envelope — формат сообщения в топике уведомлений.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}
}

// Notification декодирует payload и проверяет, что вариант уведомления согласован.
func (e Envelope) Notification() (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrInvalidNotification, err)
	}
	if err := n.Validate(); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// DeadLetter — формат записи в топике DLQ.
type DeadLetter = domain.DeadLetter

// ParseDeadLetter разбирает запись DLQ.
func ParseDeadLetter(data []byte) (DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("unmarshal dead letter: %w", err)
	}
	if dl.OutboxID == "" || len(dl.Payload) == 0 {
		return DeadLetter{}, fmt.Errorf("dead letter has no outbox id or payload")
	}
	return dl, nil
}
