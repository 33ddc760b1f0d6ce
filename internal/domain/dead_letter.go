package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetter — запись о сообщении outbox, которое так и не удалось опубликовать.
// Содержит исходный payload, поэтому сообщение можно переиграть.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetter фиксирует причину отказа публикации.
func NewDeadLetter(msg OutboxMessage, publishErr error, failedAt time.Time) DeadLetter {
	reason := "unknown error"
	if publishErr != nil {
		reason = publishErr.Error()
	}
	return DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishError:  reason,
		FailedAt:      failedAt.UTC(),
	}
}

// Wrap упаковывает запись в outbox-сообщение для публикации в DLQ
// с теми же идентификаторами, что и у исходного.
func (d DeadLetter) Wrap() (OutboxMessage, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", d.OutboxID, err)
	}
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       payload,
	}, nil
}

// OutboxMessage восстанавливает исходное outbox-сообщение.
func (d DeadLetter) OutboxMessage() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}
