package domain

import (
	"fmt"
	"strings"
	"time"
)

// Типы событий в истории заказа.
const (
	TimelineOrderCreated = "OrderCreated"
	TimelineOrderUpdated = "OrderUpdated"
	TimelineOrderRemoved = "OrderRemoved"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Validate проверяет, что событие привязано к заказу и имеет известный тип.
func (e TimelineEvent) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidTimelineEvent)
	}
	switch e.Type {
	case TimelineOrderCreated, TimelineOrderUpdated, TimelineOrderRemoved:
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidTimelineEvent, e.Type)
}

// Normalize проверяет событие и подставляет время, если оно не задано.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	if err := e.Validate(); err != nil {
		return TimelineEvent{}, err
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
