package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationKind — дискриминатор варианта уведомления.
type NotificationKind string

const (
	NotificationKindOrder   NotificationKind = "order"
	NotificationKindProduct NotificationKind = "product"
)

// NotificationAction — что произошло с сущностью.
type NotificationAction string

const (
	ActionCreate NotificationAction = "CREATE"
	ActionUpdate NotificationAction = "UPDATE"
	ActionDelete NotificationAction = "DELETE"
)

// OrderSnapshot — состояние заказа в уведомлении.
type OrderSnapshot struct {
	ID          string `json:"id"`
	OwnerID     int64  `json:"ownerId"`
	TotalItems  int    `json:"totalItems"`
	TotalAmount Money  `json:"totalAmount"`
	Lines       int    `json:"lines"`
	IsDeleted   bool   `json:"isDeleted"`
	Version     int64  `json:"version"`
}

// ProductSnapshot — состояние товара в уведомлении.
type ProductSnapshot struct {
	ID            int64 `json:"id"`
	StockQuantity int   `json:"stockQuantity"`
	Price         Money `json:"price"`
	IsActive      bool  `json:"isActive"`
}

// Notification — размеченное объединение: заполнен ровно один payload, соответствующий Kind.
type Notification struct {
	Kind       NotificationKind   `json:"kind"`
	Action     NotificationAction `json:"action"`
	Order      *OrderSnapshot     `json:"order,omitempty"`
	Product    *ProductSnapshot   `json:"product,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// NewOrderNotification строит уведомление об изменении заказа.
func NewOrderNotification(action NotificationAction, order Order) Notification {
	return Notification{
		Kind:   NotificationKindOrder,
		Action: action,
		Order: &OrderSnapshot{
			ID:          order.ID,
			OwnerID:     order.OwnerID,
			TotalItems:  order.TotalItems,
			TotalAmount: order.TotalAmount,
			Lines:       len(order.Lines),
			IsDeleted:   order.IsDeleted,
			Version:     order.Version,
		},
		OccurredAt: time.Now().UTC(),
	}
}

// NewProductNotification строит уведомление об изменении товара.
func NewProductNotification(action NotificationAction, product Product) Notification {
	return Notification{
		Kind:   NotificationKindProduct,
		Action: action,
		Product: &ProductSnapshot{
			ID:            product.ID,
			StockQuantity: product.StockQuantity,
			Price:         product.Price,
			IsActive:      product.IsActive,
		},
		OccurredAt: time.Now().UTC(),
	}
}

// Validate проверяет согласованность Kind и payload.
func (n Notification) Validate() error {
	switch n.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidNotification, n.Action)
	}

	switch n.Kind {
	case NotificationKindOrder:
		if n.Order == nil || n.Product != nil {
			return fmt.Errorf("%w: order notification must carry only an order payload", ErrInvalidNotification)
		}
	case NotificationKindProduct:
		if n.Product == nil || n.Order != nil {
			return fmt.Errorf("%w: product notification must carry only a product payload", ErrInvalidNotification)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidNotification, n.Kind)
	}
	return nil
}

// AggregateID — ключ партиционирования уведомления.
func (n Notification) AggregateID() string {
	switch n.Kind {
	case NotificationKindOrder:
		if n.Order != nil {
			return n.Order.ID
		}
	case NotificationKindProduct:
		if n.Product != nil {
			return fmt.Sprintf("%d", n.Product.ID)
		}
	}
	return ""
}

// EventType — имя события для outbox, например "order.create".
func (n Notification) EventType() string {
	return fmt.Sprintf("%s.%s", n.Kind, strings.ToLower(string(n.Action)))
}
