package domain

import (
	"fmt"
	"strings"
)

// SortField — поле сортировки списка заказов.
type SortField string

const (
	SortByID      SortField = "id"
	SortByOwnerID SortField = "ownerId"
)

// SortDirection — направление сортировки.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// PageQuery — параметры постраничного списка.
type PageQuery struct {
	Page          int
	Limit         int
	SortField     SortField
	SortDirection SortDirection
}

// OrderPage — одна страница заказов.
type OrderPage struct {
	Orders     []Order
	Page       int
	Limit      int
	Total      int64
	TotalPages int
}

// Normalize подставляет значения по умолчанию и проверяет параметры.
func (q PageQuery) Normalize() (PageQuery, error) {
	if q.Page == 0 {
		q.Page = DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Page < 1 {
		return q, fmt.Errorf("%w: page must be >= 1", ErrInvalidPageQuery)
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return q, fmt.Errorf("%w: limit must be in [1, %d]", ErrInvalidPageQuery, MaxLimit)
	}

	switch strings.ToLower(strings.TrimSpace(string(q.SortField))) {
	case "":
		q.SortField = SortByOwnerID
	case "id", "_id":
		q.SortField = SortByID
	case "ownerid", "owner_id", "userid":
		q.SortField = SortByOwnerID
	default:
		return q, fmt.Errorf("%w: unsupported sort field %q", ErrInvalidPageQuery, q.SortField)
	}

	switch strings.ToLower(strings.TrimSpace(string(q.SortDirection))) {
	case "", "asc":
		q.SortDirection = SortAsc
	case "desc":
		q.SortDirection = SortDesc
	default:
		return q, fmt.Errorf("%w: unsupported sort direction %q", ErrInvalidPageQuery, q.SortDirection)
	}

	return q, nil
}

// Offset — количество пропускаемых записей.
func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// NewOrderPage собирает страницу и считает количество страниц.
func NewOrderPage(q PageQuery, orders []Order, total int64) OrderPage {
	pages := 0
	if q.Limit > 0 {
		pages = int((total + int64(q.Limit) - 1) / int64(q.Limit))
	}
	if orders == nil {
		orders = []Order{}
	}
	return OrderPage{
		Orders:     orders,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: pages,
	}
}
