package domain

import (
	"errors"
	"testing"
)

func TestPageQueryNormalize(t *testing.T) {
	q, err := PageQuery{}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Page != 1 || q.Limit != 20 || q.SortField != SortByOwnerID || q.SortDirection != SortAsc {
		t.Fatalf("unexpected defaults: %+v", q)
	}

	q, err = PageQuery{Page: 2, Limit: 5, SortField: "_id", SortDirection: "DESC"}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.SortField != SortByID || q.SortDirection != SortDesc || q.Offset() != 5 {
		t.Fatalf("unexpected query: %+v", q)
	}

	for _, bad := range []PageQuery{
		{Page: -1},
		{Limit: MaxLimit + 1},
		{SortField: "price"},
		{SortDirection: "up"},
	} {
		if _, err := bad.Normalize(); !errors.Is(err, ErrInvalidPageQuery) {
			t.Fatalf("expected ErrInvalidPageQuery for %+v, got %v", bad, err)
		}
	}
}

func TestNewOrderPage(t *testing.T) {
	page := NewOrderPage(PageQuery{Page: 1, Limit: 20}, nil, 41)
	if page.TotalPages != 3 {
		t.Fatalf("expected 3 pages, got %d", page.TotalPages)
	}
	if page.Orders == nil {
		t.Fatal("orders must be an empty slice, not nil")
	}
}
