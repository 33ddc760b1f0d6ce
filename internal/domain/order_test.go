package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

// seedDraft повторяет стартовый заказ: две позиции по 2 шт. за 2.90.
func seedDraft() domain.OrderDraft {
	return domain.OrderDraft{
		OwnerID: 1,
		Lines: []domain.OrderLine{
			{ProductID: 1, Quantity: 2, UnitPrice: 290},
			{ProductID: 2, Quantity: 2, UnitPrice: 290},
		},
	}
}

func TestPricedLines_SeedOrder(t *testing.T) {
	lines, items, total := domain.PricedLines(seedDraft().Lines)

	if items != 4 {
		t.Fatalf("expected 4 items, got %d", items)
	}
	if total != 1160 {
		t.Fatalf("expected total 11.60, got %s", total)
	}
	for i, line := range lines {
		if line.LineTotal != 580 {
			t.Fatalf("line %d: expected 5.80, got %s", i, line.LineTotal)
		}
	}
}

func TestPricedLines_IgnoresClientLineTotal(t *testing.T) {
	input := []domain.OrderLine{{ProductID: 1, Quantity: 3, UnitPrice: 100, LineTotal: 1}}
	lines, _, total := domain.PricedLines(input)

	if lines[0].LineTotal != 300 || total != 300 {
		t.Fatalf("line total must be recomputed, got %s / %s", lines[0].LineTotal, total)
	}
	if input[0].LineTotal != 1 {
		t.Fatal("input lines must not be mutated")
	}
}

func TestOrderApplyAndCheckTotals(t *testing.T) {
	order := domain.Order{OwnerID: 1, Lines: seedDraft().Lines}
	if order.CheckTotals() {
		t.Fatal("order without totals must fail the check")
	}

	order.ApplyTotals()
	if !order.CheckTotals() {
		t.Fatal("totals must be consistent after ApplyTotals")
	}

	order.Lines[0].Quantity = 5
	if order.CheckTotals() {
		t.Fatal("changed quantity must break totals")
	}
}

func TestOrderDraftValidateShape(t *testing.T) {
	cases := []struct {
		name string
		mut  func(d *domain.OrderDraft)
		want error
	}{
		{name: "ok", mut: func(*domain.OrderDraft) {}},
		{name: "no lines", mut: func(d *domain.OrderDraft) { d.Lines = nil }, want: domain.ErrEmptyOrder},
		{name: "no owner", mut: func(d *domain.OrderDraft) { d.OwnerID = 0 }, want: domain.ErrOwnerRequired},
		{name: "zero quantity", mut: func(d *domain.OrderDraft) { d.Lines[1].Quantity = 0 }, want: domain.ErrInvalidQuantity},
		{name: "negative price", mut: func(d *domain.OrderDraft) { d.Lines[0].UnitPrice = -1 }, want: domain.ErrInvalidPrice},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := seedDraft()
			tc.mut(&draft)
			err := draft.ValidateShape()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderClone(t *testing.T) {
	order := domain.Order{Lines: seedDraft().Lines}
	clone := order.Clone()
	clone.Lines[0].Quantity = 99

	if order.Lines[0].Quantity != 2 {
		t.Fatal("clone must not share lines with the original")
	}
}
