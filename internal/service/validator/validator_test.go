package validator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/validator"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/memory"
)

type slowCatalog struct {
	domain.CatalogRepository
}

func (slowCatalog) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	<-ctx.Done()
	return domain.Product{}, ctx.Err()
}

func TestValidate(t *testing.T) {
	catalog := memory.NewCatalogRepository(domain.SeedProducts()...)
	v := validator.New(catalog, time.Second)

	cases := []struct {
		name   string
		lines  []domain.OrderLine
		credit map[int64]int
		want   error
	}{
		{
			name:  "valid seed order",
			lines: []domain.OrderLine{{ProductID: 1, Quantity: 2, UnitPrice: 290}, {ProductID: 2, Quantity: 2, UnitPrice: 290}},
		},
		{name: "empty", want: domain.ErrEmptyOrder},
		{
			name:  "unknown product",
			lines: []domain.OrderLine{{ProductID: 99, Quantity: 1, UnitPrice: 290}},
			want:  domain.ErrUnknownProduct,
		},
		{
			name:  "inactive product",
			lines: []domain.OrderLine{{ProductID: 5, Quantity: 1, UnitPrice: 999}},
			want:  domain.ErrUnknownProduct,
		},
		{
			name:  "price mismatch",
			lines: []domain.OrderLine{{ProductID: 1, Quantity: 1, UnitPrice: 300}},
			want:  domain.ErrPriceMismatch,
		},
		{
			name:  "quantity equals stock",
			lines: []domain.OrderLine{{ProductID: 4, Quantity: 5, UnitPrice: 1299}},
		},
		{
			name:  "stock plus one",
			lines: []domain.OrderLine{{ProductID: 4, Quantity: 6, UnitPrice: 1299}},
			want:  domain.ErrInsufficientStock,
		},
		{
			name:  "split lines exceed stock together",
			lines: []domain.OrderLine{{ProductID: 4, Quantity: 3, UnitPrice: 1299}, {ProductID: 4, Quantity: 3, UnitPrice: 1299}},
			want:  domain.ErrInsufficientStock,
		},
		{
			name:   "credit from current reservation",
			lines:  []domain.OrderLine{{ProductID: 4, Quantity: 7, UnitPrice: 1299}},
			credit: map[int64]int{4: 2},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(context.Background(), tc.lines, tc.credit)
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

func TestValidateReportsFailingLine(t *testing.T) {
	v := validator.New(memory.NewCatalogRepository(domain.SeedProducts()...), time.Second)

	err := v.Validate(context.Background(), []domain.OrderLine{
		{ProductID: 1, Quantity: 1, UnitPrice: 290},
		{ProductID: 3, Quantity: 1, UnitPrice: 1},
	}, nil)

	var lineErr *domain.LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected LineError, got %v", err)
	}
	if lineErr.Index != 1 || lineErr.ProductID != 3 {
		t.Fatalf("unexpected failing line %+v", lineErr)
	}
}

func TestValidateDoesNotMutateCatalog(t *testing.T) {
	catalog := memory.NewCatalogRepository(domain.SeedProducts()...)
	v := validator.New(catalog, time.Second)

	_ = v.Validate(context.Background(), []domain.OrderLine{{ProductID: 1, Quantity: 20, UnitPrice: 290}}, nil)

	product, _ := catalog.GetProduct(context.Background(), 1)
	if product.StockQuantity != 20 {
		t.Fatalf("validation must be read-only, stock is %d", product.StockQuantity)
	}
}

func TestValidateTimeoutIsStoreError(t *testing.T) {
	v := validator.New(slowCatalog{}, 10*time.Millisecond)

	err := v.Validate(context.Background(), []domain.OrderLine{{ProductID: 1, Quantity: 1, UnitPrice: 290}}, nil)
	if !errors.Is(err, domain.ErrStore) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected store error wrapping deadline, got %v", err)
	}
}
