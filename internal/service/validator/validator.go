// Package validator проверяет позиции заказа по текущему состоянию каталога.
// Проверка только читает каталог и служит предусловием: окончательное решение
// принимает атомарное изменение остатка в движке резервирования.
package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Validator сверяет позиции с каталогом.
type Validator struct {
	catalog domain.CatalogRepository
	timeout time.Duration
}

// New создаёт валидатор; timeout ограничивает каждое обращение к каталогу.
func New(catalog domain.CatalogRepository, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Validator{catalog: catalog, timeout: timeout}
}

// Validate проверяет позиции по порядку и возвращает первую ошибку.
// credit — количество, уже зарезервированное этим же заказом; оно считается доступным.
func (v *Validator) Validate(ctx context.Context, lines []domain.OrderLine, credit map[int64]int) error {
	if len(lines) == 0 {
		return domain.ErrEmptyOrder
	}

	products := make(map[int64]domain.Product, len(lines))
	demand := make(map[int64]int, len(lines))

	for i, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			loaded, err := v.lookup(ctx, line.ProductID)
			if errors.Is(err, domain.ErrProductNotFound) {
				return &domain.LineError{Index: i, ProductID: line.ProductID, Err: domain.ErrUnknownProduct}
			}
			if err != nil {
				return err
			}
			product = loaded
			products[line.ProductID] = product
		}

		if !product.IsActive {
			return &domain.LineError{Index: i, ProductID: line.ProductID, Err: domain.ErrUnknownProduct}
		}
		if line.UnitPrice != product.Price {
			return &domain.LineError{
				Index:     i,
				ProductID: line.ProductID,
				Err:       fmt.Errorf("%w: got %s, catalog %s", domain.ErrPriceMismatch, line.UnitPrice, product.Price),
			}
		}

		demand[line.ProductID] += line.Quantity
		available := product.StockQuantity + credit[line.ProductID]
		if demand[line.ProductID] > available {
			return &domain.LineError{
				Index:     i,
				ProductID: line.ProductID,
				Err:       fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, demand[line.ProductID], available),
			}
		}
	}
	return nil
}

func (v *Validator) lookup(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	product, err := v.catalog.GetProduct(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, fmt.Errorf("%w: get product %d: %w", domain.ErrStore, id, err)
	}
	return product, err
}
