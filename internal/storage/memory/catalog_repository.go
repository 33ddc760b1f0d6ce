package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

// CatalogRepository — in-memory каталог. Все изменения остатков идут под одной блокировкой,
// поэтому проверка минимума и списание атомарны.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
}

// NewCatalogRepository создаёт каталог с переданными товарами.
func NewCatalogRepository(products ...domain.Product) *CatalogRepository {
	repo := &CatalogRepository{products: make(map[int64]domain.Product, len(products))}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

// GetProduct возвращает товар или ErrProductNotFound.
func (r *CatalogRepository) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// UpdateStock меняет остаток на delta, если текущий остаток не меньше expectedMinimum.
func (r *CatalogRepository) UpdateStock(ctx context.Context, id int64, delta, expectedMinimum int) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	product, err := r.checkLocked(domain.StockAdjustment{ProductID: id, Delta: delta, ExpectedMinimum: expectedMinimum})
	if err != nil {
		return domain.Product{}, err
	}
	return r.applyLocked(product, delta, time.Now().UTC()), nil
}

// AdjustStock применяет весь набор изменений или ни одного.
func (r *CatalogRepository) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Несколько изменений одного товара проверяются по накопленному остатку.
	pending := make(map[int64]int, len(adjustments))
	for _, adj := range adjustments {
		product, ok := r.products[adj.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", adj.ProductID, domain.ErrProductNotFound)
		}
		current := product.StockQuantity + pending[adj.ProductID]
		if current < adj.ExpectedMinimum || current+adj.Delta < 0 {
			return nil, fmt.Errorf("%w: product %d has %d, need %d", domain.ErrStockConflict, adj.ProductID, current, adj.ExpectedMinimum)
		}
		pending[adj.ProductID] += adj.Delta
	}

	now := time.Now().UTC()
	updated := make([]domain.Product, 0, len(adjustments))
	for _, adj := range adjustments {
		updated = append(updated, r.applyLocked(r.products[adj.ProductID], adj.Delta, now))
	}
	return updated, nil
}

// SaveProduct создаёт или заменяет товар.
func (r *CatalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if product.StockQuantity < 0 {
		return fmt.Errorf("save product %d: negative stock", product.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	r.products[product.ID] = product
	return nil
}

func (r *CatalogRepository) checkLocked(adj domain.StockAdjustment) (domain.Product, error) {
	product, ok := r.products[adj.ProductID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if product.StockQuantity < adj.ExpectedMinimum || product.StockQuantity+adj.Delta < 0 {
		return domain.Product{}, fmt.Errorf("%w: product %d has %d, need %d",
			domain.ErrStockConflict, adj.ProductID, product.StockQuantity, adj.ExpectedMinimum)
	}
	return product, nil
}

func (r *CatalogRepository) applyLocked(product domain.Product, delta int, now time.Time) domain.Product {
	product.StockQuantity += delta
	product.UpdatedAt = now
	r.products[product.ID] = product
	return product
}

var (
	_ domain.CatalogRepository  = (*CatalogRepository)(nil)
	_ domain.StockBatchAdjuster = (*CatalogRepository)(nil)
)
