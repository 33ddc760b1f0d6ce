package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

// queryRower — общий интерфейс *sql.DB и *sql.Tx для одиночных запросов.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CatalogRepository — PostgreSQL-каталог. Изменение остатка — один условный UPDATE,
// пакет изменений — одна транзакция.
type CatalogRepository struct {
	store *Store
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{store: store}
}

const productColumns = `id, name, category, price_cents, stock_quantity, is_active, updated_at`

// GetProduct возвращает товар или ErrProductNotFound.
func (r *CatalogRepository) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.store.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("select product %d: %w", id, err)
	}
	return product, nil
}

// UpdateStock меняет остаток одним условным UPDATE.
func (r *CatalogRepository) UpdateStock(ctx context.Context, id int64, delta, expectedMinimum int) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return adjustStock(ctx, r.store.db, domain.StockAdjustment{ProductID: id, Delta: delta, ExpectedMinimum: expectedMinimum})
}

// AdjustStock применяет все изменения в одной транзакции.
func (r *CatalogRepository) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated := make([]domain.Product, 0, len(adjustments))
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, adj := range adjustments {
			product, err := adjustStock(ctx, tx, adj)
			if err != nil {
				return err
			}
			updated = append(updated, product)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SaveProduct создаёт товар или полностью заменяет существующий.
func (r *CatalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price_cents, stock_quantity, is_active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    category = EXCLUDED.category,
		    price_cents = EXCLUDED.price_cents,
		    stock_quantity = EXCLUDED.stock_quantity,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Category, int64(product.Price), product.StockQuantity, product.IsActive, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save product %d: %w", product.ID, err)
	}
	return nil
}

func adjustStock(ctx context.Context, q queryRower, adj domain.StockAdjustment) (domain.Product, error) {
	product, err := scanProduct(q.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock_quantity >= $3
		  AND stock_quantity + $2 >= 0
		RETURNING `+productColumns,
		adj.ProductID, adj.Delta, adj.ExpectedMinimum,
	))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("update stock of product %d: %w", adj.ProductID, err)
	}

	// Условие не выполнилось: товара нет или остаток меньше минимума.
	var stock int
	err = q.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, adj.ProductID).Scan(&stock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Product{}, fmt.Errorf("product %d: %w", adj.ProductID, domain.ErrProductNotFound)
	case err != nil:
		return domain.Product{}, fmt.Errorf("check product %d: %w", adj.ProductID, err)
	default:
		return domain.Product{}, fmt.Errorf("%w: product %d has %d, need %d",
			domain.ErrStockConflict, adj.ProductID, stock, adj.ExpectedMinimum)
	}
}

func scanProduct(row *sql.Row) (domain.Product, error) {
	var (
		p     domain.Product
		price int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &price, &p.StockQuantity, &p.IsActive, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.Price = domain.Money(price)
	return p, nil
}

var (
	_ domain.CatalogRepository  = (*CatalogRepository)(nil)
	_ domain.StockBatchAdjuster = (*CatalogRepository)(nil)
)
