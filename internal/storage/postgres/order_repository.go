package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Позиции хранятся в order_lines, данные клиента — в JSONB.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

const orderColumns = `id, owner_id, client, total_items, total_amount_cents, is_deleted, version, created_at, updated_at`

// clientRecord — JSON-представление domain.Client в колонке client.
type clientRecord struct {
	FullName string        `json:"fullName"`
	Email    string        `json:"email"`
	Phone    string        `json:"phone"`
	Address  addressRecord `json:"address"`
}

type addressRecord struct {
	Street   string `json:"street"`
	Number   string `json:"number"`
	City     string `json:"city"`
	Province string `json:"province"`
	Country  string `json:"country"`
	Zip      string `json:"zip"`
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order = order.Clone()
	order.ID = uuid.NewString()
	order.Version = 1
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	client, err := encodeClient(order.Client)
	if err != nil {
		return domain.Order{}, err
	}

	err = r.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			order.ID, order.OwnerID, client, order.TotalItems, int64(order.TotalAmount),
			order.IsDeleted, order.Version, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return insertLines(ctx, tx, order.ID, order.Lines)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	orders, err := r.collect(ctx, rows)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *orderRepository) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE owner_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list orders by owner: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r *orderRepository) ListPage(ctx context.Context, query domain.PageQuery) (domain.OrderPage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int64
	if err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE NOT is_deleted`).Scan(&total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE NOT is_deleted
		ORDER BY `+orderByClause(query)+`
		LIMIT $1 OFFSET $2
	`, query.Limit, query.Offset())
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders page: %w", err)
	}
	orders, err := r.collect(ctx, rows)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return domain.NewOrderPage(query, orders, total), nil
}

// orderByClause строится только из нормализованных значений, пользовательский ввод в SQL не попадает.
func orderByClause(query domain.PageQuery) string {
	dir := "ASC"
	if query.SortDirection == domain.SortDesc {
		dir = "DESC"
	}
	if query.SortField == domain.SortByOwnerID {
		return "owner_id " + dir + ", id " + dir
	}
	return "id " + dir
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	client, err := encodeClient(order.Client)
	if err != nil {
		return domain.Order{}, err
	}

	var createdAt time.Time
	err = r.store.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET owner_id = $1,
			    client = $2,
			    total_items = $3,
			    total_amount_cents = $4,
			    is_deleted = $5,
			    version = version + 1,
			    updated_at = $6
			WHERE id = $7
			  AND version = $8
			RETURNING created_at
		`,
			order.OwnerID, client, order.TotalItems, int64(order.TotalAmount),
			order.IsDeleted, order.UpdatedAt, order.ID, order.Version,
		).Scan(&createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return versionMissError(ctx, tx, order.ID)
		}
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order lines: %w", err)
		}
		return insertLines(ctx, tx, order.ID, order.Lines)
	})
	if err != nil {
		return domain.Order{}, err
	}

	updated := order.Clone()
	updated.Version++
	updated.CreatedAt = createdAt
	return updated, nil
}

func (r *orderRepository) Delete(ctx context.Context, id string, version int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET is_deleted = TRUE,
			    version = version + 1,
			    updated_at = $3
			WHERE id = $1
			  AND version = $2
			  AND NOT is_deleted
		`, id, version, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("soft delete order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return versionMissError(ctx, tx, id)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, id)
}

// versionMissError различает отсутствующий (или удалённый) заказ и конфликт версий.
func versionMissError(ctx context.Context, tx *sql.Tx, id string) error {
	var deleted bool
	err := tx.QueryRowContext(ctx, `SELECT is_deleted FROM orders WHERE id = $1`, id).Scan(&deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrOrderNotFound
	case err != nil:
		return fmt.Errorf("check order exists: %w", err)
	case deleted:
		return domain.ErrOrderNotFound
	default:
		return domain.ErrOrderVersionConflict
	}
}

func insertLines(ctx context.Context, tx *sql.Tx, orderID string, lines []domain.OrderLine) error {
	for i, line := range lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, position, product_id, quantity, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, orderID, i, line.ProductID, line.Quantity, int64(line.UnitPrice), int64(line.LineTotal)); err != nil {
			return fmt.Errorf("insert order line %d: %w", i, err)
		}
	}
	return nil
}

// collect читает строки заказов и догружает их позиции одним запросом.
func (r *orderRepository) collect(ctx context.Context, rows *sql.Rows) ([]domain.Order, error) {
	orders, err := scanOrders(rows)
	if err != nil || len(orders) == 0 {
		return orders, err
	}

	index := make(map[string]int, len(orders))
	for i, o := range orders {
		index[o.ID] = i
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	lineRows, err := r.store.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price_cents, line_total_cents
		FROM order_lines
		WHERE order_id = ANY($1::text[])
		ORDER BY order_id, position
	`, "{"+strings.Join(ids, ",")+"}")
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var (
			orderID          string
			line             domain.OrderLine
			unitPrice, total int64
		)
		if err := lineRows.Scan(&orderID, &line.ProductID, &line.Quantity, &unitPrice, &total); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.UnitPrice = domain.Money(unitPrice)
		line.LineTotal = domain.Money(total)
		if i, ok := index[orderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return orders, nil
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order  domain.Order
			client []byte
			amount int64
		)
		if err := rows.Scan(
			&order.ID, &order.OwnerID, &client, &order.TotalItems, &amount,
			&order.IsDeleted, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.TotalAmount = domain.Money(amount)
		order.Client = decodeClient(client)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func encodeClient(c domain.Client) ([]byte, error) {
	data, err := json.Marshal(clientRecord{
		FullName: c.FullName,
		Email:    c.Email,
		Phone:    c.Phone,
		Address: addressRecord{
			Street:   c.Address.Street,
			Number:   c.Address.Number,
			City:     c.Address.City,
			Province: c.Address.Province,
			Country:  c.Address.Country,
			Zip:      c.Address.Zip,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode client: %w", err)
	}
	return data, nil
}

func decodeClient(data []byte) domain.Client {
	var rec clientRecord
	if len(data) > 0 {
		_ = json.Unmarshal(data, &rec)
	}
	return domain.Client{
		FullName: rec.FullName,
		Email:    rec.Email,
		Phone:    rec.Phone,
		Address: domain.Address{
			Street:   rec.Address.Street,
			Number:   rec.Address.Number,
			City:     rec.Address.City,
			Province: rec.Address.Province,
			Country:  rec.Address.Country,
			Zip:      rec.Address.Zip,
		},
	}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
