package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository с мягким удалением.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create присваивает заказу идентификатор и версию 1.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order = order.Clone()
	order.ID = uuid.NewString()
	order.Version = 1
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	r.items[order.ID] = order
	return order.Clone(), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByOwner возвращает неудалённые заказы владельца, старые первыми.
func (r *orderRepositoryInMemory) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.OwnerID != ownerID || order.IsDeleted {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListPage сортирует неудалённые заказы и вырезает запрошенную страницу.
func (r *orderRepositoryInMemory) ListPage(ctx context.Context, query domain.PageQuery) (domain.OrderPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderPage{}, err
	}

	r.mu.RLock()
	all := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.IsDeleted {
			continue
		}
		all = append(all, order.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return lessOrders(all[i], all[j], query)
	})

	total := int64(len(all))
	start := query.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + query.Limit
	if end > len(all) {
		end = len(all)
	}
	return domain.NewOrderPage(query, all[start:end], total), nil
}

func lessOrders(a, b domain.Order, query domain.PageQuery) bool {
	desc := query.SortDirection == domain.SortDesc
	if query.SortField == domain.SortByOwnerID && a.OwnerID != b.OwnerID {
		if desc {
			return a.OwnerID > b.OwnerID
		}
		return a.OwnerID < b.OwnerID
	}
	if desc {
		return a.ID > b.ID
	}
	return a.ID < b.ID
}

// Update перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	order = order.Clone()
	order.CreatedAt = current.CreatedAt
	order.Version++
	r.items[order.ID] = order
	return order.Clone(), nil
}

// Delete помечает заказ удалённым; повторное удаление — ErrOrderNotFound.
func (r *orderRepositoryInMemory) Delete(ctx context.Context, id string, version int64) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok || current.IsDeleted {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	current.IsDeleted = true
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	r.items[id] = current
	return current.Clone(), nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
