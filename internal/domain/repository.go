package domain

import "context"

// CatalogRepository описывает хранилище товаров с изменяемым остатком.
type CatalogRepository interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id int64) (Product, error)
	// UpdateStock атомарно меняет остаток на delta, только если текущий остаток >= expectedMinimum.
	// Нарушение условия — ErrStockConflict.
	UpdateStock(ctx context.Context, id int64, delta, expectedMinimum int) (Product, error)
	// SaveProduct создаёт или заменяет товар целиком.
	SaveProduct(ctx context.Context, product Product) error
}

// StockBatchAdjuster — необязательная возможность каталога применить набор изменений
// атомарно: либо все, либо ни одного.
type StockBatchAdjuster interface {
	AdjustStock(ctx context.Context, adjustments []StockAdjustment) ([]Product, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и присваивает ему идентификатор и версию 1.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	// Мягко удалённые заказы возвращаются с IsDeleted = true.
	Get(ctx context.Context, id string) (Order, error)
	// ListByOwner возвращает неудалённые заказы владельца, упорядоченные по времени создания.
	ListByOwner(ctx context.Context, ownerID int64) ([]Order, error)
	// ListPage возвращает страницу неудалённых заказов. Запрос уже нормализован.
	ListPage(ctx context.Context, query PageQuery) (OrderPage, error)
	// Update заменяет заказ при совпадении версии и возвращает его с увеличенной версией.
	Update(ctx context.Context, order Order) (Order, error)
	// Delete помечает заказ удалённым при совпадении версии.
	Delete(ctx context.Context, id string, version int64) (Order, error)
}

// OrderCache — кэш прочитанных заказов.
type OrderCache interface {
	// Get возвращает заказ или ErrCacheMiss.
	Get(ctx context.Context, id string) (Order, error)
	// Set пишет заказ, если его версия не ниже отметки последней мутации.
	Set(ctx context.Context, order Order) error
	// Invalidate удаляет запись и поднимает отметку версии до version.
	Invalidate(ctx context.Context, id string, version int64) error
}
