package lifecycle_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/memory"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/rediscache"
)

// stallingOrders задерживает одно чтение после того, как заказ уже прочитан,
// и после паузы уважает отмену контекста, как настоящее хранилище.
type stallingOrders struct {
	domain.OrderRepository

	armed  atomic.Bool
	loaded chan struct{}
	resume chan struct{}
}

func newStallingOrders() *stallingOrders {
	return &stallingOrders{
		OrderRepository: memory.NewOrderRepository(),
		loaded:          make(chan struct{}),
		resume:          make(chan struct{}),
	}
}

func (r *stallingOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := r.OrderRepository.Get(ctx, id)
	if err != nil || !r.armed.CompareAndSwap(true, false) {
		return order, err
	}
	close(r.loaded)
	<-r.resume
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func newCachedManager(t *testing.T, orders domain.OrderRepository) *lifecycle.Manager {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return lifecycle.NewManager(orders, memory.NewCatalogRepository(domain.SeedProducts()...),
		lifecycle.WithCache(rediscache.New(client)),
		lifecycle.WithLogger(log.NewEntry(logger)),
		lifecycle.WithStoreTimeout(time.Second),
	)
}

type findResult struct {
	order domain.Order
	err   error
}

func findAsync(ctx context.Context, m *lifecycle.Manager, id string) <-chan findResult {
	out := make(chan findResult, 1)
	go func() {
		order, err := m.FindOrder(ctx, id)
		out <- findResult{order: order, err: err}
	}()
	return out
}

func TestFindOrder_SlowReaderDoesNotCacheRemovedOrder(t *testing.T) {
	orders := newStallingOrders()
	m := newCachedManager(t, orders)
	ctx := context.Background()

	created, err := m.CreateOrder(ctx, seedDraft())
	require.NoError(t, err)

	orders.armed.Store(true)
	reader := findAsync(ctx, m, created.ID)
	<-orders.loaded

	require.NoError(t, m.RemoveOrder(ctx, created.ID))
	close(orders.resume)

	stale := <-reader
	require.NoError(t, stale.err)

	_, err = m.FindOrder(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestFindOrder_SlowReaderDoesNotCacheOldVersion(t *testing.T) {
	orders := newStallingOrders()
	m := newCachedManager(t, orders)
	ctx := context.Background()

	created, err := m.CreateOrder(ctx, seedDraft())
	require.NoError(t, err)

	orders.armed.Store(true)
	reader := findAsync(ctx, m, created.ID)
	<-orders.loaded

	draft := seedDraft()
	draft.Lines = []domain.OrderLine{{ProductID: 1, Quantity: 1, UnitPrice: 290}}
	updated, err := m.UpdateOrder(ctx, created.ID, draft)
	require.NoError(t, err)
	close(orders.resume)

	stale := <-reader
	require.NoError(t, stale.err)
	assert.Equal(t, created.Version, stale.order.Version)

	for i := 0; i < 2; i++ {
		got, err := m.FindOrder(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, updated.Version, got.Version)
		assert.Equal(t, 1, got.TotalItems)
	}
}

func TestFindOrder_CanceledCallerDoesNotFailSharedRead(t *testing.T) {
	orders := newStallingOrders()
	m := newCachedManager(t, orders)

	created, err := m.CreateOrder(context.Background(), seedDraft())
	require.NoError(t, err)

	orders.armed.Store(true)
	firstCtx, cancel := context.WithCancel(context.Background())
	first := findAsync(firstCtx, m, created.ID)
	<-orders.loaded

	cancel()
	res := <-first
	assert.ErrorIs(t, res.err, context.Canceled)

	second := findAsync(context.Background(), m, created.ID)
	time.Sleep(20 * time.Millisecond) // даём второму вызову присоединиться к чтению
	close(orders.resume)

	res = <-second
	require.NoError(t, res.err)
	assert.Equal(t, created.ID, res.order.ID)
}
