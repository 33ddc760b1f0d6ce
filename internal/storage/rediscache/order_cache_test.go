package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

func setupCache(t *testing.T, opts ...Option) (*OrderCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, opts...), mr
}

func cachedSample() domain.Order {
	order := domain.Order{
		ID:      "order-1",
		OwnerID: 1,
		Client:  domain.Client{FullName: "Jane Doe", Address: domain.Address{City: "Rosario"}},
		Lines: []domain.OrderLine{
			{ProductID: 1, Quantity: 2, UnitPrice: 290},
			{ProductID: 2, Quantity: 2, UnitPrice: 290},
		},
		Version:   3,
		CreatedAt: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC),
	}
	order.ApplyTotals()
	return order
}

func TestOrderCache_SetThenGet(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	order := cachedSample()
	require.NoError(t, cache.Set(ctx, order))
	assert.True(t, mr.Exists("order:order-1"))

	got, err := cache.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order, got)
	assert.Equal(t, domain.Money(1160), got.TotalAmount)
}

func TestOrderCache_Miss(t *testing.T) {
	cache, _ := setupCache(t)

	_, err := cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestOrderCache_CorruptedEntryIsMiss(t *testing.T) {
	cache, mr := setupCache(t)
	require.NoError(t, mr.Set("order:broken", "{not json"))

	_, err := cache.Get(context.Background(), "broken")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestOrderCache_TTL(t *testing.T) {
	cache, mr := setupCache(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, cachedSample()))
	assert.Equal(t, time.Minute, mr.TTL("order:order-1"))

	mr.FastForward(2 * time.Minute)
	_, err := cache.Get(ctx, "order-1")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestOrderCache_JitterStaysInRange(t *testing.T) {
	cache, mr := setupCache(t, WithTTL(time.Minute), WithJitter(30*time.Second))

	require.NoError(t, cache.Set(context.Background(), cachedSample()))
	ttl := mr.TTL("order:order-1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, 90*time.Second)
}

func TestOrderCache_InvalidateAndDeletedOrders(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	order := cachedSample()
	require.NoError(t, cache.Set(ctx, order))
	require.NoError(t, cache.Invalidate(ctx, order.ID, order.Version))
	assert.False(t, mr.Exists("order:order-1"))

	require.NoError(t, cache.Set(ctx, order))
	assert.True(t, mr.Exists("order:order-1"), "same version is accepted after invalidation")

	order.IsDeleted = true
	order.Version++
	require.NoError(t, cache.Set(ctx, order))
	assert.False(t, mr.Exists("order:order-1"))
}

func TestOrderCache_StaleSnapshotIsNotWritten(t *testing.T) {
	cache, mr := setupCache(t, WithTTL(time.Minute))
	ctx := context.Background()

	stale := cachedSample()
	require.NoError(t, cache.Invalidate(ctx, stale.ID, stale.Version+1))
	assert.Equal(t, 2*time.Minute, mr.TTL("order:order-1:ver"))

	require.NoError(t, cache.Set(ctx, stale))
	_, err := cache.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	fresh := cachedSample()
	fresh.Version = stale.Version + 1
	require.NoError(t, cache.Set(ctx, fresh))
	got, err := cache.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.Version, got.Version)
}

func TestOrderCache_FenceNeverMovesBack(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Invalidate(ctx, "order-1", 7))
	require.NoError(t, cache.Invalidate(ctx, "order-1", 4))

	fence, err := mr.Get("order:order-1:ver")
	require.NoError(t, err)
	assert.Equal(t, "7", fence)
}

func TestOrderCache_ServerDown(t *testing.T) {
	cache, mr := setupCache(t)
	mr.Close()

	_, err := cache.Get(context.Background(), "order-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCacheMiss)
	assert.Error(t, cache.Ping(context.Background()))
}
