// Package rediscache — кэш прочитанных заказов в Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

const defaultTTL = 5 * time.Minute

// KEYS[1] — запись, KEYS[2] — отметка версии. ARGV: данные, версия, TTL в мс.
var setIfFresh = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[2]) < fence then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// KEYS[1] — запись, KEYS[2] — отметка версии. ARGV: версия, TTL отметки в мс.
var bumpFence = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) >= fence then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
else
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// OrderCache хранит заказ как JSON под ключом order:<id>.
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration
}

// Option настраивает OrderCache.
type Option func(*OrderCache)

// WithTTL задаёт базовое время жизни записи.
func WithTTL(ttl time.Duration) Option {
	return func(c *OrderCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithJitter добавляет к TTL случайную добавку до jitter, чтобы записи не истекали разом.
func WithJitter(jitter time.Duration) Option {
	return func(c *OrderCache) {
		if jitter >= 0 {
			c.jitter = jitter
		}
	}
}

// New создаёт кэш поверх готового клиента.
func New(client *redis.Client, opts ...Option) *OrderCache {
	c := &OrderCache{client: client, ttl: defaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type cachedLine struct {
	ProductID int64        `json:"productId"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unitPrice"`
	LineTotal domain.Money `json:"lineTotal"`
}

type cachedOrder struct {
	ID          string        `json:"id"`
	OwnerID     int64         `json:"ownerId"`
	Client      domain.Client `json:"client"`
	Lines       []cachedLine  `json:"lines"`
	TotalItems  int           `json:"totalItems"`
	TotalAmount domain.Money  `json:"totalAmount"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (c *OrderCache) Get(ctx context.Context, id string) (domain.Order, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("redis get order %s: %w", id, err)
	}

	var cached cachedOrder
	if err := json.Unmarshal(data, &cached); err != nil {
		// Битая запись равносильна промаху; её перезапишет следующий Set.
		return domain.Order{}, fmt.Errorf("%w: decode order %s: %v", domain.ErrCacheMiss, id, err)
	}
	return cached.order(), nil
}

// Set кэширует только живые заказы. Запись старее отметки версии пропускается:
// читатель, загрузивший заказ до мутации, не вернёт в кэш устаревший снимок.
func (c *OrderCache) Set(ctx context.Context, order domain.Order) error {
	if order.IsDeleted {
		return c.Invalidate(ctx, order.ID, order.Version)
	}
	data, err := json.Marshal(fromOrder(order))
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	err = setIfFresh.Run(ctx, c.client, []string{key(order.ID), fenceKey(order.ID)},
		data, order.Version, c.expiration().Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set order %s: %w", order.ID, err)
	}
	return nil
}

// Invalidate удаляет запись и запоминает версию, с которой кэш снова принимает заказ.
func (c *OrderCache) Invalidate(ctx context.Context, id string, version int64) error {
	err := bumpFence.Run(ctx, c.client, []string{key(id), fenceKey(id)},
		version, c.fenceTTL().Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis invalidate order %s: %w", id, err)
	}
	return nil
}

// Ping используется health-чекером.
func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *OrderCache) expiration() time.Duration {
	if c.jitter <= 0 {
		return c.ttl
	}
	return c.ttl + time.Duration(rand.Int63n(int64(c.jitter)+1))
}

// Отметка живёт дольше самой записи, чтобы отставший Set не пережил её.
func (c *OrderCache) fenceTTL() time.Duration {
	return 2 * (c.ttl + c.jitter)
}

func key(id string) string {
	return "order:" + id
}

func fenceKey(id string) string {
	return "order:" + id + ":ver"
}

func fromOrder(order domain.Order) cachedOrder {
	lines := make([]cachedLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, cachedLine(line))
	}
	return cachedOrder{
		ID:          order.ID,
		OwnerID:     order.OwnerID,
		Client:      order.Client,
		Lines:       lines,
		TotalItems:  order.TotalItems,
		TotalAmount: order.TotalAmount,
		Version:     order.Version,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func (c cachedOrder) order() domain.Order {
	lines := make([]domain.OrderLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		lines = append(lines, domain.OrderLine(line))
	}
	return domain.Order{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Client:      c.Client,
		Lines:       lines,
		TotalItems:  c.TotalItems,
		TotalAmount: c.TotalAmount,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

var _ domain.OrderCache = (*OrderCache)(nil)
