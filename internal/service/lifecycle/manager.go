// Package lifecycle управляет созданием, изменением и удалением заказов
// вместе с резервированием остатков под их позиции.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/reservation"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/validator"
)

const defaultStoreTimeout = 5 * time.Second

// Manager — точка входа для операций над заказами.
type Manager struct {
	orders    domain.OrderRepository
	catalog   domain.CatalogRepository
	validator *validator.Validator
	engine    *reservation.Engine

	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	cache    domain.OrderCache
	reads    singleflight.Group

	metrics      *metrics.ReservationMetrics
	logger       *log.Entry
	storeTimeout time.Duration
	now          func() time.Time
}

// Option настраивает Manager.
type Option func(*Manager)

// WithOutbox включает уведомления через transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(m *Manager) { m.outbox = outbox }
}

// WithTimeline включает запись истории заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(m *Manager) { m.timeline = timeline }
}

// WithCache включает кэш чтения заказов.
func WithCache(cache domain.OrderCache) Option {
	return func(m *Manager) { m.cache = cache }
}

// WithMetrics подключает метрики.
func WithMetrics(rm *metrics.ReservationMetrics) Option {
	return func(m *Manager) { m.metrics = rm }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStoreTimeout ограничивает каждое обращение к хранилищам.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.storeTimeout = timeout
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager собирает менеджер поверх хранилищ заказов и каталога.
func NewManager(orders domain.OrderRepository, catalog domain.CatalogRepository, opts ...Option) *Manager {
	m := &Manager{
		orders:       orders,
		catalog:      catalog,
		logger:       log.WithField("component", "lifecycle"),
		storeTimeout: defaultStoreTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}

	m.validator = validator.New(catalog, m.storeTimeout)
	m.engine = reservation.NewEngine(catalog,
		reservation.WithTimeout(m.storeTimeout),
		reservation.WithMetrics(m.metrics),
		reservation.WithLogger(m.logger.WithField("subcomponent", "engine")),
	)
	return m
}

// CreateOrder проверяет позиции, резервирует остатки и сохраняет заказ.
func (m *Manager) CreateOrder(ctx context.Context, draft domain.OrderDraft) (order domain.Order, err error) {
	done := m.metrics.StartOperation(string(domain.OperationCreate))
	defer func() { done(resultOf(err)) }()

	if err := draft.ValidateShape(); err != nil {
		return domain.Order{}, err
	}
	if err := m.validator.Validate(ctx, draft.Lines, nil); err != nil {
		return domain.Order{}, err
	}

	reserved, err := m.engine.Reserve(ctx, draft.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	now := m.now()
	pending := domain.Order{
		OwnerID:     draft.OwnerID,
		Client:      draft.Client,
		Lines:       reserved.Lines,
		TotalItems:  reserved.TotalItems,
		TotalAmount: reserved.TotalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	created, err := m.orders.Create(storeCtx, pending)
	cancel()
	if err != nil {
		m.logger.WithError(err).WithField("owner_id", draft.OwnerID).Warn("persist order failed, releasing reservation")
		if _, releaseErr := m.engine.Release(context.WithoutCancel(ctx), reserved.Lines); releaseErr != nil {
			m.metrics.RecordCompensationFailure(string(domain.OperationCreate))
			m.logger.WithError(releaseErr).WithField("owner_id", draft.OwnerID).Error("release after failed create failed")
		}
		return domain.Order{}, storeError("create order", err)
	}

	m.publish(ctx, domain.ActionCreate, created, reserved.Products)
	m.appendTimeline(ctx, created.ID, domain.TimelineOrderCreated, fmt.Sprintf("%d items, total %s", created.TotalItems, created.TotalAmount))

	m.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"owner_id":     created.OwnerID,
		"total_items":  created.TotalItems,
		"total_amount": created.TotalAmount.String(),
	}).Info("order created")
	return created, nil
}

// UpdateOrder заменяет позиции заказа. Остатки меняются только на разницу между
// старыми и новыми позициями: сначала списания, затем возвраты.
func (m *Manager) UpdateOrder(ctx context.Context, id string, draft domain.OrderDraft) (order domain.Order, err error) {
	done := m.metrics.StartOperation(string(domain.OperationUpdate))
	defer func() { done(resultOf(err)) }()

	if err := draft.ValidateShape(); err != nil {
		return domain.Order{}, err
	}

	current, err := m.loadOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	credit := domain.QuantitiesByProduct(current.Lines)
	if err := m.validator.Validate(ctx, draft.Lines, credit); err != nil {
		return domain.Order{}, err
	}

	adjustments := domain.NetAdjustments(current.Lines, draft.Lines)
	products, err := m.engine.Apply(ctx, adjustments)
	if err != nil {
		return domain.Order{}, err
	}

	next := current.Clone()
	next.OwnerID = draft.OwnerID
	next.Client = draft.Client
	next.Lines = draft.Lines
	next.ApplyTotals()
	next.UpdatedAt = m.now()

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	updated, err := m.orders.Update(storeCtx, next)
	cancel()
	if err != nil {
		m.logger.WithError(err).WithField("order_id", id).Warn("persist order update failed, reverting stock")
		m.engine.Compensate(ctx, adjustments)
		return domain.Order{}, storeError("update order", err)
	}

	m.invalidate(ctx, updated)
	m.publish(ctx, domain.ActionUpdate, updated, products)
	m.appendTimeline(ctx, id, domain.TimelineOrderUpdated, fmt.Sprintf("%d items, total %s", updated.TotalItems, updated.TotalAmount))

	m.logger.WithFields(log.Fields{
		"order_id":    id,
		"adjustments": len(adjustments),
		"version":     updated.Version,
	}).Info("order updated")
	return updated, nil
}

// RemoveOrder мягко удаляет заказ и возвращает его позиции на склад.
// Если возврат не удался, заказ восстанавливается.
func (m *Manager) RemoveOrder(ctx context.Context, id string) (err error) {
	done := m.metrics.StartOperation(string(domain.OperationRemove))
	defer func() { done(resultOf(err)) }()

	current, err := m.loadOrder(ctx, id)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	deleted, err := m.orders.Delete(storeCtx, id, current.Version)
	cancel()
	if err != nil {
		return storeError("delete order", err)
	}
	m.invalidate(ctx, deleted)

	products, err := m.engine.Release(ctx, current.Lines)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", id).Error("release on remove failed, restoring order")
		m.restore(ctx, deleted)
		return storeError("release stock", err)
	}

	m.publish(ctx, domain.ActionDelete, deleted, products)
	m.appendTimeline(ctx, id, domain.TimelineOrderRemoved, fmt.Sprintf("%d items returned to stock", current.TotalItems))

	m.logger.WithField("order_id", id).Info("order removed")
	return nil
}

// FindOrder возвращает неудалённый заказ, при наличии кэша — через него.
// Одновременные промахи по одному id схлопываются в одно чтение хранилища,
// которое не зависит от отмены контекста отдельного вызывающего.
func (m *Manager) FindOrder(ctx context.Context, id string) (domain.Order, error) {
	if m.cache == nil {
		return m.loadOrder(ctx, id)
	}

	shared := context.WithoutCancel(ctx)
	ch := m.reads.DoChan(id, func() (any, error) {
		return m.readThrough(shared, id)
	})

	select {
	case <-ctx.Done():
		return domain.Order{}, storeError("get order", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.Order{}, res.Err
		}
		return res.Val.(domain.Order).Clone(), nil
	}
}

func (m *Manager) readThrough(ctx context.Context, id string) (domain.Order, error) {
	cacheCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	cached, err := m.cache.Get(cacheCtx, id)
	cancel()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		m.logger.WithError(err).WithField("order_id", id).Warn("order cache read failed")
	}

	order, err := m.loadOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	cacheCtx, cancel = context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.cache.Set(cacheCtx, order); err != nil {
		m.logger.WithError(err).WithField("order_id", id).Warn("order cache write failed")
	}
	return order, nil
}

// FindOrdersByOwner возвращает неудалённые заказы владельца.
func (m *Manager) FindOrdersByOwner(ctx context.Context, ownerID int64) ([]domain.Order, error) {
	if ownerID <= 0 {
		return nil, domain.ErrOwnerRequired
	}

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	orders, err := m.orders.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeError("list orders by owner", err)
	}
	return orders, nil
}

// ListOrders возвращает страницу неудалённых заказов.
func (m *Manager) ListOrders(ctx context.Context, query domain.PageQuery) (domain.OrderPage, error) {
	query, err := query.Normalize()
	if err != nil {
		return domain.OrderPage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	page, err := m.orders.ListPage(ctx, query)
	if err != nil {
		return domain.OrderPage{}, storeError("list orders", err)
	}
	return page, nil
}

// Timeline возвращает историю заказа. История удалённого заказа остаётся доступной.
func (m *Manager) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	if _, err := m.orders.Get(ctx, id); err != nil {
		return nil, storeError("get order", err)
	}
	if m.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}

	events, err := m.timeline.List(ctx, id)
	if err != nil {
		return nil, storeError("list timeline", err)
	}
	return events, nil
}

// GetProduct возвращает товар каталога.
func (m *Manager) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	product, err := m.catalog.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.Product{}, err
		}
		return domain.Product{}, storeError("get product", err)
	}
	return product, nil
}

func (m *Manager) loadOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	order, err := m.orders.Get(ctx, id)
	if err != nil {
		if !domain.IsNotFound(err) {
			m.logger.WithError(err).WithFields(log.Fields{
				"operation": "load_order",
				"order_id":  id,
			}).Error("failed to load order")
		}
		return domain.Order{}, storeError("get order", err)
	}
	if order.IsDeleted {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (m *Manager) restore(ctx context.Context, deleted domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()

	restored := deleted.Clone()
	restored.IsDeleted = false
	restored.UpdatedAt = m.now()
	saved, err := m.orders.Update(ctx, restored)
	if err != nil {
		m.metrics.RecordCompensationFailure(string(domain.OperationRemove))
		m.logger.WithError(err).WithField("order_id", deleted.ID).Error("restore order after failed release failed")
		return
	}
	m.invalidate(ctx, saved)
}

// invalidate сбрасывает запись и не даёт читателям, загрузившим заказ раньше
// сохранённой версии, записать его обратно в кэш.
func (m *Manager) invalidate(ctx context.Context, saved domain.Order) {
	if m.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()

	if err := m.cache.Invalidate(ctx, saved.ID, saved.Version); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": saved.ID,
			"version":  saved.Version,
		}).Warn("order cache invalidation failed")
	}
}

// publish ставит в outbox уведомление о заказе и по одному уведомлению на каждый затронутый товар.
func (m *Manager) publish(ctx context.Context, action domain.NotificationAction, order domain.Order, products []domain.Product) {
	if m.outbox == nil {
		return
	}
	m.enqueue(ctx, domain.NewOrderNotification(action, order))
	for _, product := range products {
		m.enqueue(ctx, domain.NewProductNotification(domain.ActionUpdate, product))
	}
}

func (m *Manager) enqueue(ctx context.Context, n domain.Notification) {
	fields := log.Fields{"kind": n.Kind, "action": n.Action, "aggregate_id": n.AggregateID()}
	if err := n.Validate(); err != nil {
		m.logger.WithError(err).WithFields(fields).Error("invalid notification")
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		m.logger.WithError(err).WithFields(fields).Error("marshal notification failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()

	msg := domain.OutboxMessage{
		AggregateType: string(n.Kind),
		AggregateID:   n.AggregateID(),
		EventType:     n.EventType(),
		Payload:       payload,
		CreatedAt:     n.OccurredAt,
	}
	if _, err := m.outbox.Enqueue(ctx, msg); err != nil {
		m.logger.WithError(err).WithFields(fields).Error("enqueue notification failed")
		return
	}
	m.metrics.RecordNotification(string(n.Kind))
}

func (m *Manager) appendTimeline(ctx context.Context, orderID, eventType, reason string) {
	if m.timeline == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()

	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: m.now(),
	}
	if err := m.timeline.Append(ctx, event); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("append timeline event failed")
		return
	}
	m.metrics.RecordTimelineEvent()
}

// storeError оставляет доменные ошибки как есть, остальные помечает ErrStore.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsNotFound(err), domain.IsConflict(err), domain.IsClientError(err), errors.Is(err, domain.ErrStore):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrStore, op, err)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case domain.IsConflict(err):
		return metrics.ResultConflict
	case domain.IsClientError(err), domain.IsNotFound(err):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
