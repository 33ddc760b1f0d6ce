// Package reservation меняет остатки каталога под позиции заказов.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// Result — итог резервирования: позиции с пересчитанными суммами и затронутые товары.
type Result struct {
	Lines       []domain.OrderLine
	TotalItems  int
	TotalAmount domain.Money
	Products    []domain.Product
}

// Engine применяет изменения остатков атомарными условными операциями.
type Engine struct {
	catalog domain.CatalogRepository
	batch   domain.StockBatchAdjuster
	timeout time.Duration
	metrics *metrics.ReservationMetrics
	logger  *log.Entry
}

// Option настраивает Engine.
type Option func(*Engine)

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTimeout ограничивает каждое обращение к каталогу.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// NewEngine создаёт движок. Если каталог умеет применять пакет изменений, используется он.
func NewEngine(catalog domain.CatalogRepository, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		timeout: defaultTimeout,
		logger:  log.WithField("component", "reservation"),
	}
	if batch, ok := catalog.(domain.StockBatchAdjuster); ok {
		e.batch = batch
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reserve списывает остатки под позиции и возвращает пересчитанные позиции и итоги.
func (e *Engine) Reserve(ctx context.Context, lines []domain.OrderLine) (Result, error) {
	adjustments := make([]domain.StockAdjustment, 0, len(lines))
	for id, qty := range domain.QuantitiesByProduct(lines) {
		adjustments = append(adjustments, domain.Reserve(id, qty))
	}
	domain.SortAdjustments(adjustments)

	products, err := e.Apply(ctx, adjustments)
	if err != nil {
		return Result{}, err
	}

	priced, items, total := domain.PricedLines(lines)
	return Result{Lines: priced, TotalItems: items, TotalAmount: total, Products: products}, nil
}

// Release возвращает остатки позиций на склад.
func (e *Engine) Release(ctx context.Context, lines []domain.OrderLine) ([]domain.Product, error) {
	adjustments := make([]domain.StockAdjustment, 0, len(lines))
	for id, qty := range domain.QuantitiesByProduct(lines) {
		adjustments = append(adjustments, domain.Release(id, qty))
	}
	domain.SortAdjustments(adjustments)

	products, err := e.Apply(ctx, adjustments)
	if err == nil || !errors.Is(err, domain.ErrProductNotFound) {
		return products, err
	}

	// Товар удалён из каталога: возвращать его некуда, остальные позиции возвращаются.
	present, lookupErr := e.present(ctx, adjustments)
	if lookupErr != nil || len(present) == len(adjustments) {
		return nil, err
	}
	return e.Apply(ctx, present)
}

// present оставляет изменения только для товаров, которые есть в каталоге.
func (e *Engine) present(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.StockAdjustment, error) {
	kept := make([]domain.StockAdjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		_, err := e.catalog.GetProduct(callCtx, adj.ProductID)
		cancel()
		switch {
		case err == nil:
			kept = append(kept, adj)
		case errors.Is(err, domain.ErrProductNotFound):
			e.logger.WithFields(log.Fields{
				"product_id": adj.ProductID,
				"quantity":   adj.Delta,
			}).Warn("product is gone from catalog, skipping stock release")
		default:
			return nil, err
		}
	}
	return kept, nil
}

// Apply применяет набор изменений целиком или не применяет ничего.
// Без поддержки пакетов изменения идут по одному в заданном порядке,
// а при сбое уже применённые откатываются в обратном порядке.
func (e *Engine) Apply(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	if len(adjustments) == 0 {
		return nil, nil
	}

	if e.batch != nil {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		products, err := e.batch.AdjustStock(callCtx, adjustments)
		cancel()
		if err != nil {
			err = classify("stock batch", err)
			e.record(adjustments, err)
			return nil, err
		}
		e.record(adjustments, nil)
		return products, nil
	}

	products := make([]domain.Product, 0, len(adjustments))
	for i, adj := range adjustments {
		product, err := e.updateStock(ctx, adj)
		if err != nil {
			err = classify(fmt.Sprintf("product %d", adj.ProductID), err)
			e.record(adjustments[i:i+1], err)
			e.Compensate(ctx, adjustments[:i])
			return nil, err
		}
		e.record(adjustments[i:i+1], nil)
		products = append(products, product)
	}
	return products, nil
}

// Compensate откатывает уже применённые изменения. Родительский контекст может быть
// отменён, поэтому компенсация идёт в отдельном контексте со своим таймаутом.
// Ошибки компенсации логируются и учитываются в метриках.
func (e *Engine) Compensate(ctx context.Context, applied []domain.StockAdjustment) {
	if len(applied) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, adj := range domain.InverseAll(applied) {
		if _, err := e.updateStock(ctx, adj); err != nil {
			e.metrics.RecordCompensationFailure(operationOf(adj))
			e.logger.WithError(err).WithFields(log.Fields{
				"product_id": adj.ProductID,
				"delta":      adj.Delta,
			}).Error("stock compensation failed")
		}
	}
}

func (e *Engine) updateStock(ctx context.Context, adj domain.StockAdjustment) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.catalog.UpdateStock(ctx, adj.ProductID, adj.Delta, adj.ExpectedMinimum)
}

func (e *Engine) record(adjustments []domain.StockAdjustment, err error) {
	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStockConflict):
		result = metrics.ResultConflict
	default:
		result = metrics.ResultError
	}
	for _, adj := range adjustments {
		e.metrics.RecordStockAdjustment(operationOf(adj), result)
	}
}

// classify приводит ошибку каталога к доменной: конфликт остатка или сбой хранилища.
// Ошибка каталога сама называет товар, subject лишь уточняет операцию.
func classify(subject string, err error) error {
	switch {
	case errors.Is(err, domain.ErrStockConflict):
		return err
	case errors.Is(err, domain.ErrProductNotFound):
		// Товар исчез между проверкой и резервированием.
		return fmt.Errorf("%w: %s: %w", domain.ErrStockConflict, subject, err)
	case errors.Is(err, domain.ErrStore):
		return err
	default:
		return fmt.Errorf("%w: adjust %s: %w", domain.ErrStore, subject, err)
	}
}

func operationOf(adj domain.StockAdjustment) string {
	if adj.Delta < 0 {
		return string(domain.OperationReserve)
	}
	return string(domain.OperationRelease)
}
