// Package httpapi публикует операции над заказами через REST API на chi.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey — ключ идемпотентности для POST /orders.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplayed выставляется, когда ответ взят из сохранённого.
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	createOrderRoute = "POST /api/v1/orders"

	defaultRequestTimeout = 15 * time.Second
	defaultMaxBodyBytes   = 1 << 20
)

// OrderService — операции, которые обслуживает API.
type OrderService interface {
	CreateOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error)
	UpdateOrder(ctx context.Context, id string, draft domain.OrderDraft) (domain.Order, error)
	RemoveOrder(ctx context.Context, id string) error
	FindOrder(ctx context.Context, id string) (domain.Order, error)
	FindOrdersByOwner(ctx context.Context, ownerID int64) ([]domain.Order, error)
	ListOrders(ctx context.Context, query domain.PageQuery) (domain.OrderPage, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

// Handler — HTTP-обработчики заказов.
type Handler struct {
	orders         OrderService
	guard          *idempotency.Guard
	metrics        *metrics.HTTPMetrics
	logger         *log.Entry
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку Idempotency-Key для создания заказа.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) { h.guard = guard }
}

// WithMetrics подключает метрики запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRequestTimeout ограничивает время обработки одного запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.requestTimeout = timeout
		}
	}
}

// NewHandler создаёт обработчики поверх сервиса заказов.
func NewHandler(orders OrderService, opts ...Option) *Handler {
	h := &Handler{
		orders:         orders,
		logger:         log.WithField("component", "http-api"),
		requestTimeout: defaultRequestTimeout,
		maxBodyBytes:   defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes собирает роутер со всеми маршрутами и middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(h.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.findOrder)
			r.Put("/{id}", h.updateOrder)
			r.Delete("/{id}", h.removeOrder)
			r.Get("/{id}/timeline", h.timeline)
		})
		r.Get("/owners/{ownerId}/orders", h.ordersByOwner)
		r.Get("/products/{id}", h.getProduct)
	})
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: read body: %v", errMalformedRequest, err))
		return
	}

	create := func(ctx context.Context) idempotency.Response {
		var req orderRequest
		if err := decodeJSON(bytes.NewReader(body), &req); err != nil {
			return h.errorResponse(r, err)
		}
		order, err := h.orders.CreateOrder(ctx, req.toDraft())
		if err != nil {
			return h.errorResponse(r, err)
		}
		return jsonResponse(http.StatusCreated, newOrderResponse(order))
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if h.guard == nil || key == "" {
		writeResponse(w, create(r.Context()))
		return
	}

	resp, replayed, err := h.guard.Do(r.Context(), key, idempotency.RequestHash(createOrderRoute, body), create)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(HeaderIdempotentReplayed, "true")
	}
	writeResponse(w, resp)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, h.maxBodyBytes), &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.orders.UpdateOrder(r.Context(), chi.URLParam(r, "id"), req.toDraft())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) removeOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.RemoveOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) findOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.FindOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query, err := parsePageQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.orders.ListOrders(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(page))
}

func (h *Handler) ordersByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, err := parseID(chi.URLParam(r, "ownerId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	orders, err := h.orders.FindOrdersByOwner(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderListResponse(orders))
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.orders.Timeline(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTimelineResponse(id, events))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.orders.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(product))
}

func decodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON body", errMalformedRequest)
	}
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", errMalformedRequest, raw)
	}
	return id, nil
}

func parsePageQuery(r *http.Request) (domain.PageQuery, error) {
	values := r.URL.Query()
	query := domain.PageQuery{
		SortField:     domain.SortField(values.Get("sortField")),
		SortDirection: domain.SortDirection(values.Get("sortDirection")),
	}
	for name, dst := range map[string]*int{"page": &query.Page, "limit": &query.Limit} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return domain.PageQuery{}, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidPageQuery, name)
		}
		*dst = v
	}
	return query, nil
}

// errorResponse строит тело ошибки; внутренние ошибки логируются, а клиент видит общий текст.
func (h *Handler) errorResponse(r *http.Request, err error) idempotency.Response {
	status, kind := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
		h.logger.WithError(err).WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
	}
	return jsonResponse(status, errorResponse{Error: kind, Message: message})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() != nil {
		// middleware.Timeout сам ответит 504.
		return
	}
	writeResponse(w, h.errorResponse(r, err))
}

func jsonResponse(status int, v any) idempotency.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return idempotency.Response{
			Status: http.StatusInternalServerError,
			Body:   []byte(`{"error":"internal","message":"encode response failed"}`),
		}
	}
	return idempotency.Response{Status: status, Body: body}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeResponse(w, jsonResponse(status, v))
}

func writeResponse(w http.ResponseWriter, resp idempotency.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
