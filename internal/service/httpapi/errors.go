package httpapi

import (
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

// errMalformedRequest — тело или параметры запроса не разбираются.
var errMalformedRequest = errors.New("malformed request")

// clientErrorKinds задаёт код ошибки для каждой ошибки, которую клиент может исправить.
var clientErrorKinds = []struct {
	err  error
	kind string
}{
	{domain.ErrEmptyOrder, "empty_order"},
	{domain.ErrOwnerRequired, "owner_required"},
	{domain.ErrInvalidQuantity, "invalid_quantity"},
	{domain.ErrInvalidPrice, "invalid_price"},
	{domain.ErrUnknownProduct, "unknown_product"},
	{domain.ErrPriceMismatch, "price_mismatch"},
	{domain.ErrInsufficientStock, "insufficient_stock"},
	{domain.ErrInvalidPageQuery, "invalid_page_query"},
}

// classify сопоставляет ошибку HTTP-статусу и коду ошибки.
// Порядок важен: конфликт остатка может оборачивать ErrProductNotFound.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict, "idempotency_key_reused"
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, "idempotency_in_progress"
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return http.StatusBadRequest, "idempotency_key_required"
	case errors.Is(err, domain.ErrStockConflict):
		return http.StatusConflict, "stock_conflict"
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict, "version_conflict"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, errMalformedRequest):
		return http.StatusBadRequest, "malformed_request"
	}

	if domain.IsClientError(err) {
		for _, candidate := range clientErrorKinds {
			if errors.Is(err, candidate.err) {
				return http.StatusBadRequest, candidate.kind
			}
		}
	}
	return http.StatusInternalServerError, "internal"
}
