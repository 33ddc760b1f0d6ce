package domain

import "errors"

var (
	// ErrEmptyOrder — в заказе нет ни одной позиции.
	ErrEmptyOrder = errors.New("order must contain at least one line")
	// ErrOwnerRequired — не указан владелец заказа.
	ErrOwnerRequired = errors.New("owner_id must be greater than zero")
	// ErrInvalidQuantity — количество в позиции <= 0.
	ErrInvalidQuantity = errors.New("line quantity must be greater than zero")
	// ErrInvalidPrice — отрицательная цена позиции.
	ErrInvalidPrice = errors.New("line price must be non-negative")
	// ErrUnknownProduct — позиция ссылается на несуществующий или неактивный товар.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrPriceMismatch — цена позиции не совпадает с текущей ценой каталога.
	ErrPriceMismatch = errors.New("line price does not match catalog price")
	// ErrInsufficientStock — на складе меньше, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidPageQuery — некорректные параметры пагинации или сортировки.
	ErrInvalidPageQuery = errors.New("invalid page query")

	// ErrProductNotFound возвращается каталогом, если товара нет.
	ErrProductNotFound = errors.New("product not found")
	// ErrStockConflict — атомарное изменение остатка отклонено: остаток упал ниже требуемого минимума.
	ErrStockConflict = errors.New("stock conflict")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrStore — сбой хранилища (сеть, сериализация, таймаут).
	ErrStore = errors.New("store error")
	// ErrCacheMiss — в кэше нет записи.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidNotification — payload уведомления не соответствует его виду.
	ErrInvalidNotification = errors.New("invalid notification")
	// ErrInvalidTimelineEvent — событие истории без заказа или неизвестного типа.
	ErrInvalidTimelineEvent = errors.New("invalid timeline event")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован этим же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — записи для ключа нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsConflict — ошибка гонки, запрос можно повторить.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStockConflict) || errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound — ссылка на отсутствующий заказ.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsClientError — ошибка, которую клиент может исправить сам.
// Конфликты проверяются раньше: ErrStockConflict может оборачивать ErrProductNotFound.
func IsClientError(err error) bool {
	if err == nil || IsConflict(err) {
		return false
	}
	for _, target := range []error{
		ErrEmptyOrder,
		ErrOwnerRequired,
		ErrInvalidQuantity,
		ErrInvalidPrice,
		ErrUnknownProduct,
		ErrPriceMismatch,
		ErrInsufficientStock,
		ErrInvalidPageQuery,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
