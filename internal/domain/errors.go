package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — некорректный или неполный ввод, отклоняется до любых изменений.
	ErrValidation = errors.New("validation error")
	// ErrNotFound — запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized — роль или владелец не допускают операцию.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInsufficientStock — запрошенное количество превышает текущий остаток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition — переход статуса не разрешён для текущего статуса и роли.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyClaimed — заказ уже забрал другой курьер.
	ErrAlreadyClaimed = errors.New("order already claimed")
	// ErrEmptyCart — оформление заказа из пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrProductNotFound — товар отсутствует или недоступен для покупки.
	ErrProductNotFound = errors.New("product not found")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("version conflict")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("%w: order", ErrNotFound)
	// ErrCartItemNotFound — в корзине нет позиции с таким товаром.
	ErrCartItemNotFound = fmt.Errorf("%w: cart item", ErrNotFound)
	// ErrCourierNotFound — профиль курьера не найден.
	ErrCourierNotFound = fmt.Errorf("%w: courier", ErrNotFound)

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind — стабильный машиночитаемый тип ошибки для внешних клиентов.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindNotFound          ErrorKind = "not_found"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindAlreadyClaimed    ErrorKind = "already_claimed"
	KindEmptyCart         ErrorKind = "empty_cart"
	KindProductNotFound   ErrorKind = "product_not_found"
	KindConflict          ErrorKind = "conflict"
	KindInternal          ErrorKind = "internal"
)

// KindOf классифицирует ошибку. Порядок важен: ProductNotFound уже, чем NotFound.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrIdempotencyKeyRequired),
		errors.Is(err, ErrIdempotencyRequestHashRequired):
		return KindValidation
	case errors.Is(err, ErrProductNotFound):
		return KindProductNotFound
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrAlreadyClaimed):
		return KindAlreadyClaimed
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	case errors.Is(err, ErrVersionConflict), IsIdempotencyConflict(err):
		return KindConflict
	default:
		return KindInternal
	}
}

// InsufficientStockError называет товар, на котором не хватило остатка.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// Unwrap позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Validationf оборачивает ErrValidation сообщением.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
