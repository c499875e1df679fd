package domain

import "errors"

var (
	// ErrInvalidCart — корзина не прошла валидацию checkout. Оборачивает конкретные замечания.
	ErrInvalidCart = errors.New("cart is invalid")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка пустой корзины.
	ErrCartEmpty = errors.New("cart must contain at least one item")
	// Ошибка позиции без названия.
	ErrItemNameRequired = errors.New("cart item name is required")
	// Ошибка неположительного количества в позиции.
	ErrItemQtyInvalid = errors.New("cart item qty must be greater than zero")
	// Ошибка неположительной цены позиции.
	ErrItemPriceInvalid = errors.New("cart item price must be greater than zero")
	// Ошибка отрицательной суммы заказа.
	ErrTotalNegative = errors.New("total_minor must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// Ошибка отсутствующего correlation id.
	ErrCorrelationIDRequired = errors.New("correlation_id is required")
	// Ошибка отсутствующего внешнего идентификатора платежа.
	ErrExternalPaymentIDRequired = errors.New("external_payment_id is required")

	// ErrOrderNotFound возвращается, если заказ не найден ни по одному ключу сигнала.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists сигнализирует о попытке вставить заказ с занятым id или correlation id.
	ErrOrderExists = errors.New("order already exists")
	// ErrSettlementConflict — сигнал называет другой external_payment_id, чем уже привязан
	// к заказу. Заказ не изменяется, сигнал уходит в dead-letter.
	ErrSettlementConflict = errors.New("settlement names conflicting external payment id")
	// ErrProcessorFetchTimeout — запрос авторитетных данных платежа не уложился в таймаут.
	ErrProcessorFetchTimeout = errors.New("processor fetch timed out")
	// ErrDeadLetterNotFound возвращается при replay несуществующей записи.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// IsInvalidCart проверяет, является ли ошибка ошибкой валидации корзины.
func IsInvalidCart(err error) bool {
	return errors.Is(err, ErrInvalidCart)
}

// IsSettlementConflict проверяет, является ли ошибка конфликтом привязки платежа.
func IsSettlementConflict(err error) bool {
	return errors.Is(err, ErrSettlementConflict)
}
