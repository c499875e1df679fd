package domain

import "time"

// OrderStatus описывает состояние расчёта по заказу.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, окончательный вердикт процессора ещё не получен.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusApproved — платёж подтверждён процессором. Терминальный статус.
	OrderStatusApproved OrderStatus = "approved"
	// OrderStatusRejected — платёж отклонён процессором. Терминальный статус.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusAbandoned — заказ брошен: pending дольше policy-окна без единого сигнала.
	// Не терминальный: поздний авторитетный сигнал процессора всё ещё может его закрыть.
	OrderStatusAbandoned OrderStatus = "abandoned"
)

// Terminal сообщает, запрещены ли дальнейшие переходы из статуса.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected
}

// StatusSource фиксирует происхождение последнего перехода статуса.
type StatusSource string

const (
	// StatusSourceCheckout — статус выставлен при создании заказа.
	StatusSourceCheckout StatusSource = "checkout"
	// StatusSourceWebhook — переход применён по webhook-уведомлению процессора.
	StatusSourceWebhook StatusSource = "webhook"
	// StatusSourceRedirect — переход применён по браузерному redirect-сигналу.
	StatusSourceRedirect StatusSource = "redirect"
	// StatusSourcePoll — переход применён reconciliation-опросом.
	StatusSourcePoll StatusSource = "poll"
)

// OrderItem представляет одну позицию корзины внутри заказа.
type OrderItem struct {
	ID   string
	Name string
	Qty  int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	CreatedAt  time.Time
}

// Order агрегирует покупку и текущее состояние её расчёта.
type Order struct {
	ID      string
	BuyerID string
	Status  OrderStatus
	// StatusSource — канал, из которого пришёл последний переход статуса.
	StatusSource StatusSource
	Currency     string
	// TotalMinor фиксируется при создании как сумма qty*price и далее неизменен.
	TotalMinor int64
	Items      []OrderItem
	// CorrelationID выдаётся ровно один раз при создании заказа и эхо-возвращается процессором.
	CorrelationID string
	// ExternalPaymentID пуст до первого авторитетного сигнала; после установки неизменен.
	ExternalPaymentID string
	CreatedAt         time.Time
	LastUpdated       time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if o.CorrelationID == "" {
		errs = append(errs, ErrCorrelationIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrTotalNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// CartItem — позиция корзины на входе checkout, до превращения в OrderItem.
type CartItem struct {
	Name       string
	Qty        int32
	PriceMinor int64
}

// ValidateCart проверяет корзину перед запуском оплаты:
// корзина непуста, каждая цена и количество строго положительны.
func ValidateCart(buyerID string, cart []CartItem) []error {
	var errs []error

	if buyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(cart) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	for _, item := range cart {
		if item.Name == "" {
			errs = append(errs, ErrItemNameRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// CartTotal считает сумму корзины в минимальных единицах.
func CartTotal(cart []CartItem) int64 {
	var total int64
	for _, item := range cart {
		total += int64(item.Qty) * item.PriceMinor
	}
	return total
}
