package domain

import (
	"context"
	"time"
)

// ReturnURLs — адреса возврата покупателя после оплаты у процессора.
type ReturnURLs struct {
	Success string
	Failure string
	Pending string
}

// PaymentIntent — результат создания платёжного намерения у процессора.
type PaymentIntent struct {
	CorrelationID string
	RedirectURL   string
}

// PaymentDetail — авторитетная запись платежа, перечитанная у процессора.
type PaymentDetail struct {
	ExternalPaymentID string
	Status            ProcessorStatus
	AmountMinor       int64
	Currency          string
	CorrelationID     string
}

// PaymentProcessor описывает взаимодействие с внешним платёжным процессором.
type PaymentProcessor interface {
	// CreatePaymentIntent регистрирует намерение оплаты и возвращает redirect URL.
	// correlationID эхо-возвращается процессором во всех последующих сигналах.
	CreatePaymentIntent(ctx context.Context, items []OrderItem, currency string, returns ReturnURLs, correlationID string) (PaymentIntent, error)
	// GetPayment возвращает авторитетное состояние платежа по его внешнему id.
	GetPayment(ctx context.Context, externalPaymentID string) (PaymentDetail, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Insert сохраняет новый заказ. Возвращает ErrOrderExists при занятом id или correlation id.
	Insert(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// FindByCorrelationID возвращает заказ по correlation id или ErrOrderNotFound.
	FindByCorrelationID(correlationID string) (Order, error)
	// FindByExternalPaymentID возвращает заказ по привязанному платежу или ErrOrderNotFound.
	FindByExternalPaymentID(externalPaymentID string) (Order, error)
	// ListByBuyer возвращает заказы покупателя, свежие первыми, с ограничением limit (если >0).
	ListByBuyer(buyerID string, limit int) ([]Order, error)
	// ListStalePending возвращает pending-заказы, не обновлявшиеся после before.
	ListStalePending(before time.Time, limit int) ([]Order, error)
	// ApplySettlement выполняет одну атомарную условную запись по guard-у:
	// «заказ ещё не терминален, либо входящий external_payment_id совпадает с привязанным».
	// Прошедший guard patch обновляет статус, привязку, источник и last_updated и дописывает
	// запись audit trail в той же транзакции. Терминальный заказ с совпадающей привязкой
	// получает только audit-запись (SettlementAuditOnly). Несовпадающая привязка —
	// ErrSettlementConflict без каких-либо изменений.
	ApplySettlement(orderID string, patch SettlementPatch) (Order, SettlementOutcome, error)
	// ListSettlements возвращает audit trail заказа в порядке поступления.
	ListSettlements(orderID string) ([]SettlementRecord, error)
}

// DeadLetterRepository хранит неприменённые сигналы для операторского разбора.
type DeadLetterRepository interface {
	// Append durable-сохраняет dead letter и возвращает запись с заполненным id.
	Append(letter DeadLetter) (DeadLetter, error)
	// Get возвращает запись по id или ErrDeadLetterNotFound.
	Get(id string) (DeadLetter, error)
	// List возвращает последние записи, свежие первыми.
	List(limit int) ([]DeadLetter, error)
}

// EventPublisher публикует события жизненного цикла заказа во внешнюю шину.
// Публикация best-effort: ошибка логируется и не прерывает reconciliation.
type EventPublisher interface {
	PublishOrderCreated(order Order) error
	PublishSettlementApplied(order Order, patch SettlementPatch) error
	PublishDeadLetter(letter DeadLetter) error
}
