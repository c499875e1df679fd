package domain

import "time"

// WebhookSignal — нормализованное webhook-уведомление процессора.
// Тело webhook не содержит доверенных данных: это только указатель на платёж,
// авторитетная запись перечитывается у процессора по ExternalPaymentID.
type WebhookSignal struct {
	EventID           string
	EventType         string
	ExternalPaymentID string
	// Raw — исходное тело уведомления для audit trail.
	Raw []byte
}

// RedirectSignal — браузерный сигнал с back_url процессора. Браузер может быть
// закрыт, перезагружен или подделан, поэтому сигнал строго ниже по приоритету,
// чем webhook/poll, и никогда не перекрывает терминальный статус.
type RedirectSignal struct {
	CorrelationID     string
	ExternalPaymentID string
	ProcessorStatus   ProcessorStatus
	Raw               []byte
}

// PollSignal — тик reconciliation-опроса по заказу, зависшему в pending.
type PollSignal struct {
	CorrelationID string
}

// SettlementPatch — атомарно применяемое изменение заказа по сигналу.
type SettlementPatch struct {
	Status OrderStatus
	// ExternalPaymentID пуст у advisory-сигналов: привязка платежа происходит
	// только по данным, подтверждённым процессором.
	ExternalPaymentID string
	Source            StatusSource
	ProcessorStatus   ProcessorStatus
	// Payload — сырое содержимое сигнала, дописываемое в audit trail.
	Payload   []byte
	AppliedAt time.Time
}

// SettlementOutcome — результат условной записи в хранилище.
type SettlementOutcome string

const (
	// SettlementApplied — guard пропустил запись, статус/привязка обновлены.
	SettlementApplied SettlementOutcome = "applied"
	// SettlementAuditOnly — заказ уже терминален; сигнал дописан в audit trail,
	// статус, сумма и external_payment_id не тронуты.
	SettlementAuditOnly SettlementOutcome = "audit_only"
)

// SettlementRecord — запись audit trail: один принятый или отклонённый guard-ом сигнал.
type SettlementRecord struct {
	ID                string
	OrderID           string
	Source            StatusSource
	ProcessorStatus   ProcessorStatus
	ExternalPaymentID string
	// Applied — true, если запись сопровождала фактическое изменение заказа.
	Applied   bool
	Payload   []byte
	CreatedAt time.Time
}
