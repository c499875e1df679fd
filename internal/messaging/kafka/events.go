package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated EventType = "order.created"

	// Settlement события
	EventTypeSettlementApplied EventType = "settlement.applied"

	// DLQ события
	EventTypeDeadLetter EventType = "settlement.dead_letter"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "checkout.order.events"
	TopicSettlementEvents = "checkout.settlement.events"
	TopicDeadLetterQueue  = "checkout.settlement.dlq" // Dead Letter Queue для неприменённых сигналов
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType     EventType `json:"event_type"`
	OrderID       string    `json:"order_id"`
	BuyerID       string    `json:"buyer_id"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id"`
	TotalMinor    int64     `json:"total_minor"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// SettlementEvent представляет применённый settlement-сигнал
type SettlementEvent struct {
	EventType         EventType `json:"event_type"`
	OrderID           string    `json:"order_id"`
	Status            string    `json:"status"`
	Source            string    `json:"source"`
	ProcessorStatus   string    `json:"processor_status,omitempty"`
	ExternalPaymentID string    `json:"external_payment_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// DeadLetterEvent представляет сигнал, отправленный в DLQ
type DeadLetterEvent struct {
	EventType         EventType `json:"event_type"`
	DeadLetterID      string    `json:"dead_letter_id"`
	Source            string    `json:"source"`
	Reason            string    `json:"reason"`
	Detail            string    `json:"detail,omitempty"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
	ExternalPaymentID string    `json:"external_payment_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
