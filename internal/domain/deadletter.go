package domain

import "time"

// DeadLetterReason классифицирует причину попадания сигнала в dead-letter.
type DeadLetterReason string

const (
	// DeadLetterReasonOrderNotFound — сигнал не удалось привязать ни к одному заказу.
	DeadLetterReasonOrderNotFound DeadLetterReason = "order_not_found"
	// DeadLetterReasonSettlementConflict — сигнал назвал другой external_payment_id.
	DeadLetterReasonSettlementConflict DeadLetterReason = "settlement_conflict"
	// DeadLetterReasonProcessorFetchFailed — авторитетные данные платежа получить не удалось.
	DeadLetterReasonProcessorFetchFailed DeadLetterReason = "processor_fetch_failed"
)

// DeadLetter — сигнал, который не удалось применить. Хранится durable для
// операторского разбора вместо молчаливой потери.
type DeadLetter struct {
	ID                string
	Source            StatusSource
	Reason            DeadLetterReason
	Detail            string
	CorrelationID     string
	ExternalPaymentID string
	ProcessorStatus   ProcessorStatus
	Payload           []byte
	CreatedAt         time.Time
}
