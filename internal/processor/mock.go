package processor

import (
	"context"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Mock — конфигурируемая заглушка PaymentProcessor для тестов.
type Mock struct {
	Intent    domain.PaymentIntent
	IntentErr error
	Detail    domain.PaymentDetail
	DetailErr error

	CreateCalls int
	GetCalls    int

	// LastCorrelationID запоминает correlation id последнего CreatePaymentIntent.
	LastCorrelationID string
	// LastExternalPaymentID запоминает аргумент последнего GetPayment.
	LastExternalPaymentID string
}

// NewMock возвращает mock с успешным сценарием по умолчанию.
func NewMock() *Mock {
	return &Mock{
		Intent: domain.PaymentIntent{
			RedirectURL: "https://processor.test/checkout/redirect",
		},
		Detail: domain.PaymentDetail{
			ExternalPaymentID: "pay-mock",
			Status:            domain.ProcessorStatusApproved,
		},
	}
}

// CreatePaymentIntent возвращает заранее настроенный intent и считает вызовы.
func (m *Mock) CreatePaymentIntent(ctx context.Context, items []domain.OrderItem, currency string, returns domain.ReturnURLs, correlationID string) (domain.PaymentIntent, error) {
	m.CreateCalls++
	m.LastCorrelationID = correlationID
	if m.IntentErr != nil {
		return domain.PaymentIntent{}, m.IntentErr
	}
	intent := m.Intent
	if intent.CorrelationID == "" {
		intent.CorrelationID = correlationID
	}
	return intent, nil
}

// GetPayment возвращает настроенный результат и считает вызовы.
func (m *Mock) GetPayment(ctx context.Context, externalPaymentID string) (domain.PaymentDetail, error) {
	m.GetCalls++
	m.LastExternalPaymentID = externalPaymentID
	if m.DetailErr != nil {
		return domain.PaymentDetail{}, m.DetailErr
	}
	detail := m.Detail
	if detail.ExternalPaymentID == "" {
		detail.ExternalPaymentID = externalPaymentID
	}
	return detail, nil
}

var _ domain.PaymentProcessor = (*Mock)(nil)
