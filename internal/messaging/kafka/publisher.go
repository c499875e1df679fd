package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// eventSender абстрагирует отправку в топик, чтобы publisher тестировался без брокера.
type eventSender interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// EventPublisher публикует события жизненного цикла заказа в Kafka.
type EventPublisher struct {
	sender eventSender
}

// NewEventPublisher оборачивает producer в доменный publisher.
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{sender: producer}
}

func newEventPublisherWithSender(sender eventSender) *EventPublisher {
	return &EventPublisher{sender: sender}
}

// PublishOrderCreated публикует событие о создании заказа.
func (p *EventPublisher) PublishOrderCreated(order domain.Order) error {
	event := OrderEvent{
		EventType:     EventTypeOrderCreated,
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		Status:        string(order.Status),
		CorrelationID: order.CorrelationID,
		TotalMinor:    order.TotalMinor,
		Currency:      order.Currency,
		Timestamp:     time.Now().UTC(),
	}
	if err := p.sender.PublishEvent(TopicOrderEvents, order.ID, event); err != nil {
		return fmt.Errorf("publish order created: %w", err)
	}
	return nil
}

// PublishSettlementApplied публикует применённый settlement-сигнал.
func (p *EventPublisher) PublishSettlementApplied(order domain.Order, patch domain.SettlementPatch) error {
	event := SettlementEvent{
		EventType:         EventTypeSettlementApplied,
		OrderID:           order.ID,
		Status:            string(order.Status),
		Source:            string(patch.Source),
		ProcessorStatus:   string(patch.ProcessorStatus),
		ExternalPaymentID: order.ExternalPaymentID,
		Timestamp:         time.Now().UTC(),
	}
	if err := p.sender.PublishEvent(TopicSettlementEvents, order.ID, event); err != nil {
		return fmt.Errorf("publish settlement applied: %w", err)
	}
	return nil
}

// PublishDeadLetter публикует сигнал, ушедший в DLQ, для алертинга.
func (p *EventPublisher) PublishDeadLetter(letter domain.DeadLetter) error {
	event := DeadLetterEvent{
		EventType:         EventTypeDeadLetter,
		DeadLetterID:      letter.ID,
		Source:            string(letter.Source),
		Reason:            string(letter.Reason),
		Detail:            letter.Detail,
		CorrelationID:     letter.CorrelationID,
		ExternalPaymentID: letter.ExternalPaymentID,
		Timestamp:         time.Now().UTC(),
	}
	if err := p.sender.PublishEvent(TopicDeadLetterQueue, letter.ID, event); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
