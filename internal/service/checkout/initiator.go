package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/jaevor/go-nanoid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Initiator описывает интерфейс запуска оплаты.
type Initiator interface {
	// Initiate валидирует корзину, регистрирует намерение оплаты у процессора
	// и сохраняет pending-заказ. Возвращает заказ и redirect URL для покупателя.
	Initiate(ctx context.Context, buyerID string, cart []domain.CartItem) (domain.Order, string, error)
}

// initiator реализует запуск оплаты: корзина → платёжное намерение → pending-заказ.
type initiator struct {
	orders    domain.OrderRepository
	processor domain.PaymentProcessor
	publisher domain.EventPublisher // опциональный publisher событий заказа
	returns   domain.ReturnURLs
	currency  string
	newCorrID func() string
	logger    *log.Entry
	metrics   *metrics.SettlementMetrics
}

// Option настраивает initiator.
type Option func(*initiator)

// WithPublisher подключает публикацию событий о созданных заказах.
func WithPublisher(publisher domain.EventPublisher) Option {
	return func(i *initiator) {
		i.publisher = publisher
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(i *initiator) {
		i.metrics = m
	}
}

// WithCorrelationIDGenerator переопределяет генератор correlation id (для тестов).
func WithCorrelationIDGenerator(gen func() string) Option {
	return func(i *initiator) {
		i.newCorrID = gen
	}
}

// NewInitiator создаёт рабочий экземпляр Initiator.
func NewInitiator(
	orders domain.OrderRepository,
	processor domain.PaymentProcessor,
	returns domain.ReturnURLs,
	currency string,
	logger *log.Entry,
	opts ...Option,
) Initiator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}

	newCorrID, err := gonanoid.Standard(21)
	if err != nil {
		// Standard(21) отказывает только на некорректной длине.
		panic(fmt.Sprintf("init correlation id generator: %v", err))
	}

	i := &initiator{
		orders:    orders,
		processor: processor,
		returns:   returns,
		currency:  currency,
		newCorrID: newCorrID,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Initiate выполняет запуск оплаты. На каждый успешный вызов создаётся ровно
// один pending-заказ; при отказе процессора заказ не сохраняется и вызов
// можно повторять без побочных эффектов.
func (i *initiator) Initiate(ctx context.Context, buyerID string, cart []domain.CartItem) (domain.Order, string, error) {
	if errs := domain.ValidateCart(buyerID, cart); len(errs) > 0 {
		i.logger.WithFields(log.Fields{
			"buyer_id": buyerID,
			"errors":   fmt.Sprint(errs),
		}).Warn("cart validation failed")
		return domain.Order{}, "", fmt.Errorf("%w: %v", domain.ErrInvalidCart, errors.Join(errs...))
	}

	now := time.Now().UTC()
	correlationID := i.newCorrID()

	items := make([]domain.OrderItem, 0, len(cart))
	for _, ci := range cart {
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			Name:       ci.Name,
			Qty:        ci.Qty,
			PriceMinor: ci.PriceMinor,
			CreatedAt:  now,
		})
	}

	intent, err := i.processor.CreatePaymentIntent(ctx, items, i.currency, i.returns, correlationID)
	if err != nil {
		i.logger.WithError(err).WithField("correlation_id", correlationID).Error("payment intent creation failed")
		return domain.Order{}, "", fmt.Errorf("create payment intent: %w", err)
	}

	order := domain.Order{
		ID:            uuid.NewString(),
		BuyerID:       buyerID,
		Status:        domain.OrderStatusPending,
		StatusSource:  domain.StatusSourceCheckout,
		Currency:      i.currency,
		TotalMinor:    domain.CartTotal(cart),
		Items:         items,
		CorrelationID: correlationID,
		CreatedAt:     now,
		LastUpdated:   now,
	}

	if err := i.orders.Insert(order); err != nil {
		i.logger.WithError(err).WithField("correlation_id", correlationID).Error("order insert failed")
		return domain.Order{}, "", fmt.Errorf("insert order: %w", err)
	}

	i.metrics.RecordOrderCreated()
	i.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"buyer_id":       buyerID,
		"correlation_id": correlationID,
		"total_minor":    order.TotalMinor,
	}).Info("checkout initiated")

	if i.publisher != nil {
		if err := i.publisher.PublishOrderCreated(order); err != nil {
			// Публикация best-effort: заказ уже создан.
			i.logger.WithError(err).WithField("order_id", order.ID).Warn("order created event not published")
		}
	}

	return order, intent.RedirectURL, nil
}

var _ Initiator = (*initiator)(nil)
