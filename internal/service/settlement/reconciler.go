package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Reconciler описывает интерфейс сведения платёжных сигналов с заказами.
type Reconciler interface {
	// HandleWebhook обрабатывает server-to-server уведомление процессора.
	// Состояние платежа всегда перечитывается у процессора, payload
	// уведомления как источник статуса не используется.
	HandleWebhook(ctx context.Context, signal domain.WebhookSignal) error
	// HandleRedirect обрабатывает возврат покупателя через браузер.
	// Браузерные параметры advisory: терминальный статус и привязка платежа
	// персистятся только после подтверждения у процессора.
	HandleRedirect(ctx context.Context, signal domain.RedirectSignal) error
	// HandlePoll сверяет один заказ с процессором. Давние pending-заказы
	// без привязанного платежа помечаются abandoned.
	HandlePoll(ctx context.Context, signal domain.PollSignal) error
}

const defaultAbandonAfter = 24 * time.Hour

// reconciler реализует Reconciler поверх условной записи OrderRepository.
type reconciler struct {
	orders       domain.OrderRepository
	deadLetters  domain.DeadLetterRepository
	processor    domain.PaymentProcessor
	publisher    domain.EventPublisher // опциональный publisher событий
	abandonAfter time.Duration
	now          func() time.Time
	logger       *log.Entry
	metrics      *metrics.SettlementMetrics
}

// Option настраивает reconciler.
type Option func(*reconciler)

// WithPublisher подключает публикацию событий о применённых сигналах и DLQ.
func WithPublisher(publisher domain.EventPublisher) Option {
	return func(r *reconciler) {
		r.publisher = publisher
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(r *reconciler) {
		r.metrics = m
	}
}

// WithAbandonAfter задаёт возраст pending-заказа без платежа, после которого
// poll помечает его abandoned.
func WithAbandonAfter(d time.Duration) Option {
	return func(r *reconciler) {
		if d > 0 {
			r.abandonAfter = d
		}
	}
}

// WithClock переопределяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(r *reconciler) {
		r.now = now
	}
}

// NewReconciler создаёт рабочий экземпляр Reconciler.
func NewReconciler(
	orders domain.OrderRepository,
	deadLetters domain.DeadLetterRepository,
	processor domain.PaymentProcessor,
	logger *log.Entry,
	opts ...Option,
) Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "settlement")
	}
	r := &reconciler{
		orders:       orders,
		deadLetters:  deadLetters,
		processor:    processor,
		abandonAfter: defaultAbandonAfter,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook обрабатывает уведомление процессора о платеже.
func (r *reconciler) HandleWebhook(ctx context.Context, signal domain.WebhookSignal) error {
	r.metrics.RecordSignal(string(domain.StatusSourceWebhook))

	if signal.EventType != "payment" {
		// Прочие типы событий подтверждаем и игнорируем.
		r.logger.WithField("event_type", signal.EventType).Debug("webhook event ignored")
		return nil
	}
	if signal.ExternalPaymentID == "" {
		r.deadLetter(domain.DeadLetter{
			Source:  domain.StatusSourceWebhook,
			Reason:  domain.DeadLetterReasonProcessorFetchFailed,
			Detail:  "webhook without payment id",
			Payload: signal.Raw,
		})
		return domain.ErrExternalPaymentIDRequired
	}

	detail, err := r.fetchPayment(ctx, signal.ExternalPaymentID)
	if err != nil {
		r.deadLetter(domain.DeadLetter{
			Source:            domain.StatusSourceWebhook,
			Reason:            domain.DeadLetterReasonProcessorFetchFailed,
			Detail:            err.Error(),
			ExternalPaymentID: signal.ExternalPaymentID,
			Payload:           signal.Raw,
		})
		return err
	}

	order, err := r.resolveOrder(detail.CorrelationID, detail.ExternalPaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			r.deadLetter(domain.DeadLetter{
				Source:            domain.StatusSourceWebhook,
				Reason:            domain.DeadLetterReasonOrderNotFound,
				Detail:            fmt.Sprintf("no order for payment %s", detail.ExternalPaymentID),
				CorrelationID:     detail.CorrelationID,
				ExternalPaymentID: detail.ExternalPaymentID,
				ProcessorStatus:   detail.Status,
				Payload:           signal.Raw,
			})
		}
		return err
	}

	return r.apply(order, domain.SettlementPatch{
		Status:            r.mapStatus(detail.Status),
		ExternalPaymentID: detail.ExternalPaymentID,
		Source:            domain.StatusSourceWebhook,
		ProcessorStatus:   detail.Status,
		Payload:           signal.Raw,
		AppliedAt:         r.now(),
	})
}

// HandleRedirect обрабатывает возврат покупателя от процессора.
func (r *reconciler) HandleRedirect(ctx context.Context, signal domain.RedirectSignal) error {
	r.metrics.RecordSignal(string(domain.StatusSourceRedirect))

	order, err := r.resolveOrder(signal.CorrelationID, signal.ExternalPaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			r.deadLetter(domain.DeadLetter{
				Source:            domain.StatusSourceRedirect,
				Reason:            domain.DeadLetterReasonOrderNotFound,
				Detail:            fmt.Sprintf("no order for correlation id %q or payment %q", signal.CorrelationID, signal.ExternalPaymentID),
				CorrelationID:     signal.CorrelationID,
				ExternalPaymentID: signal.ExternalPaymentID,
				ProcessorStatus:   signal.ProcessorStatus,
				Payload:           signal.Raw,
			})
		}
		return err
	}

	// Abandoned для браузерного сигнала так же липкий, как терминальные
	// статусы: поздний платёж досводят webhook или poll.
	if order.Status.Terminal() || order.Status == domain.OrderStatusAbandoned {
		r.logger.WithField("order_id", order.ID).Debug("redirect after settled status ignored")
		return nil
	}

	// Redirect с платёжным id подтверждаем у процессора и применяем
	// как авторитетный сигнал — но только если перечитанный платёж
	// действительно ссылается на этот заказ: payment_id приходит из
	// браузера и может называть чужой платёж.
	if signal.ExternalPaymentID != "" {
		detail, err := r.fetchPayment(ctx, signal.ExternalPaymentID)
		switch {
		case err == nil && detail.CorrelationID == order.CorrelationID:
			return r.apply(order, domain.SettlementPatch{
				Status:            r.mapStatus(detail.Status),
				ExternalPaymentID: detail.ExternalPaymentID,
				Source:            domain.StatusSourceRedirect,
				ProcessorStatus:   detail.Status,
				Payload:           signal.Raw,
				AppliedAt:         r.now(),
			})
		case err == nil:
			r.deadLetter(domain.DeadLetter{
				Source:            domain.StatusSourceRedirect,
				Reason:            domain.DeadLetterReasonSettlementConflict,
				Detail:            fmt.Sprintf("payment %s references correlation id %q, not %q", detail.ExternalPaymentID, detail.CorrelationID, order.CorrelationID),
				CorrelationID:     order.CorrelationID,
				ExternalPaymentID: detail.ExternalPaymentID,
				ProcessorStatus:   detail.Status,
				Payload:           signal.Raw,
			})
		default:
			r.logger.WithError(err).WithField("order_id", order.ID).Warn("redirect verification failed, applying advisory pending")
		}
	}

	// Без подтверждения браузерный статус не персистится: фиксируем только
	// сам факт возврата, терминальное решение остаётся за webhook или poll.
	return r.apply(order, domain.SettlementPatch{
		Status:          domain.OrderStatusPending,
		Source:          domain.StatusSourceRedirect,
		ProcessorStatus: signal.ProcessorStatus,
		Payload:         signal.Raw,
		AppliedAt:       r.now(),
	})
}

// HandlePoll сверяет заказ с процессором.
func (r *reconciler) HandlePoll(ctx context.Context, signal domain.PollSignal) error {
	r.metrics.RecordSignal(string(domain.StatusSourcePoll))

	order, err := r.orders.FindByCorrelationID(signal.CorrelationID)
	if err != nil {
		return err
	}

	if order.Status.Terminal() {
		return nil
	}

	if order.ExternalPaymentID == "" {
		// Платёж так и не привязался: давний заказ помечаем abandoned,
		// процессор спрашивать не о чем.
		if r.now().Sub(order.LastUpdated) < r.abandonAfter {
			return nil
		}
		err := r.apply(order, domain.SettlementPatch{
			Status:    domain.OrderStatusAbandoned,
			Source:    domain.StatusSourcePoll,
			AppliedAt: r.now(),
		})
		if err == nil {
			r.metrics.RecordAbandoned()
		}
		return err
	}

	detail, err := r.fetchPayment(ctx, order.ExternalPaymentID)
	if err != nil {
		r.deadLetter(domain.DeadLetter{
			Source:            domain.StatusSourcePoll,
			Reason:            domain.DeadLetterReasonProcessorFetchFailed,
			Detail:            err.Error(),
			CorrelationID:     order.CorrelationID,
			ExternalPaymentID: order.ExternalPaymentID,
		})
		return err
	}

	return r.apply(order, domain.SettlementPatch{
		Status:            r.mapStatus(detail.Status),
		ExternalPaymentID: detail.ExternalPaymentID,
		Source:            domain.StatusSourcePoll,
		ProcessorStatus:   detail.Status,
		AppliedAt:         r.now(),
	})
}

// fetchPayment перечитывает платёж у процессора с учётом метрик.
func (r *reconciler) fetchPayment(ctx context.Context, externalPaymentID string) (domain.PaymentDetail, error) {
	start := time.Now()
	detail, err := r.processor.GetPayment(ctx, externalPaymentID)
	r.metrics.RecordFetchDuration(time.Since(start))
	if err != nil {
		return domain.PaymentDetail{}, fmt.Errorf("fetch payment %s: %w", externalPaymentID, err)
	}
	return detail, nil
}

// resolveOrder находит заказ по сигналу: сперва по correlation id, затем по
// уже существующей привязке платежа.
func (r *reconciler) resolveOrder(correlationID, externalPaymentID string) (domain.Order, error) {
	if correlationID != "" {
		order, err := r.orders.FindByCorrelationID(correlationID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
	}
	if externalPaymentID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.orders.FindByExternalPaymentID(externalPaymentID)
}

// mapStatus переводит статус процессора во внутренний, считая неизвестные значения.
func (r *reconciler) mapStatus(status domain.ProcessorStatus) domain.OrderStatus {
	mapped, known := domain.MapProcessorStatus(status)
	if !known {
		r.metrics.RecordUnknownStatus()
		r.logger.WithField("processor_status", string(status)).Warn("unknown processor status treated as pending")
	}
	return mapped
}

// apply выполняет условную запись и разбирает её исход.
func (r *reconciler) apply(order domain.Order, patch domain.SettlementPatch) error {
	updated, outcome, err := r.orders.ApplySettlement(order.ID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrSettlementConflict) {
			r.metrics.RecordConflict()
			r.deadLetter(domain.DeadLetter{
				Source:            patch.Source,
				Reason:            domain.DeadLetterReasonSettlementConflict,
				Detail:            fmt.Sprintf("order %s bound to another payment", order.ID),
				CorrelationID:     order.CorrelationID,
				ExternalPaymentID: patch.ExternalPaymentID,
				ProcessorStatus:   patch.ProcessorStatus,
				Payload:           patch.Payload,
			})
		}
		return err
	}

	switch outcome {
	case domain.SettlementApplied:
		r.metrics.RecordApplied(string(updated.Status))
		r.logger.WithFields(log.Fields{
			"order_id": updated.ID,
			"status":   updated.Status,
			"source":   patch.Source,
		}).Info("settlement applied")
		if r.publisher != nil {
			if err := r.publisher.PublishSettlementApplied(updated, patch); err != nil {
				r.logger.WithError(err).WithField("order_id", updated.ID).Warn("settlement event not published")
			}
		}
	case domain.SettlementAuditOnly:
		r.metrics.RecordAuditOnly()
		r.logger.WithFields(log.Fields{
			"order_id": updated.ID,
			"source":   patch.Source,
		}).Debug("settlement recorded as audit only")
	}
	return nil
}

// deadLetter durable-сохраняет неприменённый сигнал и шлёт его в DLQ-топик.
func (r *reconciler) deadLetter(letter domain.DeadLetter) {
	stored, err := r.deadLetters.Append(letter)
	if err != nil {
		r.logger.WithError(err).Error("dead letter not stored")
		return
	}
	r.metrics.RecordDeadLetter(string(stored.Reason))
	r.logger.WithFields(log.Fields{
		"dead_letter_id": stored.ID,
		"source":         stored.Source,
		"reason":         stored.Reason,
	}).Warn("signal dead-lettered")

	if r.publisher != nil {
		if err := r.publisher.PublishDeadLetter(stored); err != nil {
			r.logger.WithError(err).Warn("dead letter event not published")
		}
	}
}

var _ Reconciler = (*reconciler)(nil)
