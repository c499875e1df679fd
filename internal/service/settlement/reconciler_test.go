package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/processor"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func seedOrder(t *testing.T, orders domain.OrderRepository, id, correlationID string) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:            id,
		BuyerID:       "buyer-1",
		Status:        domain.OrderStatusPending,
		StatusSource:  domain.StatusSourceCheckout,
		Currency:      "ARS",
		TotalMinor:    500,
		CorrelationID: correlationID,
		Items: []domain.OrderItem{{
			ID:         "item-1",
			Name:       "sensor",
			Qty:        5,
			PriceMinor: 100,
			CreatedAt:  now,
		}},
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := orders.Insert(order); err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	return order
}

func newReconciler(orders domain.OrderRepository, deadLetters domain.DeadLetterRepository, proc domain.PaymentProcessor, opts ...Option) Reconciler {
	return NewReconciler(orders, deadLetters, proc, nil, opts...)
}

func TestHandleWebhook_AppliesAuthoritativeStatus(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-1",
	}

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
		Raw:               []byte(`{"type":"payment","data":{"id":"pay-1"}}`),
	})
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	updated, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Status != domain.OrderStatusApproved {
		t.Fatalf("expected approved, got %s", updated.Status)
	}
	if updated.StatusSource != domain.StatusSourceWebhook {
		t.Fatalf("expected webhook source, got %s", updated.StatusSource)
	}
	if updated.ExternalPaymentID != "pay-1" {
		t.Fatalf("expected payment binding pay-1, got %q", updated.ExternalPaymentID)
	}
	if proc.GetCalls != 1 {
		t.Fatalf("expected 1 authoritative fetch, got %d", proc.GetCalls)
	}
}

func TestHandleWebhook_IgnoresNonPaymentEvents(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	r := newReconciler(orders, deadLetters, proc)

	err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "merchant_order",
		ExternalPaymentID: "pay-1",
	})
	if err != nil {
		t.Fatalf("expected nil for ignored event, got %v", err)
	}
	if proc.GetCalls != 0 {
		t.Fatalf("expected no processor calls, got %d", proc.GetCalls)
	}
}

func TestHandleWebhook_FetchFailureDeadLetters(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.DetailErr = domain.ErrProcessorFetchTimeout

	seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	})
	if !errors.Is(err, domain.ErrProcessorFetchTimeout) {
		t.Fatalf("expected ErrProcessorFetchTimeout, got %v", err)
	}

	letters, err := deadLetters.List(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	if letters[0].Reason != domain.DeadLetterReasonProcessorFetchFailed {
		t.Fatalf("expected fetch failed reason, got %s", letters[0].Reason)
	}

	// Заказ остаётся pending.
	stored, _ := orders.Get("order-1")
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", stored.Status)
	}
}

func TestHandleWebhook_OrderNotFoundDeadLetters(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-unknown",
	}

	r := newReconciler(orders, deadLetters, proc)

	err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	letters, _ := deadLetters.List(10)
	if len(letters) != 1 || letters[0].Reason != domain.DeadLetterReasonOrderNotFound {
		t.Fatalf("expected order_not_found dead letter, got %+v", letters)
	}
}

func TestHandleWebhook_ConflictingPaymentDeadLetters(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	order := seedOrder(t, orders, "order-1", "corr-1")

	// Привязываем первый платёж.
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusPending,
		CorrelationID:     "corr-1",
	}
	r := newReconciler(orders, deadLetters, proc)
	if err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("first webhook failed: %v", err)
	}

	// Второй платёж с тем же correlation id конфликтует с привязкой.
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-2",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-1",
	}
	err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-2",
	})
	if !errors.Is(err, domain.ErrSettlementConflict) {
		t.Fatalf("expected ErrSettlementConflict, got %v", err)
	}

	letters, _ := deadLetters.List(10)
	if len(letters) != 1 || letters[0].Reason != domain.DeadLetterReasonSettlementConflict {
		t.Fatalf("expected settlement_conflict dead letter, got %+v", letters)
	}

	// Конфликт не трогает заказ и его привязку.
	stored, _ := orders.Get(order.ID)
	if stored.ExternalPaymentID != "pay-1" {
		t.Fatalf("binding must stay pay-1, got %q", stored.ExternalPaymentID)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", stored.Status)
	}
}

func TestWebhookThenRedirect_TerminalStatusSticks(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-1",
	}

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	if err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	// Покупатель возвращается позже: redirect ничего не меняет.
	if err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		CorrelationID:     "corr-1",
		ExternalPaymentID: "pay-1",
		ProcessorStatus:   domain.ProcessorStatusApproved,
	}); err != nil {
		t.Fatalf("redirect failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusApproved || stored.StatusSource != domain.StatusSourceWebhook {
		t.Fatalf("terminal webhook result must stick, got %s from %s", stored.Status, stored.StatusSource)
	}
	if proc.GetCalls != 1 {
		t.Fatalf("redirect after terminal must not fetch, got %d calls", proc.GetCalls)
	}
}

func TestRedirectThenWebhook_SecondSignalAuditOnly(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-1",
	}

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	// Redirect с payment id подтверждается у процессора и применяется первым.
	if err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		CorrelationID:     "corr-1",
		ExternalPaymentID: "pay-1",
		ProcessorStatus:   domain.ProcessorStatusApproved,
	}); err != nil {
		t.Fatalf("redirect failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusApproved || stored.StatusSource != domain.StatusSourceRedirect {
		t.Fatalf("expected approved from redirect, got %s from %s", stored.Status, stored.StatusSource)
	}

	// Догнавший webhook согласен и уходит в audit trail.
	if err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	stored, _ = orders.Get(order.ID)
	if stored.StatusSource != domain.StatusSourceRedirect {
		t.Fatalf("source must stay redirect, got %s", stored.StatusSource)
	}

	records, _ := orders.ListSettlements(order.ID)
	if len(records) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(records))
	}
	if records[1].Applied {
		t.Fatal("second signal must be audit only")
	}
}

func TestHandleRedirect_UnverifiedStaysAdvisory(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.DetailErr = domain.ErrProcessorFetchTimeout

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	// Браузер утверждает approved, но подтверждения нет.
	if err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		CorrelationID:     "corr-1",
		ExternalPaymentID: "pay-1",
		ProcessorStatus:   domain.ProcessorStatusApproved,
	}); err != nil {
		t.Fatalf("redirect failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("unverified redirect must not persist terminal status, got %s", stored.Status)
	}
	if stored.ExternalPaymentID != "" {
		t.Fatalf("unverified redirect must not bind payment, got %q", stored.ExternalPaymentID)
	}
	if stored.StatusSource != domain.StatusSourceRedirect {
		t.Fatalf("expected redirect source, got %s", stored.StatusSource)
	}
}

func TestHandleRedirect_UnknownCorrelationDeadLetters(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	r := newReconciler(orders, deadLetters, proc)

	err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		CorrelationID: "corr-unknown",
	})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	letters, _ := deadLetters.List(10)
	if len(letters) != 1 || letters[0].Reason != domain.DeadLetterReasonOrderNotFound {
		t.Fatalf("expected order_not_found dead letter, got %+v", letters)
	}
}

func TestHandlePoll_AbandonsStaleOrderWithoutPayment(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	order := seedOrder(t, orders, "order-1", "corr-1")

	future := time.Now().UTC().Add(48 * time.Hour)
	r := newReconciler(orders, deadLetters, proc,
		WithAbandonAfter(24*time.Hour),
		WithClock(func() time.Time { return future }),
	)

	if err := r.HandlePoll(context.Background(), domain.PollSignal{CorrelationID: "corr-1"}); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusAbandoned {
		t.Fatalf("expected abandoned, got %s", stored.Status)
	}
	if proc.GetCalls != 0 {
		t.Fatalf("abandon must not call processor, got %d calls", proc.GetCalls)
	}
}

func TestHandlePoll_YoungOrderUntouched(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc, WithAbandonAfter(24*time.Hour))

	if err := r.HandlePoll(context.Background(), domain.PollSignal{CorrelationID: "corr-1"}); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("young order must stay pending, got %s", stored.Status)
	}
}

func TestHandlePoll_FetchesBoundPayment(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusRejected,
		CorrelationID:     "corr-1",
	}

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	// Привязываем платёж через webhook со статусом pending.
	proc.Detail.Status = domain.ProcessorStatusPending
	if err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	// Poll перечитывает платёж и применяет отказ.
	proc.Detail.Status = domain.ProcessorStatusRejected
	if err := r.HandlePoll(context.Background(), domain.PollSignal{CorrelationID: "corr-1"}); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusRejected {
		t.Fatalf("expected rejected, got %s", stored.Status)
	}
	if stored.StatusSource != domain.StatusSourcePoll {
		t.Fatalf("expected poll source, got %s", stored.StatusSource)
	}
}

func TestHandlePoll_SkipsTerminalOrder(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-1",
	}

	seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	if err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	fetchesAfterWebhook := proc.GetCalls

	if err := r.HandlePoll(context.Background(), domain.PollSignal{CorrelationID: "corr-1"}); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if proc.GetCalls != fetchesAfterWebhook {
		t.Fatalf("poll of terminal order must not fetch, got %d extra calls", proc.GetCalls-fetchesAfterWebhook)
	}
}

func TestHandleWebhook_UnknownStatusMapsToPending(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            "in_mediation",
		CorrelationID:     "corr-1",
	}

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	if err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("unknown status must map to pending, got %s", stored.Status)
	}
	if stored.ExternalPaymentID != "pay-1" {
		t.Fatalf("payment must still bind, got %q", stored.ExternalPaymentID)
	}
}

func TestHandleRedirect_ForeignPaymentNotApplied(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	order := seedOrder(t, orders, "order-1", "corr-1")

	// Процессор знает pay-2 как платёж совсем другого заказа.
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-2",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-2",
	}
	r := newReconciler(orders, deadLetters, proc)

	// Браузер подставил чужой payment_id в возврат по своему заказу.
	if err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		CorrelationID:     "corr-1",
		ExternalPaymentID: "pay-2",
		ProcessorStatus:   domain.ProcessorStatusApproved,
	}); err != nil {
		t.Fatalf("redirect failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("foreign payment must not settle order, got %s", stored.Status)
	}
	if stored.ExternalPaymentID != "" {
		t.Fatalf("foreign payment must not bind, got %q", stored.ExternalPaymentID)
	}

	letters, _ := deadLetters.List(10)
	if len(letters) != 1 || letters[0].Reason != domain.DeadLetterReasonSettlementConflict {
		t.Fatalf("expected settlement_conflict dead letter, got %+v", letters)
	}
}

func TestHandleRedirect_ResolvesByPaymentIDOnly(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()
	proc.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusPending,
		CorrelationID:     "corr-1",
	}

	order := seedOrder(t, orders, "order-1", "corr-1")
	r := newReconciler(orders, deadLetters, proc)

	// Привязываем платёж через webhook, статус ещё не терминальный.
	if err := r.HandleWebhook(context.Background(), domain.WebhookSignal{
		EventType:         "payment",
		ExternalPaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	// Возврат без external_reference: заказ находится по привязке платежа.
	proc.Detail.Status = domain.ProcessorStatusApproved
	if err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		ExternalPaymentID: "pay-1",
		ProcessorStatus:   domain.ProcessorStatusApproved,
	}); err != nil {
		t.Fatalf("redirect failed: %v", err)
	}

	stored, _ := orders.Get(order.ID)
	if stored.Status != domain.OrderStatusApproved {
		t.Fatalf("expected approved, got %s", stored.Status)
	}
	if stored.StatusSource != domain.StatusSourceRedirect {
		t.Fatalf("expected redirect source, got %s", stored.StatusSource)
	}

	letters, _ := deadLetters.List(10)
	if len(letters) != 0 {
		t.Fatalf("expected no dead letters, got %+v", letters)
	}
}

// failingOrders подменяет поиск по correlation id инфраструктурной ошибкой.
type failingOrders struct {
	domain.OrderRepository
	findErr error
}

func (f *failingOrders) FindByCorrelationID(string) (domain.Order, error) {
	return domain.Order{}, f.findErr
}

func TestHandleRedirect_InfraErrorNotDeadLettered(t *testing.T) {
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	infraErr := errors.New("storage unavailable")
	orders := &failingOrders{
		OrderRepository: memory.NewOrderRepository(),
		findErr:         fmt.Errorf("find by correlation id: %w", infraErr),
	}
	r := newReconciler(orders, deadLetters, proc)

	err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		CorrelationID: "corr-1",
	})
	if !errors.Is(err, infraErr) {
		t.Fatalf("expected infra error to propagate, got %v", err)
	}

	letters, _ := deadLetters.List(10)
	if len(letters) != 0 {
		t.Fatalf("infra failure must not dead-letter, got %+v", letters)
	}
}

func TestHandleRedirect_AbandonedOrderStaysAbandoned(t *testing.T) {
	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	order := seedOrder(t, orders, "order-1", "corr-1")

	future := time.Now().UTC().Add(48 * time.Hour)
	r := newReconciler(orders, deadLetters, proc,
		WithAbandonAfter(24*time.Hour),
		WithClock(func() time.Time { return future }),
	)

	if err := r.HandlePoll(context.Background(), domain.PollSignal{CorrelationID: "corr-1"}); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	// Поздний возврат покупателя с параметрами «успешной» оплаты.
	if err := r.HandleRedirect(context.Background(), domain.RedirectSignal{
		CorrelationID:     "corr-1",
		ExternalPaymentID: "pay-1",
		ProcessorStatus:   domain.ProcessorStatusApproved,
	}); err != nil {
		t.Fatalf("redirect failed: %v", err)
	}

	stored, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusAbandoned {
		t.Fatalf("redirect must not resurrect abandoned order, got %s", stored.Status)
	}
	if stored.ExternalPaymentID != "" {
		t.Fatalf("redirect must not bind payment, got %q", stored.ExternalPaymentID)
	}
	if proc.GetCalls != 0 {
		t.Fatalf("redirect on abandoned order must not fetch, got %d calls", proc.GetCalls)
	}
}
