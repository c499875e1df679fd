package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository для локальной
// разработки и тестов. Guard условной записи выполняется под одной критической
// секцией, поэтому конкурентные сигналы сериализуются так же, как в PostgreSQL.
type orderRepositoryInMemory struct {
	mu          sync.RWMutex
	items       map[string]domain.Order
	byCorr      map[string]string
	byPayment   map[string]string
	settlements map[string][]domain.SettlementRecord
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:       make(map[string]domain.Order),
		byCorr:      make(map[string]string),
		byPayment:   make(map[string]string),
		settlements: make(map[string][]domain.SettlementRecord),
	}
}

// Insert сохраняет новый заказ, если id и correlation id ещё не заняты.
func (r *orderRepositoryInMemory) Insert(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderExists
	}
	if _, exists := r.byCorr[order.CorrelationID]; exists {
		return domain.ErrOrderExists
	}

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	r.byCorr[order.CorrelationID] = order.ID
	if order.ExternalPaymentID != "" {
		r.byPayment[order.ExternalPaymentID] = order.ID
	}
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// FindByCorrelationID возвращает заказ по correlation id.
func (r *orderRepositoryInMemory) FindByCorrelationID(correlationID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCorr[correlationID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.items[id]), nil
}

// FindByExternalPaymentID возвращает заказ по привязанному платежу.
func (r *orderRepositoryInMemory) FindByExternalPaymentID(externalPaymentID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if externalPaymentID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	id, ok := r.byPayment[externalPaymentID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.items[id]), nil
}

// ListByBuyer возвращает заказы покупателя, свежие первыми, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.BuyerID != buyerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ListStalePending возвращает pending-заказы, не обновлявшиеся после before.
func (r *orderRepositoryInMemory) ListStalePending(before time.Time, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		if !order.LastUpdated.Before(before) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastUpdated.Before(result[j].LastUpdated)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ApplySettlement применяет patch одной условной записью под guard-ом
// «не терминален, либо привязка совпадает» и дописывает audit trail.
func (r *orderRepositoryInMemory) ApplySettlement(orderID string, patch domain.SettlementPatch) (domain.Order, domain.SettlementOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.Order{}, "", domain.ErrOrderNotFound
	}

	if order.ExternalPaymentID != "" && patch.ExternalPaymentID != "" && order.ExternalPaymentID != patch.ExternalPaymentID {
		return domain.Order{}, "", domain.ErrSettlementConflict
	}

	appliedAt := patch.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now().UTC()
	}

	record := domain.SettlementRecord{
		ID:                uuid.NewString(),
		OrderID:           orderID,
		Source:            patch.Source,
		ProcessorStatus:   patch.ProcessorStatus,
		ExternalPaymentID: patch.ExternalPaymentID,
		Payload:           append([]byte(nil), patch.Payload...),
		CreatedAt:         appliedAt,
	}

	if order.Status.Terminal() {
		// Терминальный статус залип: сигнал остаётся только в audit trail.
		r.settlements[orderID] = append(r.settlements[orderID], record)
		return cloneOrder(order), domain.SettlementAuditOnly, nil
	}

	order.Status = patch.Status
	order.StatusSource = patch.Source
	order.LastUpdated = appliedAt
	if order.ExternalPaymentID == "" && patch.ExternalPaymentID != "" {
		order.ExternalPaymentID = patch.ExternalPaymentID
		r.byPayment[patch.ExternalPaymentID] = orderID
	}

	record.Applied = true
	r.items[orderID] = order
	r.settlements[orderID] = append(r.settlements[orderID], record)

	return cloneOrder(order), domain.SettlementApplied, nil
}

// ListSettlements возвращает audit trail заказа в порядке поступления.
func (r *orderRepositoryInMemory) ListSettlements(orderID string) ([]domain.SettlementRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.settlements[orderID]
	result := make([]domain.SettlementRecord, 0, len(records))
	for _, rec := range records {
		rec.Payload = append([]byte(nil), rec.Payload...)
		result = append(result, rec)
	}
	return result, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
