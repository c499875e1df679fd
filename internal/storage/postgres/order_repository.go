package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	orderColumns = `id, buyer_id, status, status_source, currency, total_minor,
		correlation_id, COALESCE(external_payment_id, ''), created_at, last_updated`
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Insert(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, status, status_source, currency, total_minor,
			correlation_id, external_payment_id, created_at, last_updated
		) VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10)
	`,
		order.ID, order.BuyerID, string(order.Status), string(order.StatusSource),
		order.Currency, order.TotalMinor, order.CorrelationID,
		order.ExternalPaymentID, order.CreatedAt, order.LastUpdated,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, name, qty, price_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			item.ID, order.ID, item.Name, item.Qty, item.PriceMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit insert order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	return r.queryOne(`WHERE id = $1`, id)
}

func (r *orderRepository) FindByCorrelationID(correlationID string) (domain.Order, error) {
	return r.queryOne(`WHERE correlation_id = $1`, correlationID)
}

func (r *orderRepository) FindByExternalPaymentID(externalPaymentID string) (domain.Order, error) {
	if externalPaymentID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.queryOne(`WHERE external_payment_id = $1`, externalPaymentID)
}

func (r *orderRepository) queryOne(where string, arg interface{}) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	return r.queryMany(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`, buyerID, limit)
}

func (r *orderRepository) ListStalePending(before time.Time, limit int) ([]domain.Order, error) {
	return r.queryMany(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND last_updated < $1
		ORDER BY last_updated ASC
	`, before, limit)
}

func (r *orderRepository) queryMany(query string, arg interface{}, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", arg, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		items, err := r.loadItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

// ApplySettlement выполняет условную запись одним guarded UPDATE. Строка
// обновляется только если заказ не терминален и входящий платёж не
// противоречит привязанному; разбор непрошедшего guard-а идёт в той же
// транзакции под блокировкой строки.
func (r *orderRepository) ApplySettlement(orderID string, patch domain.SettlementPatch) (domain.Order, domain.SettlementOutcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	appliedAt := patch.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, "", fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    status_source = $3,
		    external_payment_id = COALESCE(external_payment_id, NULLIF($4, '')),
		    last_updated = $5
		WHERE id = $1
		  AND status NOT IN ('approved', 'rejected')
		  AND (external_payment_id IS NULL OR $4 = '' OR external_payment_id = $4)
	`,
		orderID, string(patch.Status), string(patch.Source),
		patch.ExternalPaymentID, appliedAt,
	)
	if err != nil {
		return domain.Order{}, "", fmt.Errorf("apply settlement: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, "", fmt.Errorf("rows affected: %w", err)
	}

	outcome := domain.SettlementApplied
	if affected == 0 {
		// Guard не прошёл: блокируем строку и выясняем причину.
		var (
			status string
			epid   string
		)
		err = tx.QueryRowContext(ctx, `
			SELECT status, COALESCE(external_payment_id, '')
			FROM orders
			WHERE id = $1
			FOR UPDATE
		`, orderID).Scan(&status, &epid)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = domain.ErrOrderNotFound
				return domain.Order{}, "", err
			}
			return domain.Order{}, "", fmt.Errorf("diagnose settlement: %w", err)
		}

		if epid != "" && patch.ExternalPaymentID != "" && epid != patch.ExternalPaymentID {
			err = domain.ErrSettlementConflict
			return domain.Order{}, "", err
		}

		// Терминальный статус залип: сигнал остаётся только в audit trail.
		outcome = domain.SettlementAuditOnly
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO settlement_audit (
			id, order_id, source, processor_status, external_payment_id,
			applied, payload, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		uuid.NewString(), orderID, string(patch.Source), string(patch.ProcessorStatus),
		patch.ExternalPaymentID, outcome == domain.SettlementApplied, patch.Payload, appliedAt,
	); err != nil {
		return domain.Order{}, "", fmt.Errorf("insert settlement audit: %w", err)
	}

	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return domain.Order{}, "", fmt.Errorf("reload order: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, "", fmt.Errorf("commit settlement: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, "", err
	}
	order.Items = items

	return order, outcome, nil
}

func (r *orderRepository) ListSettlements(orderID string) ([]domain.SettlementRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, source, processor_status, external_payment_id, applied, payload, created_at
		FROM settlement_audit
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	records := make([]domain.SettlementRecord, 0)
	for rows.Next() {
		var (
			rec             domain.SettlementRecord
			source          string
			processorStatus string
		)
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &source, &processorStatus,
			&rec.ExternalPaymentID, &rec.Applied, &rec.Payload, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan settlement row: %w", err)
		}
		rec.Source = domain.StatusSource(source)
		rec.ProcessorStatus = domain.ProcessorStatus(processorStatus)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement rows: %w", err)
	}

	return records, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, qty, price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Qty, &item.PriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order        domain.Order
		status       string
		statusSource string
	)
	if err := row.Scan(
		&order.ID, &order.BuyerID, &status, &statusSource, &order.Currency,
		&order.TotalMinor, &order.CorrelationID, &order.ExternalPaymentID,
		&order.CreatedAt, &order.LastUpdated,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.StatusSource = domain.StatusSource(statusSource)
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
