package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type deadLetterRepository struct {
	db *sql.DB
}

// NewDeadLetterRepository создаёт PostgreSQL-реализацию DeadLetterRepository.
func NewDeadLetterRepository(store *Store) domain.DeadLetterRepository {
	return &deadLetterRepository{db: store.DB()}
}

func (r *deadLetterRepository) Append(letter domain.DeadLetter) (domain.DeadLetter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, source, reason, detail, correlation_id,
			external_payment_id, processor_status, payload, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		letter.ID, string(letter.Source), string(letter.Reason), letter.Detail,
		letter.CorrelationID, letter.ExternalPaymentID, string(letter.ProcessorStatus),
		letter.Payload, letter.CreatedAt,
	)
	if err != nil {
		return domain.DeadLetter{}, fmt.Errorf("insert dead letter: %w", err)
	}

	return letter, nil
}

func (r *deadLetterRepository) Get(id string) (domain.DeadLetter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	letter, err := scanDeadLetter(r.db.QueryRowContext(ctx, `
		SELECT id, source, reason, detail, correlation_id,
		       external_payment_id, processor_status, payload, created_at
		FROM dead_letters
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DeadLetter{}, domain.ErrDeadLetterNotFound
		}
		return domain.DeadLetter{}, fmt.Errorf("select dead letter: %w", err)
	}

	return letter, nil
}

func (r *deadLetterRepository) List(limit int) ([]domain.DeadLetter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, source, reason, detail, correlation_id,
		       external_payment_id, processor_status, payload, created_at
		FROM dead_letters
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]domain.DeadLetter, 0)
	for rows.Next() {
		letter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter row: %w", err)
		}
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letter rows: %w", err)
	}

	return letters, nil
}

func scanDeadLetter(row rowScanner) (domain.DeadLetter, error) {
	var (
		letter          domain.DeadLetter
		source          string
		reason          string
		processorStatus string
	)
	if err := row.Scan(
		&letter.ID, &source, &reason, &letter.Detail, &letter.CorrelationID,
		&letter.ExternalPaymentID, &processorStatus, &letter.Payload, &letter.CreatedAt,
	); err != nil {
		return domain.DeadLetter{}, err
	}
	letter.Source = domain.StatusSource(source)
	letter.Reason = domain.DeadLetterReason(reason)
	letter.ProcessorStatus = domain.ProcessorStatus(processorStatus)
	return letter, nil
}

var _ domain.DeadLetterRepository = (*deadLetterRepository)(nil)
