package settlement

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultSweepInterval = 1 * time.Minute
	defaultStaleAfter    = 5 * time.Minute
	defaultSweepBatch    = 100
)

// SweeperOptions задаёт параметры фонового сверщика pending-заказов.
type SweeperOptions struct {
	Logger        *log.Entry
	SweepInterval time.Duration
	StaleAfter    time.Duration
	BatchSize     int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithSweeperLogger задаёт logger для сверщика.
func WithSweeperLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задаёт частоту проходов.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.SweepInterval = interval
	}
}

// WithStaleAfter задаёт возраст pending-заказа, после которого он сверяется.
func WithStaleAfter(staleAfter time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.StaleAfter = staleAfter
	}
}

// WithSweepBatchSize задаёт размер выборки за один проход.
func WithSweepBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// Sweeper периодически сверяет давние pending-заказы с процессором.
// Проход — страховка на случай потерянных webhook и брошенных checkout-ов.
type Sweeper struct {
	orders        domain.OrderRepository
	reconciler    Reconciler
	logger        *log.Entry
	sweepInterval time.Duration
	staleAfter    time.Duration
	batchSize     int
}

// NewSweeper создаёт сверщик pending-заказов.
func NewSweeper(orders domain.OrderRepository, reconciler Reconciler, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		SweepInterval: defaultSweepInterval,
		StaleAfter:    defaultStaleAfter,
		BatchSize:     defaultSweepBatch,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "settlement-sweeper")
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}

	return &Sweeper{
		orders:        orders,
		reconciler:    reconciler,
		logger:        logger,
		sweepInterval: opts.SweepInterval,
		staleAfter:    opts.StaleAfter,
		batchSize:     opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.orders == nil || s.reconciler == nil {
		s.logger.Warn("sweeper is disabled: orders or reconciler is nil")
		return
	}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один проход по давним pending-заказам.
func (s *Sweeper) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	before := time.Now().UTC().Add(-s.staleAfter)
	orders, err := s.orders.ListStalePending(before, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Warn("failed to list stale pending orders")
		return
	}
	if len(orders) == 0 {
		return
	}

	s.logger.WithField("count", len(orders)).Debug("sweeping stale pending orders")

	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		if err := s.reconciler.HandlePoll(ctx, domain.PollSignal{CorrelationID: order.CorrelationID}); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("poll reconciliation failed")
		}
	}
}
