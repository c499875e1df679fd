package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/processor"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	DeadLetters domain.DeadLetterRepository
	Processor   domain.PaymentProcessor
	Publisher   domain.EventPublisher
	Metrics     *metrics.SettlementMetrics
	Logger      *log.Entry

	store         *postgres.Store
	kafkaProducer *kafka.Producer
}

// NewDependencies создаёт и инициализирует зависимости по конфигурации.
// Пустой DSN включает in-memory хранилище, пустой список брокеров отключает
// публикацию событий, пустой адрес процессора включает мок.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Metrics: metrics.NewSettlementMetrics(),
		Logger:  logger,
	}

	if cfg.DatabaseDSN != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		deps.store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.DeadLetters = postgres.NewDeadLetterRepository(store)
		logger.Info("postgres storage initialized")
	} else {
		deps.Orders = memory.NewOrderRepository()
		deps.DeadLetters = memory.NewDeadLetterRepository()
		logger.Warn("database dsn is empty, using in-memory storage")
	}

	if cfg.ProcessorURL != "" {
		deps.Processor = processor.NewClient(cfg.ProcessorURL, cfg.ProcessorToken, cfg.ProcessorTimeout)
		logger.WithField("processor_url", cfg.ProcessorURL).Info("payment processor client initialized")
	} else {
		deps.Processor = processor.NewMock()
		logger.Warn("processor url is empty, using mock payment processor")
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without events")
		} else {
			deps.kafkaProducer = producer
			deps.Publisher = kafka.NewEventPublisher(producer)
			logger.WithField("brokers", strings.Join(brokers, ",")).Info("kafka producer initialized")
		}
	}

	return deps, nil
}

// PingStorage проверяет доступность базы. Для in-memory хранилища всегда nil.
func (d *Dependencies) PingStorage(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.store.Ping(ctx)
}

// UsesPostgres сообщает, подключено ли постоянное хранилище.
func (d *Dependencies) UsesPostgres() bool {
	return d.store != nil
}

// Close освобождает внешние ресурсы.
func (d *Dependencies) Close() {
	if d.kafkaProducer != nil {
		if err := d.kafkaProducer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			d.Logger.Info("kafka producer closed")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
