package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config описывает настройки запуска сервиса. Значения читаются из
// переменных окружения с префиксом CHECKOUT_.
type Config struct {
	HTTPAddr    string `env:"CHECKOUT_HTTP_ADDR" env-default:":8080"`
	MetricsAddr string `env:"CHECKOUT_METRICS_ADDR" env-default:":9090"`

	// DatabaseDSN пустой — заказы хранятся в памяти (dev-режим).
	DatabaseDSN string `env:"CHECKOUT_DATABASE_DSN"`

	// KafkaBrokers пустой — события не публикуются.
	KafkaBrokers string `env:"CHECKOUT_KAFKA_BROKERS"`

	// ProcessorURL пустой — используется мок процессора (dev-режим).
	ProcessorURL     string        `env:"CHECKOUT_PROCESSOR_URL"`
	ProcessorToken   string        `env:"CHECKOUT_PROCESSOR_TOKEN"`
	ProcessorTimeout time.Duration `env:"CHECKOUT_PROCESSOR_TIMEOUT" env-default:"5s"`

	// PublicURL — внешний адрес сервиса, на него процессор возвращает покупателя.
	PublicURL string `env:"CHECKOUT_PUBLIC_URL" env-default:"http://localhost:8080"`
	// BuyerURL — адрес витрины, куда сервис отправляет покупателя после redirect.
	BuyerURL string `env:"CHECKOUT_BUYER_URL" env-default:"http://localhost:3000/orders"`

	Currency     string        `env:"CHECKOUT_CURRENCY" env-default:"ARS"`
	AbandonAfter time.Duration `env:"CHECKOUT_ABANDON_AFTER" env-default:"24h"`

	SweepInterval  time.Duration `env:"CHECKOUT_SWEEP_INTERVAL" env-default:"1m"`
	SweepStale     time.Duration `env:"CHECKOUT_SWEEP_STALE_AFTER" env-default:"5m"`
	SweepBatchSize int           `env:"CHECKOUT_SWEEP_BATCH_SIZE" env-default:"100"`
}

// ReadConfig читает конфигурацию из окружения.
func ReadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read config from environment: %w", err)
	}
	return cfg, nil
}

// Brokers возвращает список Kafka-брокеров из строки с запятыми.
func (c Config) Brokers() []string {
	raw := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(raw))
	for _, b := range raw {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
