package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config — настройки запуска маркетплейса. Значения приходят из окружения (см. cmd/marketplace).
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	JWTSecret string

	// KafkaBrokers — список брокеров через запятую; пустая строка отключает Kafka.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaClientID string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LogLevel        string
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		KafkaTopic:                  kafka.TopicOrderEvents,
		KafkaClientID:               "marketplace",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		LogLevel:                    "info",
		ShutdownTimeout:             10 * time.Second,
	}
}

// Validate проверяет настройки, без которых сервис не может стартовать.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("http address is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("jwt secret is required")
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	return nil
}

// Brokers разбирает KafkaBrokers в список адресов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, raw := range strings.Split(c.KafkaBrokers, ",") {
		if broker := strings.TrimSpace(raw); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
