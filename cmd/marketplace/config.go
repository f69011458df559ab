package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/app"
)

const (
	envHTTPAddr                    = "MARKET_HTTP_ADDR"
	envMetricsAddr                 = "MARKET_METRICS_ADDR"
	envStorageDriver               = "MARKET_STORAGE_DRIVER"
	envPostgresDSN                 = "MARKET_POSTGRES_DSN"
	envPostgresAutoMigrate         = "MARKET_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "MARKET_POSTGRES_MAX_CONNS"
	envJWTSecret                   = "MARKET_JWT_SECRET"
	envKafkaBrokers                = "MARKET_KAFKA_BROKERS"
	envKafkaTopic                  = "MARKET_KAFKA_TOPIC"
	envKafkaClientID               = "MARKET_KAFKA_CLIENT_ID"
	envOutboxPollInterval          = "MARKET_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "MARKET_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "MARKET_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "MARKET_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "MARKET_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "MARKET_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "MARKET_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envLogLevel                    = "MARKET_LOG_LEVEL"
	envShutdownTimeout             = "MARKET_SHUTDOWN_TIMEOUT"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool { return v > 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректные значения не роняют старт: остаётся дефолт, а в warnings попадает причина.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, positiveInt, "must be > 0")
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, msg)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envPostgresDSN, &cfg.PostgresDSN)
	str(envJWTSecret, &cfg.JWTSecret)
	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaClientID, &cfg.KafkaClientID)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envLogLevel); ok && strings.TrimSpace(v) != "" {
		level := strings.ToLower(strings.TrimSpace(v))
		if _, err := log.ParseLevel(level); err != nil {
			warn(envLogLevel, v, err)
		} else {
			cfg.LogLevel = level
		}
	}

	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxConns, &cfg.PostgresMaxConns)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%d: %s", value, msg)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s: %s", value, msg)
	}
	return value, nil
}

func osLookup(key string) (string, bool) { return os.LookupEnv(key) }
