package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/app"
)

func env(values map[string]string) envLookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestReadConfigFromEnv_EmptyEnvironmentKeepsDefaults(t *testing.T) {
	cfg, warnings := readConfigFromEnv(env(map[string]string{
		envHTTPAddr:      "   ",
		envStorageDriver: "",
	}))

	require.Empty(t, warnings)
	require.Equal(t, app.DefaultConfig(), cfg)
}

func TestReadConfigFromEnv_Overrides(t *testing.T) {
	cfg, warnings := readConfigFromEnv(env(map[string]string{
		envHTTPAddr:                    " 127.0.0.1:8181 ",
		envMetricsAddr:                 "127.0.0.1:9191",
		envStorageDriver:               " Postgres",
		envPostgresDSN:                 "postgres://market@db:5432/market",
		envPostgresAutoMigrate:         "no",
		envPostgresMaxConns:            "8",
		envJWTSecret:                   "top-secret",
		envKafkaBrokers:                "k1:9092, k2:9092 ,",
		envKafkaTopic:                  "market.orders.v2",
		envKafkaClientID:               "market-eu",
		envOutboxPollInterval:          "500ms",
		envOutboxBatchSize:             "10",
		envOutboxMaxAttempts:           "5",
		envOutboxRetryDelay:            "0s",
		envIdempotencyTTL:              "6h",
		envIdempotencyCleanupInterval:  "1m",
		envIdempotencyCleanupBatchSize: "50",
		envLogLevel:                    "Warn",
		envShutdownTimeout:             "20s",
	}))
	require.Empty(t, warnings)

	want := app.DefaultConfig()
	want.HTTPAddr = "127.0.0.1:8181"
	want.MetricsAddr = "127.0.0.1:9191"
	want.StorageDriver = app.StorageDriverPostgres
	want.PostgresDSN = "postgres://market@db:5432/market"
	want.PostgresAutoMigrate = false
	want.PostgresMaxConns = 8
	want.JWTSecret = "top-secret"
	want.KafkaBrokers = "k1:9092, k2:9092 ,"
	want.KafkaTopic = "market.orders.v2"
	want.KafkaClientID = "market-eu"
	want.OutboxPollInterval = 500 * time.Millisecond
	want.OutboxBatchSize = 10
	want.OutboxMaxAttempts = 5
	want.OutboxRetryDelay = 0
	want.IdempotencyTTL = 6 * time.Hour
	want.IdempotencyCleanupInterval = time.Minute
	want.IdempotencyCleanupBatchSize = 50
	want.LogLevel = "warn"
	want.ShutdownTimeout = 20 * time.Second

	require.Equal(t, want, cfg)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	require.NoError(t, cfg.Validate())
}

func TestReadConfigFromEnv_InvalidValuesWarnAndKeepDefaults(t *testing.T) {
	bad := map[string]string{
		envPostgresAutoMigrate:         "maybe",
		envPostgresMaxConns:            "-3",
		envOutboxPollInterval:          "0s",
		envOutboxBatchSize:             "ten",
		envOutboxMaxAttempts:           "0",
		envOutboxRetryDelay:            "-5ms",
		envIdempotencyTTL:              "forever",
		envIdempotencyCleanupInterval:  "-1m",
		envIdempotencyCleanupBatchSize: "0",
		envLogLevel:                    "chatty",
		envShutdownTimeout:             "soon",
	}

	cfg, warnings := readConfigFromEnv(env(bad))

	require.Equal(t, app.DefaultConfig(), cfg)
	require.Len(t, warnings, len(bad))
	for key := range bad {
		assert.True(t, containsPrefix(warnings, key+"="), "no warning for %s in %v", key, warnings)
	}
}

func containsPrefix(lines []string, prefix string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func TestParseBool(t *testing.T) {
	for raw, want := range map[string]bool{"1": true, " On ": true, "Y": true, "false": false, "NO": false, "0": false} {
		got, err := parseBool(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	_, err := parseBool("sometimes")
	require.ErrorContains(t, err, `invalid boolean "sometimes"`)
}

func TestParseNumbers(t *testing.T) {
	n, err := parseInt(" 12 ", positiveInt, "must be > 0")
	require.NoError(t, err)
	require.Equal(t, 12, n)

	_, err = parseInt("0", positiveInt, "must be > 0")
	require.ErrorContains(t, err, "0: must be > 0")

	d, err := parseDuration(" 250ms ", nonNegativeDuration, "must be >= 0")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = parseDuration("0s", positiveDuration, "must be > 0")
	require.ErrorContains(t, err, "must be > 0")

	_, err = parseDuration("later", positiveDuration, "must be > 0")
	require.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	setupLogger("debug")
	require.Equal(t, log.DebugLevel, log.GetLevel())

	setupLogger("nonsense")
	require.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, loadDotEnv(filepath.Join(dir, "absent.env")))

	const key = "MARKET_DOTENV_PROBE"
	path := filepath.Join(dir, "market.env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))

	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
	require.NoError(t, loadDotEnv(path))
	require.Equal(t, "from-file", os.Getenv(key))

	t.Setenv(key, "from-env")
	require.NoError(t, loadDotEnv(path))
	require.Equal(t, "from-env", os.Getenv(key))
}
