package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func testRunConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.MetricsAddr = freeAddr(t)
	cfg.JWTSecret = "run-test-secret"
	cfg.OutboxPollInterval = 10 * time.Millisecond
	return cfg
}

func authorizedGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRun_ServesAndStopsOnCancel(t *testing.T) {
	cfg := testRunConfig(t)
	api := "http://" + cfg.HTTPAddr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(api + "/health/live")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp := authorizedGet(t, api+"/api/products", "")
	var catalog struct {
		Success bool `json:"success"`
		Total   int  `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&catalog))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, catalog.Success)
	require.Zero(t, catalog.Total)

	resp = authorizedGet(t, api+"/api/orders", "")
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tokens, err := auth.NewTokens(cfg.JWTSecret, nil)
	require.NoError(t, err)
	merchant, err := tokens.Issue(domain.Actor{ID: "merchant-run", Role: domain.RoleMerchant}, time.Minute)
	require.NoError(t, err)
	resp = authorizedGet(t, api+"/api/merchant/products", merchant)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = authorizedGet(t, "http://"+cfg.MetricsAddr+"/readyz", "")
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"storage driver": {mutate: func(c *Config) { c.StorageDriver = "sqlite" }, want: "unsupported storage driver"},
		"jwt secret":     {mutate: func(c *Config) { c.JWTSecret = " " }, want: "jwt secret"},
		"postgres dsn":   {mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, want: "postgres dsn"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testRunConfig(t)
			tc.mutate(&cfg)
			require.ErrorContains(t, Run(context.Background(), cfg), tc.want)
		})
	}
}

func TestInitRuntimeDependencies_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("MARKET_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("MARKET_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresMaxConns = 4

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is unreachable: %v", err)
	}
	t.Cleanup(func() { deps.close(log.WithField("test", "postgres-init")) })

	require.NotNil(t, deps.uow)
	require.NotNil(t, deps.outboxRepo)
	require.NotNil(t, deps.idempotencyRepo)
	require.NoError(t, deps.storageProbe.Ping(context.Background()))
}

func TestShutdownWorker(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	cancelled := false
	done := make(chan struct{})
	close(done)
	shutdownWorker("outbox", func() { cancelled = true }, done, logger)
	require.True(t, cancelled)

	require.NotPanics(t, func() { shutdownWorker("outbox", nil, nil, logger) })
}

func TestStartBackground_StopsOnCancel(t *testing.T) {
	started := make(chan struct{})
	cancel, done := startBackground(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started

	shutdownWorker("test", cancel, done, log.WithField("test", "background"))
	select {
	case <-done:
	default:
		t.Fatal("background worker must be stopped")
	}
}
