// Package app собирает маркетплейс: хранилище, доменные сервисы, HTTP API, outbox и служебные воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
	"github.com/vladislavdragonenkov/marketplace/internal/service/courier"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

// Run поднимает сервис и блокируется до отмены ctx или падения HTTP-сервера.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, time.Now)
	if err != nil {
		deps.close(logger)
		return err
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		deps.close(logger)
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}

	healthHandler := health.New(version.Current().Version)
	healthHandler.Add(deps.storageProbe)

	producer, _ := initKafkaProducer(cfg.Brokers(), cfg.KafkaClientID, logger)
	var (
		publisher domain.OutboxPublisher = outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher"))
		dlq       domain.OutboxPublisher
	)
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		dlq = kafka.NewDLQPublisher(producer, cfg.KafkaTopic)
		brokers := cfg.Brokers()
		healthHandler.Add(health.Probe{
			Name:     "kafka",
			Ping:     func(ctx context.Context) error { return kafka.ProbeBrokers(ctx, brokers) },
			Optional: true,
		})
	}

	marketMetrics := metrics.NewMarketplaceMetrics()
	router := httpapi.NewRouter(httpapi.Deps{
		Orders: order.NewService(deps.uow,
			order.WithMetrics(marketMetrics),
			order.WithLogger(logger.WithField("component", "order-service")),
		),
		Carts: cart.NewService(deps.uow,
			cart.WithMetrics(marketMetrics),
			cart.WithLogger(logger.WithField("component", "cart-service")),
		),
		Catalog: catalog.NewService(deps.uow,
			catalog.WithLogger(logger.WithField("component", "catalog-service")),
		),
		Couriers: courier.NewService(deps.uow,
			courier.WithLogger(logger.WithField("component", "courier-service")),
		),
		Guard: idempotency.NewGuard(deps.idempotencyRepo,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithReplayMetrics(marketMetrics),
			idempotency.WithGuardLogger(logger.WithField("component", "idempotency-guard")),
		),
		Tokens:  tokens,
		Health:  healthHandler,
		Metrics: marketMetrics,
		Logger:  logger.WithField("component", "http-api"),
	})

	apiSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("http api listening")
		errCh <- apiSrv.Serve(lis)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	}

	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps.outboxRepo, publisher, dlq, logger)
	cleanupCancel, cleanupDone := startIdempotencyCleanup(ctx, cfg, deps.idempotencyRepo, logger)

	logger.WithFields(version.Current().Fields()).WithFields(log.Fields{
		"storage": cfg.StorageDriver,
		"kafka":   producer != nil,
	}).Info("marketplace started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = httpShutdownTimeout
	}
	stopHTTP(apiSrv, shutdownTimeout, logger)
	stopHTTP(metricsSrv, httpShutdownTimeout, logger)
	shutdownWorker("outbox", outboxCancel, outboxDone, logger)
	shutdownWorker("idempotency-cleanup", cleanupCancel, cleanupDone, logger)
	closeKafkaProducer(producer, logger)
	deps.close(logger)

	logger.Info("marketplace stopped")
	return runErr
}
