package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
)

const workerStopTimeout = 5 * time.Second

// startBackground запускает fn в отдельной горутине со своим cancel.
// Канал done закрывается, когда fn вернулась.
func startBackground(ctx context.Context, fn func(ctx context.Context)) (context.CancelFunc, <-chan struct{}) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(workerCtx)
	}()
	return cancel, done
}

func startOutboxWorker(
	ctx context.Context,
	cfg Config,
	repo domain.OutboxRepository,
	publisher, dlq domain.OutboxPublisher,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		options = append(options, outbox.WithDLQPublisher(dlq))
	}
	worker := outbox.NewWorker(repo, publisher, options...)
	return startBackground(ctx, worker.Run)
}

func startIdempotencyCleanup(
	ctx context.Context,
	cfg Config,
	repo domain.IdempotencyRepository,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	sweeper := idempotency.NewSweeper(repo,
		idempotency.WithSweepLogger(logger.WithField("component", "idempotency-sweeper")),
		idempotency.WithSweepMetrics(metrics.NewCleanupMetricsWithRegisterer(prometheus.DefaultRegisterer)),
		idempotency.WithSweepInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithSweepBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	return startBackground(ctx, sweeper.Run)
}

// shutdownWorker отменяет воркер и ждёт его завершения не дольше workerStopTimeout.
func shutdownWorker(name string, cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.WithField("worker", name).Info("worker stopped")
	case <-time.After(workerStopTimeout):
		logger.WithField("worker", name).Warn("worker stop timed out")
	}
}
