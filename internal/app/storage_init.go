package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

// runtimeDependencies — хранилище, выбранное конфигурацией.
type runtimeDependencies struct {
	uow             domain.UnitOfWork
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageProbe    health.Probe
	closeFn         func() error
}

func (d runtimeDependencies) close(logger *log.Entry) {
	if d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return runtimeDependencies{
			uow:             store,
			outboxRepo:      store.Outbox(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageProbe:    health.Probe{Name: "storage", Ping: func(context.Context) error { return nil }},
			closeFn:         func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres dsn is required for storage driver %q", cfg.StorageDriver)
		}
		pool := postgres.DefaultPoolConfig()
		if cfg.PostgresMaxConns > 0 {
			pool.MaxOpen = cfg.PostgresMaxConns
			pool.MaxIdle = cfg.PostgresMaxConns
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithLogger(logger.WithField("component", "postgres")),
			postgres.WithPool(pool),
		)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return runtimeDependencies{
			uow:             store,
			outboxRepo:      store.Outbox(),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageProbe:    health.Probe{Name: "storage", Ping: store.Ping},
			closeFn:         store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
