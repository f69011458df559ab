package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const (
	defaultSweepInterval   = 10 * time.Minute
	defaultSweepBatchSize  = 500
	defaultSweepMaxBatches = 100
)

// Sweeper удаляет ключи оформления заказа, у которых истёк TTL.
type Sweeper struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.CleanupMetrics
	clock      domain.Clock
	interval   time.Duration
	batchSize  int
	maxBatches int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*Sweeper)

func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSweepMetrics(m *metrics.CleanupMetrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func WithSweepClock(clock domain.Clock) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSweepInterval задаёт паузу между прогонами.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepBatchSize задаёт число записей, удаляемых одним запросом.
func WithSweepBatchSize(size int) SweeperOption {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSweepMaxBatches ограничивает число запросов за один прогон; остаток уйдёт в следующий.
func WithSweepMaxBatches(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxBatches = n
		}
	}
}

func NewSweeper(repo domain.IdempotencyRepository, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-sweeper"),
		clock:      time.Now,
		interval:   defaultSweepInterval,
		batchSize:  defaultSweepBatchSize,
		maxBatches: defaultSweepMaxBatches,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run чистит ключи сразу и затем раз в interval, пока ctx не отменён.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper disabled: repository missing")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	deleted, err := s.Sweep(ctx, s.clock())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.metrics.RecordRun("error", deleted)
		s.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency sweep failed")
	default:
		s.metrics.RecordRun("ok", deleted)
		if deleted > 0 {
			s.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет записи с ttl_at <= before порциями и возвращает их общее число.
func (s *Sweeper) Sweep(ctx context.Context, before time.Time) (int, error) {
	before = before.UTC()
	total := 0
	for batch := 0; batch < s.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.repo.DeleteExpired(ctx, before, s.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		s.metrics.RecordDeleted(n)
		if n < s.batchSize {
			return total, nil
		}
	}
	s.logger.WithField("deleted", total).Debug("sweep batch limit reached")
	return total, nil
}
