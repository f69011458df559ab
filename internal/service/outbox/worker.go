package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 50 * time.Millisecond
	maxRetryDelay       = 30 * time.Second
)

// Результаты публикации для метрики outbox_publish_total.
const (
	resultSent       = "sent"
	resultRetry      = "retry_error"
	resultFailed     = "failed"
	resultDeadLetter = "dead_lettered"
	resultDLQFailed  = "dlq_failed"
)

// retryPolicy — экспоненциальная задержка между попытками публикации одного события.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

// backoff возвращает паузу перед попыткой attempt+1.
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 || attempt < 1 {
		return 0
	}
	delay := p.base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// Worker переносит события заказов из outbox в брокер.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	logger      *log.Entry
	metrics     *metrics.OutboxMetrics
	clock       domain.Clock
	interval    time.Duration
	batchSize   int
	retry       retryPolicy
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock подменяет время для возраста backlog и отметки failed_at.
func WithClock(clock domain.Clock) Option {
	return func(w *Worker) { w.clock = clock }
}

// WithDLQPublisher включает отправку dead letter после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.interval = interval }
}

func WithBatchSize(size int) Option {
	return func(w *Worker) { w.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) { w.retry.attempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retry.base = delay }
}

// NewWorker создаёт worker; нулевые и отрицательные настройки заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
		retry:     retryPolicy{attempts: defaultMaxAttempts, base: defaultRetryDelay},
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	if w.interval <= 0 {
		w.interval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.retry.attempts <= 0 {
		w.retry.attempts = defaultMaxAttempts
	}
	if w.retry.base < 0 {
		w.retry.base = 0
	}
	return w
}

// Run опрашивает outbox до отмены ctx. Полный батч забирается сразу, без ожидания тика.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: repository or publisher missing")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := w.interval
		if w.ProcessOnce(ctx) >= w.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// ProcessOnce забирает один батч и возвращает число обработанных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.reportBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return 0
	}

	handled := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		w.deliver(ctx, msg)
		handled++
	}
	return handled
}

// deliver публикует событие и переводит его в sent или failed.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"order_id":   msg.AggregateID,
	})

	attempts, err := w.publish(ctx, msg)
	if err == nil {
		w.metrics.RecordPublish(resultSent)
		if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("mark outbox message sent")
		}
		return
	}
	if ctx.Err() != nil {
		// сообщение остаётся pending и уйдёт в следующем запуске
		return
	}

	entry.WithError(err).WithField("attempts", attempts).Error("outbox message undeliverable")
	w.metrics.RecordPublish(resultFailed)
	w.sendDeadLetter(entry, msg, attempts, err)
	if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
		entry.WithError(markErr).Warn("mark outbox message failed")
	}
}

// publish делает до retry.attempts попыток и возвращает число сделанных.
func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.retry.attempts; attempt++ {
		if lastErr = w.publisher.Publish(msg); lastErr == nil {
			return attempt, nil
		}
		w.metrics.RecordPublish(resultRetry)
		if attempt == w.retry.attempts {
			break
		}

		if delay := w.retry.backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return w.retry.attempts, fmt.Errorf("publish %s after %d attempts: %w", msg.ID, w.retry.attempts, lastErr)
}

func (w *Worker) sendDeadLetter(entry *log.Entry, msg domain.OutboxMessage, attempts int, cause error) {
	if w.deadLetters == nil {
		return
	}
	wrapped, err := domain.NewDeadLetter(msg, attempts, cause, w.clock()).OutboxMessage(msg.CreatedAt)
	if err == nil {
		err = w.deadLetters.Publish(wrapped)
	}
	if err != nil {
		entry.WithError(err).Warn("publish dead letter")
		w.metrics.RecordPublish(resultDLQFailed)
		return
	}
	w.metrics.RecordPublish(resultDeadLetter)
}

func (w *Worker) reportBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("collect outbox backlog stats")
		return
	}

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(w.clock().Sub(stats.OldestPendingAt).Seconds(), 0)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}
