package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"

	defaultOutboxBatch = 100
)

type outboxRecord struct {
	msg       domain.OutboxMessage
	status    outboxStatus
	attempts  int
	updatedAt time.Time
}

// outboxRepositoryInMemory пишет события в ту же транзакцию Store, что и заказ.
type outboxRepositoryInMemory struct {
	view
}

func (r outboxRepositoryInMemory) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	defer r.lock()()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.s.outbox[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: message %s already exists", msg.EventType, msg.AggregateID, msg.ID)
	}
	now := r.s.now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = slices.Clone(msg.Payload)

	r.record(snapshot(r.s.outbox, msg.ID))
	r.s.outbox[msg.ID] = outboxRecord{msg: msg, status: outboxPending, updatedAt: now}
	return msg, nil
}

// PullPending отдаёт самые старые pending-события; limit <= 0 — батч по умолчанию.
func (r outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	defer r.lock()()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	batch := r.backlog()
	return batch[:min(limit, len(batch))], nil
}

func (r outboxRepositoryInMemory) Stats(_ context.Context) (domain.OutboxStats, error) {
	defer r.lock()()

	backlog := r.backlog()
	stats := domain.OutboxStats{PendingCount: len(backlog)}
	if len(backlog) > 0 {
		stats.OldestPendingAt = backlog[0].CreatedAt
	}
	return stats, nil
}

func (r outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent)
}

func (r outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxFailed)
}

// settle переводит только pending-событие; отсутствующее или уже обработанное
// событие даёт domain.ErrOutboxPublish.
func (r outboxRepositoryInMemory) settle(id string, status outboxStatus) error {
	defer r.lock()()

	rec, ok := r.s.outbox[id]
	if !ok || rec.status != outboxPending {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, domain.ErrOutboxPublish)
	}
	r.record(snapshot(r.s.outbox, id))
	rec.status = status
	rec.attempts++
	rec.updatedAt = r.s.now().UTC()
	r.s.outbox[id] = rec
	return nil
}

// backlog — pending-события по возрастанию created_at, при равенстве по id.
func (r outboxRepositoryInMemory) backlog() []domain.OutboxMessage {
	pending := make([]domain.OutboxMessage, 0, len(r.s.outbox))
	for _, rec := range r.s.outbox {
		if rec.status == outboxPending {
			pending = append(pending, rec.msg)
		}
	}
	slices.SortFunc(pending, func(a, b domain.OutboxMessage) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return pending
}

// AllPending — снимок pending-событий для проверок в тестах.
func (s *Store) AllPending() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return outboxRepositoryInMemory{s.autocommit()}.backlog()
}

var _ domain.OutboxRepository = outboxRepositoryInMemory{}
