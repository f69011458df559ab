package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxBatch = 100
)

const (
	outboxInsertSQL = `
INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)`

	outboxPendingSQL = `
SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
FROM outbox_messages
WHERE status = $1
ORDER BY created_at, id
LIMIT $2`

	outboxBacklogSQL = `
SELECT COUNT(*), MIN(created_at)
FROM outbox_messages
WHERE status = $1`

	outboxSettleSQL = `
UPDATE outbox_messages
SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
WHERE id = $1 AND status = $4`
)

// outboxRepository пишет события в outbox_messages. Внутри WithinTx q — та же транзакция,
// что и у изменений заказа, поэтому событие появляется только вместе с ними.
type outboxRepository struct {
	q     dbtx
	clock domain.Clock
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.clock().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, outboxInsertSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxPending, msg.CreatedAt, now,
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending отдаёт самые старые pending-события; limit <= 0 — батч по умолчанию.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, outboxPendingSQL, outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		msg, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pending outbox: %w", err)
	}
	return batch, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.q.QueryRowContext(ctx, outboxBacklogSQL, outboxPending).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, outboxSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.settle(ctx, id, outboxFailed)
}

// settle переводит pending-событие в финальный статус. Повторная отметка
// уже обработанного события возвращает domain.ErrOutboxPublish.
func (r *outboxRepository) settle(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, outboxSettleSQL, id, status, r.clock().UTC(), outboxPending)
	if err != nil {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, domain.ErrOutboxPublish)
	}
	return nil
}

func scanOutboxMessage(row rowScanner) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	if err := row.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("scan outbox message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
