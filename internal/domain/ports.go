package domain

import (
	"context"
	"time"
)

// InventoryLedger — единственный путь, которым код заказов меняет stock/sold.
type InventoryLedger interface {
	ReserveStock(ctx context.Context, productID string, qty int) error
	ReleaseStock(ctx context.Context, productID string, qty int) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Clock отдаёт текущее время; подменяется в тестах.
type Clock func() time.Time

// IDGenerator выдаёт новые идентификаторы.
type IDGenerator func() string
