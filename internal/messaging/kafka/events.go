package kafka

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Topics маркетплейса.
const (
	TopicOrderEvents     = "marketplace.order.events"
	TopicDeadLetterQueue = "marketplace.order.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — формат сообщения, которое уходит в Kafka из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		CreatedAt:     msg.CreatedAt.UTC(),
		PublishedAt:   publishedAt.UTC(),
	}
}

// Headers возвращает заголовки, по которым консьюмеры маршрутизируют событие без разбора тела.
func (e Envelope) Headers() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(e.EventType)},
		{Key: []byte(HeaderAggregateType), Value: []byte(e.AggregateType)},
		{Key: []byte(HeaderOutboxID), Value: []byte(e.ID)},
	}
}
