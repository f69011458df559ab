package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	dlq      bool
	clock    domain.Clock
}

// NewOutboxPublisher создаёт паблишер событий заказов.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		clock:    time.Now,
	}
}

// NewDLQPublisher создаёт паблишер для сообщений, исчерпавших попытки доставки.
// Исходный topic уходит в заголовке x-original-topic.
func NewDLQPublisher(producer *Producer, originalTopic string) *OutboxTopicPublisher {
	if originalTopic == "" {
		originalTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    originalTopic,
		dlq:      true,
		clock:    time.Now,
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	if p.dlq {
		return TopicDeadLetterQueue
	}
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	now := p.clock()
	envelope := NewEnvelope(event, now)
	headers := envelope.Headers()
	if p.dlq {
		headers = append(headers,
			sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(p.topic)},
			sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(now.UTC().Format(time.RFC3339Nano))},
		)
	}

	_, err := p.producer.Send(Record{Topic: p.Topic(), Key: key, Value: envelope, Headers: headers})
	return err
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
