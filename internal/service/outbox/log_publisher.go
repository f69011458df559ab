package outbox

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// LogPublisher пишет события в лог вместо брокера. Используется, когда Kafka не настроена.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт publisher, который только логирует события.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Info("outbox event")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
