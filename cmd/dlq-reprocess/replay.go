package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
)

// replayMessage — событие, готовое к повторной публикации.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

func (m replayMessage) producerMessage(at time.Time) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:     m.topic,
		Key:       sarama.StringEncoder(m.key),
		Value:     sarama.ByteEncoder(m.value),
		Headers:   m.headers,
		Timestamp: at.UTC(),
	}
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) merge(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает партиции DLQ по возрастанию номера, пока не исчерпан общий limit.
type replayer struct {
	cfg    settings
	source source
	sink   sink
	now    func() time.Time
	logger *log.Entry
}

func newReplayer(cfg settings, src source, dst sink) (*replayer, error) {
	if src == nil {
		return nil, errors.New("kafka source is required")
	}
	if cfg.execute && dst == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	return &replayer{
		cfg:    cfg,
		source: src,
		sink:   dst,
		now:    time.Now,
		logger: log.WithFields(log.Fields{"component": "dlq-reprocess", "mode": cfg.mode()}),
	}, nil
}

func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.source.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.drain(ctx, partition, budget)
		total.merge(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// bounds возвращает полуинтервал [from, until) смещений, который стоит прочитать.
func (r *replayer) bounds(partition int32, budget int) (from, until int64, err error) {
	from, err = r.source.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	until, err = r.source.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if r.cfg.tail {
		from = max(until-int64(budget), from)
	}
	return from, until, nil
}

// drain читает одну партицию до её конца, исчерпания budget или паузы дольше idle.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	from, until, err := r.bounds(partition, budget)
	if err != nil || until <= from {
		return stats, err
	}

	reader, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, from)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(r.cfg.idle)
	defer idle.Stop()

	messages, failures := reader.Messages(), reader.Errors()
	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Debug("partition idle, moving on")
			return stats, nil
		case cerr, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-messages:
			if !ok || msg == nil || msg.Offset >= until {
				return stats, nil
			}
			idle.Reset(r.cfg.idle)

			stats.scanned++
			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= until {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle возвращает false, если письмо не разобрано и пропущено.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := extractReplayMessage(msg, r.cfg.fallbackTopic, r.now())
	if err != nil {
		entry.WithError(err).Warn("skip unsupported dlq message")
		return false, nil
	}
	entry = entry.WithFields(log.Fields{"target_topic": replay.topic, "key": replay.key})

	if !r.cfg.execute {
		entry.Info("dlq replay candidate")
		return true, nil
	}
	if err := r.send(replay); err != nil {
		return false, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
	}
	entry.Debug("dlq message replayed")
	return true, nil
}

func (r *replayer) send(msg replayMessage) error {
	if r.sink == nil {
		return errors.New("producer is nil")
	}
	_, _, err := r.sink.SendMessage(msg.producerMessage(r.now()))
	return err
}

// extractReplayMessage восстанавливает исходный конверт события из DLQ-сообщения.
func extractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string, now time.Time) (replayMessage, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return replayMessage{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if isEmptyJSON(envelope.Payload) {
		return replayMessage{}, errors.New("dlq envelope has no payload")
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return replayMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if isEmptyJSON(letter.Payload) {
		return replayMessage{}, fmt.Errorf("dead letter %s carries no original payload", envelope.ID)
	}

	// старые записи DLQ могли не содержать идентификаторов внутри тела
	letter.OutboxID = firstNonEmpty(letter.OutboxID, envelope.ID)
	letter.AggregateType = firstNonEmpty(letter.AggregateType, envelope.AggregateType)
	letter.AggregateID = firstNonEmpty(letter.AggregateID, envelope.AggregateID)
	letter.EventType = firstNonEmpty(letter.EventType, envelope.EventType)

	original := kafka.NewEnvelope(letter.Original(envelope.CreatedAt), now)
	encoded, err := json.Marshal(original)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic:   firstNonEmpty(headerValue(msg.Headers, kafka.HeaderOriginalTopic), defaultTopic),
		key:     firstNonEmpty(original.AggregateID, original.ID),
		value:   encoded,
		headers: original.Headers(),
	}, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return strings.TrimSpace(string(h.Value))
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
