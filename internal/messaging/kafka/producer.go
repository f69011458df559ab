package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

var errProducerClosed = errors.New("kafka producer is not initialized")

// NewProducerConfig — idempotent producer: подтверждение от всех реплик,
// один запрос в полёте и hash-партиционирование по ключу агрегата.
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

// Record — сообщение до сериализации. Value кодируется в JSON.
type Record struct {
	Topic   string
	Key     string
	Value   any
	Headers []sarama.RecordHeader
}

// Delivery — куда брокер записал сообщение.
type Delivery struct {
	Partition int32
	Offset    int64
}

// Producer отправляет записи синхронно и ждёт подтверждения брокера.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    domain.Clock
}

type ProducerOption func(*Producer)

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProducerClock задаёт timestamp сообщений.
func WithProducerClock(clock domain.Clock) ProducerOption {
	return func(p *Producer) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewProducer оборачивает готовый sarama.SyncProducer, например mocks.SyncProducer.
func NewProducer(sync sarama.SyncProducer, opts ...ProducerOption) *Producer {
	p := &Producer{
		sync:   sync,
		logger: log.WithField("component", "kafka-producer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial подключается к брокерам.
func Dial(brokers []string, clientID string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	sync, err := sarama.NewSyncProducer(brokers, NewProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("dial kafka %v: %w", brokers, err)
	}
	return NewProducer(sync, opts...), nil
}

func (p *Producer) Send(rec Record) (Delivery, error) {
	if p == nil || p.sync == nil {
		return Delivery{}, errProducerClosed
	}
	body, err := json.Marshal(rec.Value)
	if err != nil {
		return Delivery{}, fmt.Errorf("encode %s record: %w", rec.Topic, err)
	}

	fields := log.Fields{"topic": rec.Topic, "key": rec.Key}
	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     rec.Topic,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.ByteEncoder(body),
		Headers:   rec.Headers,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("kafka send failed")
		return Delivery{}, fmt.Errorf("send to %s: %w", rec.Topic, err)
	}

	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka record delivered")
	return Delivery{Partition: partition, Offset: offset}, nil
}

func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
