// Команда dlq-reprocess возвращает события заказов из DLQ в исходный topic.
// Без -execute только логирует, что было бы отправлено.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "MARKET_KAFKA_BROKERS"
	clientID           = "marketplace-dlq-reprocess"
)

// settings — параметры запуска. tail означает чтение последних limit сообщений партиции вместо самых старых.
type settings struct {
	brokers       []string
	sourceTopic   string
	fallbackTopic string
	limit         int
	execute       bool
	tail          bool
	idle          time.Duration
}

func (s settings) mode() string {
	if s.execute {
		return "execute"
	}
	return "dry-run"
}

// source — доступ к DLQ: метаданные, границы партиций и чтение.
type source interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// sink — получатель восстановленных событий; sarama.SyncProducer подходит как есть.
type sink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaSource struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func (s saramaSource) Partitions(topic string) ([]int32, error) {
	return s.client.Partitions(topic)
}

func (s saramaSource) GetOffset(topic string, partition int32, at int64) (int64, error) {
	return s.client.GetOffset(topic, partition, at)
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s saramaSource) Close() error {
	return errors.Join(s.consumer.Close(), s.client.Close())
}

// connect открывает соединения с Kafka; producer создаётся только в режиме execute.
var connect = func(cfg settings) (source, sink, error) {
	consumerCfg := sarama.NewConfig()
	consumerCfg.ClientID = clientID
	consumerCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	src := saramaSource{client: client, consumer: consumer}
	if !cfg.execute {
		return src, nil, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewProducerConfig(clientID))
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return src, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg, err := readSettings(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readSettings(args []string, getenv func(string) string, out io.Writer) (settings, error) {
	var (
		cfg     settings
		brokers string
	)
	flags := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	flags.SetOutput(out)
	flags.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $"+envKafkaBrokers+")")
	flags.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to read")
	flags.StringVar(&cfg.fallbackTopic, "target-topic", kafka.TopicOrderEvents, "topic for letters without the "+kafka.HeaderOriginalTopic+" header")
	flags.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max messages to scan across all partitions")
	flags.BoolVar(&cfg.execute, "execute", false, "publish replays instead of logging them")
	flags.BoolVar(&cfg.tail, "from-newest", false, "scan the newest messages of each partition")
	flags.DurationVar(&cfg.idle, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := flags.Parse(args); err != nil {
		return settings{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.fallbackTopic = strings.TrimSpace(cfg.fallbackTopic)

	if err := cfg.validate(); err != nil {
		return settings{}, err
	}
	return cfg, nil
}

func (s settings) validate() error {
	switch {
	case len(s.brokers) == 0:
		return fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case s.sourceTopic == "":
		return errors.New("source-topic is required")
	case s.fallbackTopic == "":
		return errors.New("target-topic is required")
	case s.limit <= 0:
		return errors.New("limit must be > 0")
	case s.idle <= 0:
		return errors.New("idle-timeout must be > 0")
	}
	return nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg settings) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.fallbackTopic,
		"limit":        cfg.limit,
		"mode":         cfg.mode(),
		"from_newest":  cfg.tail,
	}).Info("starting dlq replay")

	src, dst, err := connect(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if dst != nil {
			_ = dst.Close()
		}
		_ = src.Close()
	}()

	r, err := newReplayer(cfg, src, dst)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
