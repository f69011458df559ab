package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
)

const originalPayload = `{"order_id":"order-1","status":"Pending"}`

// dlqMessage собирает сообщение так же, как его пишет outbox worker через DLQ publisher.
func dlqMessage(t *testing.T, offset int64, originalTopic string) *sarama.ConsumerMessage {
	t.Helper()

	failed := domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(originalPayload),
	}
	letter := domain.NewDeadLetter(failed, 3, sarama.ErrOutOfBrokers, time.Now())
	wrapped, err := letter.OutboxMessage(time.Now())
	require.NoError(t, err)
	value, err := json.Marshal(kafka.NewEnvelope(wrapped, time.Now()))
	require.NoError(t, err)

	msg := &sarama.ConsumerMessage{Offset: offset, Value: value}
	if originalTopic != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(originalTopic)}}
	}
	return msg
}

func testSettings() settings {
	return settings{
		sourceTopic:   kafka.TopicDeadLetterQueue,
		fallbackTopic: kafka.TopicOrderEvents,
		limit:         10,
		idle:          50 * time.Millisecond,
	}
}

func TestExtractReplayMessage_RestoresOriginalEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	replay, err := extractReplayMessage(dlqMessage(t, 0, "custom.order.events"), kafka.TopicOrderEvents, now)
	require.NoError(t, err)
	require.Equal(t, "custom.order.events", replay.topic)
	require.Equal(t, "order-1", replay.key)
	require.NotEmpty(t, replay.headers)

	var restored kafka.Envelope
	require.NoError(t, json.Unmarshal(replay.value, &restored))
	require.Equal(t, "outbox-1", restored.ID)
	require.Equal(t, domain.EventOrderCreated, restored.EventType)
	require.JSONEq(t, originalPayload, string(restored.Payload))
	require.True(t, restored.PublishedAt.Equal(now))
}

func TestExtractReplayMessage_FallsBackToDefaultTopic(t *testing.T) {
	replay, err := extractReplayMessage(dlqMessage(t, 0, ""), kafka.TopicOrderEvents, time.Now())
	require.NoError(t, err)
	require.Equal(t, kafka.TopicOrderEvents, replay.topic)
}

func TestExtractReplayMessage_Unsupported(t *testing.T) {
	cases := map[string]string{
		"not json":       `not-json`,
		"no payload":     `{"id":"x"}`,
		"null payload":   `{"id":"x","payload":null}`,
		"bad inner":      `{"id":"x","payload":"string"}`,
		"empty original": `{"id":"x","payload":{"outbox_id":"x"}}`,
		"null original":  `{"id":"x","payload":{"outbox_id":"x","payload":null}}`,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, kafka.TopicOrderEvents, time.Now())
			require.Error(t, err)
		})
	}
}

func TestExtractReplayMessage_FillsIdentityFromEnvelope(t *testing.T) {
	value := `{"id":"outbox-9","aggregate_type":"order","aggregate_id":"order-9","event_type":"order.cancelled",` +
		`"payload":{"payload":{"order_id":"order-9"},"publish_error":"timeout"}}`

	replay, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, kafka.TopicOrderEvents, time.Now())
	require.NoError(t, err)
	require.Equal(t, "order-9", replay.key)

	var restored kafka.Envelope
	require.NoError(t, json.Unmarshal(replay.value, &restored))
	require.Equal(t, "outbox-9", restored.ID)
	require.Equal(t, domain.EventOrderCancelled, restored.EventType)
}

func TestReadSettings(t *testing.T) {
	env := func(key string) string {
		if key == envKafkaBrokers {
			return " kafka-1:9092, ,kafka-2:9092 "
		}
		return ""
	}

	cfg, err := readSettings([]string{"-limit", "5", "-execute", "-from-newest"}, env, io.Discard)
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
	require.Equal(t, 5, cfg.limit)
	require.True(t, cfg.execute)
	require.True(t, cfg.tail)
	require.Equal(t, "execute", cfg.mode())
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Equal(t, kafka.TopicOrderEvents, cfg.fallbackTopic)

	cfg, err = readSettings([]string{"-brokers", "local:9092"}, env, io.Discard)
	require.NoError(t, err)
	require.Equal(t, []string{"local:9092"}, cfg.brokers)
	require.Equal(t, "dry-run", cfg.mode())
}

func TestReadSettings_Rejects(t *testing.T) {
	noEnv := func(string) string { return "" }
	cases := map[string][]string{
		"no brokers":   nil,
		"empty source": {"-brokers", "k:9092", "-source-topic", " "},
		"empty target": {"-brokers", "k:9092", "-target-topic", ""},
		"zero limit":   {"-brokers", "k:9092", "-limit", "0"},
		"zero idle":    {"-brokers", "k:9092", "-idle-timeout", "0s"},
		"bad flag":     {"-nope"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readSettings(args, noEnv, io.Discard)
			require.Error(t, err)
		})
	}
}

func TestNewReplayer_RequiresDependencies(t *testing.T) {
	_, err := newReplayer(testSettings(), nil, nil)
	require.Error(t, err)

	cfg := testSettings()
	cfg.execute = true
	_, err = newReplayer(cfg, &stubSource{}, nil)
	require.Error(t, err)
}

func TestReplayer_DryRunCountsCandidatesAndSkips(t *testing.T) {
	src := &stubSource{
		partitions: []int32{0},
		offsets:    map[int32][2]int64{0: {0, 2}},
		readers: map[int32]*stubReader{
			0: finishedReader(dlqMessage(t, 0, ""), &sarama.ConsumerMessage{Offset: 1, Value: []byte("junk")}),
		},
	}
	r, err := newReplayer(testSettings(), src, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 2, replayed: 1, skipped: 1}, stats)
	require.True(t, src.readers[0].closed)
}

func TestReplayer_ExecutePublishesOriginalEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope kafka.Envelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		if envelope.EventType != domain.EventOrderCreated || string(envelope.Payload) != originalPayload {
			return errors.New("replay must carry the original event")
		}
		return nil
	})

	src := &stubSource{
		partitions: []int32{0},
		offsets:    map[int32][2]int64{0: {0, 1}},
		readers:    map[int32]*stubReader{0: finishedReader(dlqMessage(t, 0, "orders.v2"))},
	}
	cfg := testSettings()
	cfg.execute = true
	r, err := newReplayer(cfg, src, producer)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	require.NoError(t, producer.Close())
}

func TestReplayer_SendsToOriginalTopic(t *testing.T) {
	dst := &recordingSink{}
	src := &stubSource{
		partitions: []int32{0},
		offsets:    map[int32][2]int64{0: {0, 1}},
		readers:    map[int32]*stubReader{0: finishedReader(dlqMessage(t, 0, "orders.v2"))},
	}
	cfg := testSettings()
	cfg.execute = true
	r, err := newReplayer(cfg, src, dst)
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.FixedZone("MSK", 3*3600)) }

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, dst.sent, 1)
	require.Equal(t, "orders.v2", dst.sent[0].Topic)
	require.Equal(t, time.UTC, dst.sent[0].Timestamp.Location())
}

func TestReplayer_TailStartsBudgetBeforeNewest(t *testing.T) {
	src := &stubSource{
		partitions: []int32{0},
		offsets:    map[int32][2]int64{0: {0, 10}},
		readers:    map[int32]*stubReader{0: finishedReader()},
	}
	cfg := testSettings()
	cfg.limit = 3
	cfg.tail = true
	r, err := newReplayer(cfg, src, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []consumeCall{{partition: 0, offset: 7}}, src.consumed)
}

func TestReplayer_ScansPartitionsInOrderWithinLimit(t *testing.T) {
	src := &stubSource{
		partitions: []int32{2, 0, 1},
		offsets:    map[int32][2]int64{0: {0, 1}, 1: {0, 1}, 2: {0, 1}},
		readers: map[int32]*stubReader{
			0: finishedReader(dlqMessage(t, 0, "")),
			1: finishedReader(dlqMessage(t, 0, "")),
			2: finishedReader(dlqMessage(t, 0, "")),
		},
	}
	cfg := testSettings()
	cfg.limit = 2
	r, err := newReplayer(cfg, src, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.scanned)
	require.Equal(t, []consumeCall{{partition: 0}, {partition: 1}}, src.consumed)
}

func TestReplayer_EmptyPartitionIsNotConsumed(t *testing.T) {
	src := &stubSource{partitions: []int32{0}, offsets: map[int32][2]int64{0: {4, 4}}}
	r, err := newReplayer(testSettings(), src, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.scanned)
	require.Empty(t, src.consumed)
}

func TestReplayer_Failures(t *testing.T) {
	cases := map[string]struct {
		src  *stubSource
		sink sink
	}{
		"partitions": {
			src: &stubSource{partitionsErr: errors.New("metadata")},
		},
		"offset": {
			src: &stubSource{partitions: []int32{0}, offsetErr: errors.New("offset")},
		},
		"consume": {
			src: &stubSource{partitions: []int32{0}, offsets: map[int32][2]int64{0: {0, 2}}, consumeErr: errors.New("consume")},
		},
		"consumer error": {
			src: &stubSource{
				partitions: []int32{0},
				offsets:    map[int32][2]int64{0: {0, 2}},
				readers:    map[int32]*stubReader{0: failingReader(sarama.ErrNotLeaderForPartition)},
			},
		},
		"publish": {
			src: &stubSource{
				partitions: []int32{0},
				offsets:    map[int32][2]int64{0: {0, 1}},
				readers:    map[int32]*stubReader{0: finishedReader(dlqMessage(t, 0, ""))},
			},
			sink: &recordingSink{err: sarama.ErrOutOfBrokers},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testSettings()
			cfg.execute = tc.sink != nil
			r, err := newReplayer(cfg, tc.src, tc.sink)
			require.NoError(t, err)

			_, err = r.Run(context.Background())
			require.Error(t, err)
		})
	}
}

func TestReplayer_IdlePartitionAndCancel(t *testing.T) {
	silent := &stubReader{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	src := &stubSource{
		partitions: []int32{0},
		offsets:    map[int32][2]int64{0: {0, 5}},
		readers:    map[int32]*stubReader{0: silent},
	}
	cfg := testSettings()
	cfg.idle = 20 * time.Millisecond
	r, err := newReplayer(cfg, src, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.scanned)
	require.True(t, silent.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.cfg.idle = time.Minute
	_, err = r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_ClosesConnections(t *testing.T) {
	src := &stubSource{}
	dst := &recordingSink{}

	original := connect
	t.Cleanup(func() { connect = original })
	connect = func(settings) (source, sink, error) { return src, dst, nil }

	cfg := testSettings()
	cfg.execute = true
	require.NoError(t, run(context.Background(), cfg))
	require.True(t, src.closed)
	require.True(t, dst.closed)

	connect = func(settings) (source, sink, error) { return nil, nil, errors.New("no brokers") }
	require.ErrorContains(t, run(context.Background(), cfg), "no brokers")
}

type consumeCall struct {
	partition int32
	offset    int64
}

// stubSource хранит в offsets пару {oldest, newest} для каждой партиции.
type stubSource struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32][2]int64
	offsetErr     error
	readers       map[int32]*stubReader
	consumeErr    error
	consumed      []consumeCall
	closed        bool
}

func (s *stubSource) Partitions(string) ([]int32, error) {
	return append([]int32(nil), s.partitions...), s.partitionsErr
}

func (s *stubSource) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	if at == sarama.OffsetOldest {
		return s.offsets[partition][0], nil
	}
	return s.offsets[partition][1], nil
}

func (s *stubSource) ConsumePartition(_ string, partition int32, offset int64) (partitionReader, error) {
	s.consumed = append(s.consumed, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	reader, ok := s.readers[partition]
	if !ok {
		return nil, errors.New("partition not configured")
	}
	return reader, nil
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

type stubReader struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

// finishedReader отдаёт сообщения и закрывает оба канала.
func finishedReader(msgs ...*sarama.ConsumerMessage) *stubReader {
	r := &stubReader{
		messages: make(chan *sarama.ConsumerMessage, len(msgs)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range msgs {
		r.messages <- msg
	}
	close(r.messages)
	close(r.errors)
	return r
}

func failingReader(err error) *stubReader {
	r := &stubReader{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	r.errors <- &sarama.ConsumerError{Topic: kafka.TopicDeadLetterQueue, Err: err}
	return r
}

func (r *stubReader) Messages() <-chan *sarama.ConsumerMessage { return r.messages }
func (r *stubReader) Errors() <-chan *sarama.ConsumerError     { return r.errors }

func (r *stubReader) Close() error {
	r.closed = true
	return nil
}

type recordingSink struct {
	err    error
	sent   []*sarama.ProducerMessage
	closed bool
}

func (s *recordingSink) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.sent = append(s.sent, msg)
	return 0, int64(len(s.sent)), nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

var (
	_ source = (*stubSource)(nil)
	_ sink   = (*recordingSink)(nil)
	_ sink   = (*mocks.SyncProducer)(nil)
)
