package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func headerMap(headers []sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func statusChanged(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     domain.EventOrderStatusChanged,
		Payload:       []byte(`{"status":"Confirmed"}`),
		CreatedAt:     time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestOutboxPublisher_PublishesEnvelopeKeyedByAggregate(t *testing.T) {
	p, sp := newTestProducer(t)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env Envelope
		return json.Unmarshal(val, &env)
	})

	publishedAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	pub := NewOutboxPublisher(p, "")
	pub.clock = func() time.Time { return publishedAt }
	require.Equal(t, TopicOrderEvents, pub.Topic())

	require.NoError(t, pub.Publish(statusChanged("outbox-1", "order-1")))

	require.Len(t, sp.sent, 1)
	msg := sp.sent[0]
	require.Equal(t, TopicOrderEvents, msg.Topic)
	key, err := msg.Key.Encode()
	require.NoError(t, err)
	require.Equal(t, "order-1", string(key))

	body, err := msg.Value.Encode()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	require.Equal(t, "outbox-1", env.ID)
	require.Equal(t, domain.EventOrderStatusChanged, env.EventType)
	require.JSONEq(t, `{"status":"Confirmed"}`, string(env.Payload))
	require.True(t, env.PublishedAt.Equal(publishedAt))

	headers := headerMap(msg.Headers)
	require.Equal(t, domain.EventOrderStatusChanged, headers[HeaderEventType])
	require.Equal(t, "outbox-1", headers[HeaderOutboxID])
	require.NotContains(t, headers, HeaderOriginalTopic)

	require.NoError(t, p.Close())
}

func TestOutboxPublisher_KeyFallsBackToMessageID(t *testing.T) {
	p, sp := newTestProducer(t)
	sp.ExpectSendMessageAndSucceed()

	require.NoError(t, NewOutboxPublisher(p, "orders.custom").Publish(statusChanged("outbox-2", "")))

	key, err := sp.sent[0].Key.Encode()
	require.NoError(t, err)
	require.Equal(t, "outbox-2", string(key))
	require.Equal(t, "orders.custom", sp.sent[0].Topic)

	require.NoError(t, p.Close())
}

func TestDLQPublisher_AddsOriginHeaders(t *testing.T) {
	p, sp := newTestProducer(t)
	sp.ExpectSendMessageAndSucceed()

	failedAt := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	pub := NewDLQPublisher(p, "orders.custom")
	pub.clock = func() time.Time { return failedAt }
	require.Equal(t, TopicDeadLetterQueue, pub.Topic())

	require.NoError(t, pub.Publish(statusChanged("outbox-3", "order-3")))

	require.Equal(t, TopicDeadLetterQueue, sp.sent[0].Topic)
	headers := headerMap(sp.sent[0].Headers)
	require.Equal(t, "orders.custom", headers[HeaderOriginalTopic])
	require.Equal(t, failedAt.Format(time.RFC3339Nano), headers[HeaderFailedAt])

	require.NoError(t, p.Close())
}

func TestOutboxPublisher_Errors(t *testing.T) {
	t.Run("broker", func(t *testing.T) {
		p, sp := newTestProducer(t)
		sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		err := NewOutboxPublisher(p, "").Publish(statusChanged("outbox-4", "order-4"))
		require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		require.NoError(t, p.Close())
	})

	t.Run("no producer", func(t *testing.T) {
		require.Error(t, NewOutboxPublisher(nil, "").Publish(statusChanged("outbox-5", "order-5")))
		require.Error(t, NewDLQPublisher(nil, "").Publish(statusChanged("outbox-6", "order-6")))
	})
}

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("MSK", 3*60*60))
	env := NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-7",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-7",
		EventType:     domain.EventOrderDelivered,
	}, at)

	require.JSONEq(t, "null", string(env.Payload))
	require.Equal(t, time.UTC, env.PublishedAt.Location())
	require.True(t, env.PublishedAt.Equal(at))
	require.Equal(t, map[string]string{
		HeaderEventType:     domain.EventOrderDelivered,
		HeaderAggregateType: domain.AggregateOrder,
		HeaderOutboxID:      "outbox-7",
	}, headerMap(env.Headers()))
}
