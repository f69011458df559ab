package domain

import (
	"encoding/json"
	"time"
)

// Типы событий заказа, которые уходят через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderClaimed       = "order.claimed"
	EventOrderDelivered     = "order.delivered"
	EventOrderCancelled     = "order.cancelled"
	EventOrderOverridden    = "order.admin_override"

	AggregateOrder = "order"
)

// OrderEvent — полезная нагрузка события заказа.
type OrderEvent struct {
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	CustomerID    string        `json:"customer_id"`
	CourierID     string        `json:"courier_id,omitempty"`
	FromStatus    OrderStatus   `json:"from_status,omitempty"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ActorID       string        `json:"actor_id,omitempty"`
	ActorRole     Role          `json:"actor_role,omitempty"`
	TotalAmount   int64         `json:"total_amount"`
	Note          string        `json:"note,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewOrderOutboxMessage собирает outbox-сообщение по заказу.
func NewOrderOutboxMessage(eventType string, order Order, from OrderStatus, actor Actor, at time.Time) (OutboxMessage, error) {
	note := ""
	if last, ok := order.LastTracking(); ok {
		note = last.Note
	}
	payload, err := json.Marshal(OrderEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		CourierID:     order.CourierID,
		FromStatus:    from,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		TotalAmount:   order.TotalAmount,
		Note:          note,
		OccurredAt:    at,
	})
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
	}, nil
}

// DeadLetter — событие, которое outbox не смог доставить за отведённые попытки.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts,omitempty"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetter фиксирует причину и число попыток для сообщения msg.
func NewDeadLetter(msg OutboxMessage, attempts int, cause error, at time.Time) DeadLetter {
	dl := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      attempts,
		FailedAt:      at.UTC(),
	}
	if cause != nil {
		dl.PublishError = cause.Error()
	}
	return dl
}

// OutboxMessage упаковывает dead letter в сообщение для DLQ-топика.
func (d DeadLetter) OutboxMessage(createdAt time.Time) (OutboxMessage, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       body,
		CreatedAt:     createdAt,
	}, nil
}

// Original восстанавливает исходное сообщение для повторной публикации.
func (d DeadLetter) Original(createdAt time.Time) OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
		CreatedAt:     createdAt,
	}
}
