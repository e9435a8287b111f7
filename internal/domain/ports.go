package domain

import (
	"context"
	"encoding/json"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ независимо от TTL; отсутствующий ключ не ошибка.
	Release(key string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CartRepository хранит строки корзины между сессиями.
// Ключ — идентификатор пользователя или анонимной сессии.
type CartRepository interface {
	Load(ctx context.Context, key string) ([]CartLineItem, error)
	Save(ctx context.Context, key string, items []CartLineItem) error
	Delete(ctx context.Context, key string) error
}

// Типы событий заказа, которые уходят через outbox.
const (
	OrderEventCreated       = "order.created"
	OrderEventPaid          = "order.paid"
	OrderEventPaymentFailed = "order.payment_failed"
)

// OutboxAggregateOrder — тип агрегата для событий заказа.
const OutboxAggregateOrder = "order"

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// Attempts — сколько публикаций уже завершились ошибкой (заполняется PullPending).
	Attempts int
}

// LastAttempt сообщает, что следующая неудача переведёт сообщение в failed.
func (m OutboxMessage) LastAttempt() bool {
	return m.Attempts+1 >= OutboxMaxAttempts
}

// OutboxDeadLetter — тело, которое outbox отправляет в DLQ после последней неудачной публикации.
type OutboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	DeadAt        time.Time       `json:"dlq_published_at"`
}

// NewOutboxDeadLetter фиксирует сообщение и причину последней неудачи.
func NewOutboxDeadLetter(msg OutboxMessage, publishErr error, at time.Time) OutboxDeadLetter {
	letter := OutboxDeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      msg.Attempts + 1,
		DeadAt:        at.UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	return letter
}

// Original восстанавливает исходное outbox-сообщение для повторной публикации.
func (d OutboxDeadLetter) Original() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	// FailedCount — сообщения, исчерпавшие попытки и ушедшие в DLQ.
	FailedCount int
}

// OrderEventPayload — JSON-тело событий заказа в outbox.
type OrderEventPayload struct {
	OrderID         string        `json:"order_id"`
	UserID          string        `json:"user_id"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	Status          OrderStatus   `json:"status"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	Total           string        `json:"total"`
	CartLines       []CartLineRef `json:"cart_lines,omitempty"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

// NewOrderEventPayload собирает тело события из текущего состояния заказа.
func NewOrderEventPayload(order Order, occurred time.Time) OrderEventPayload {
	return OrderEventPayload{
		OrderID:         order.ID,
		UserID:          order.UserID,
		PaymentStatus:   order.PaymentStatus,
		Status:          order.Status,
		PaymentIntentID: order.PaymentIntentID,
		Total:           order.Total.StringFixed(2),
		CartLines:       cartLines(order.Items),
		OccurredAt:      occurred,
	}
}

func cartLines(items []OrderItem) []CartLineRef {
	var refs []CartLineRef
	for _, item := range items {
		if item.CartLineID != "" {
			refs = append(refs, CartLineRef{LineID: item.CartLineID, Quantity: item.Quantity})
		}
	}
	return refs
}

// OutboxMaxAttempts — после стольких неудачных публикаций сообщение переводится в failed
// и больше не выдаётся PullPending.
const OutboxMaxAttempts = 5
