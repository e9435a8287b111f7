package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers для retry логики и маршрутизации
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEnvelope — конверт, в котором outbox публикует события заказа.
type OrderEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOrderEnvelope заворачивает outbox-сообщение.
func NewOrderEnvelope(msg domain.OutboxMessage, publishedAt time.Time) OrderEnvelope {
	return OrderEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}
}

// OrderPayload декодирует тело события заказа.
func (e OrderEnvelope) OrderPayload() (domain.OrderEventPayload, error) {
	var payload domain.OrderEventPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return domain.OrderEventPayload{}, fmt.Errorf("%w: order payload: %v", domain.ErrMalformedEvent, err)
	}
	if payload.OrderID == "" {
		payload.OrderID = e.AggregateID
	}
	return payload, nil
}

// DeadLetter — сообщение, которое не удалось обработать за все попытки.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseOrderEnvelope парсит OrderEnvelope из сообщения
func ParseOrderEnvelope(message *sarama.ConsumerMessage) (OrderEnvelope, error) {
	var envelope OrderEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return OrderEnvelope{}, fmt.Errorf("%w: order envelope: %v", domain.ErrMalformedEvent, err)
	}
	if envelope.EventType == "" {
		envelope.EventType = headerValue(message, HeaderEventType)
	}
	return envelope, nil
}

// ParseDeadLetter парсит DeadLetter из сообщения DLQ.
func ParseDeadLetter(message *sarama.ConsumerMessage) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(message.Value, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	if letter.OriginalTopic == "" {
		letter.OriginalTopic = headerValue(message, HeaderOriginalTopic)
	}
	return letter, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
