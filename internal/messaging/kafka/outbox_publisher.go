package kafka

import (
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// eventSender — часть Producer, нужная outbox.
type eventSender interface {
	PublishEvent(topic, key string, event any, headers ...sarama.RecordHeader) error
}

// OutboxTopicPublisher отправляет outbox-сообщения в один topic в конверте OrderEnvelope.
type OutboxTopicPublisher struct {
	sender eventSender
	topic  string
	now    func() time.Time
}

// NewOutboxPublisher с пустым topic пишет в TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	p := &OutboxTopicPublisher{topic: topic, now: time.Now}
	if producer != nil {
		p.sender = producer
	}
	if p.topic == "" {
		p.topic = TopicOrderEvents
	}
	return p
}

// Publish использует ID заказа как ключ партиционирования.
func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.sender == nil {
		return errPublisherNotReady
	}
	return p.sender.PublishEvent(p.topic, partitionKey(msg), NewOrderEnvelope(msg, p.now()),
		sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(msg.EventType)})
}

func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
