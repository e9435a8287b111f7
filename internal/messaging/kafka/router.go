package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Router выбирает обработчик по типу события заказа. Тип берётся из заголовка
// HeaderEventType, а если его нет, из конверта. Сообщения без обработчика
// подтверждаются без обработки.
type Router struct {
	routes map[string]MessageHandler
	logger *log.Entry
}

// NewRouter создаёт пустой Router.
func NewRouter(logger *log.Entry) *Router {
	if logger == nil {
		logger = log.WithField("component", "kafka-router")
	}
	return &Router{routes: make(map[string]MessageHandler), logger: logger}
}

// On регистрирует handler для eventType. Повторная регистрация заменяет прежний.
func (r *Router) On(eventType string, handler MessageHandler) *Router {
	r.routes[eventType] = handler
	return r
}

// Handle реализует MessageHandler.
func (r *Router) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	eventType := headerValue(message, HeaderEventType)
	if eventType == "" {
		envelope, err := ParseOrderEnvelope(message)
		if err != nil {
			// повтор не исправит битое сообщение
			r.logger.WithError(err).WithField("offset", message.Offset).Warn("skipping unreadable message")
			return nil
		}
		eventType = envelope.EventType
	}

	handler, ok := r.routes[eventType]
	if !ok {
		r.logger.WithField("event_type", eventType).Debug("no route for event")
		return nil
	}
	return handler(ctx, message)
}
