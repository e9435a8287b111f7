package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartSettler списывает оплаченные строки из корзины владельца. Реализуется cart.Sessions.
type CartSettler interface {
	Settle(ctx context.Context, key string, paid []domain.CartLineRef) (int, error)
}

// NewCartSettleHandler убирает из корзины покупателя строки оплаченного заказа.
// Строки, добавленные после оформления, остаются. Остальные события заказа пропускаются.
func NewCartSettleHandler(carts CartSettler, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-cart-settler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := ParseOrderEnvelope(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed order event")
			return nil
		}
		if envelope.EventType != domain.OrderEventPaid {
			return nil
		}

		payload, err := envelope.OrderPayload()
		if err != nil {
			logger.WithError(err).WithField("event_id", envelope.ID).Warn("skipping malformed order payload")
			return nil
		}
		if payload.UserID == "" || len(payload.CartLines) == 0 {
			return nil
		}

		settled, err := carts.Settle(ctx, payload.UserID, payload.CartLines)
		if err != nil {
			return fmt.Errorf("settle cart for %s: %w", payload.UserID, err)
		}
		logger.WithFields(log.Fields{
			"order_id": payload.OrderID,
			"user_id":  payload.UserID,
			"lines":    settled,
		}).Info("paid lines removed from cart")
		return nil
	}
}
