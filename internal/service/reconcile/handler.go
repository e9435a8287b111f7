package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderevents"
)

// MaxSaveAttempts — сколько раз перечитывать заказ при конфликте версий.
const MaxSaveAttempts = 3

const (
	resultApplied = "applied"
	resultNoop    = "noop"
	resultIgnored = "ignored"
	resultError   = "error"
)

// Outcome описывает результат обработки события.
type Outcome struct {
	Changed bool
	// Ignored выставляется для событий, которые не должны менять заказ
	// (посторонние типы и неуспех после оплаты).
	Ignored bool
	Order   domain.Order
}

// Handler — единственный писатель состояния заказа после его создания.
// Не хранит состояния между вызовами: повторные и параллельные доставки сходятся
// через идемпотентные записи и optimistic locking.
type Handler struct {
	orders  domain.OrderRepository
	events  *orderevents.Recorder
	metrics *metrics.StorefrontMetrics
	logger  *log.Entry
	secret  string
	now     func() time.Time
}

// NewHandler создаёт обработчик. secret — ключ подписи webhook-ов.
func NewHandler(orders domain.OrderRepository, events *orderevents.Recorder, m *metrics.StorefrontMetrics, secret string, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "reconcile")
	}
	return &Handler{
		orders:  orders,
		events:  events,
		metrics: m,
		logger:  logger,
		secret:  secret,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ParseEvent проверяет подпись и разбирает тело webhook-а.
func (h *Handler) ParseEvent(payload []byte, signatureHeader string) (Event, error) {
	event, err := ParseEvent(payload, signatureHeader, h.secret)
	if err != nil {
		h.logger.WithError(err).Warn("webhook rejected")
		h.metrics.RecordWebhookEvent("unknown", resultError)
	}
	return event, err
}

// Handle применяет событие к заказу.
func (h *Handler) Handle(ctx context.Context, event Event) (Outcome, error) {
	started := time.Now()
	logger := h.logger.WithFields(log.Fields{
		"event_id":  event.EventID,
		"kind":      event.Kind,
		"order_id":  event.OrderID,
		"intent_id": event.IntentID,
	})

	var (
		outcome Outcome
		err     error
	)
	switch event.Kind {
	case KindIgnored:
		logger.WithField("type", event.Type).Debug("webhook event ignored")
		h.metrics.RecordWebhookEvent(string(event.Kind), resultIgnored)
		return Outcome{Ignored: true}, nil
	case KindPaymentSucceeded:
		outcome, err = h.apply(ctx, event.OrderID, func(order *domain.Order, now time.Time) (bool, error) {
			if order.PaymentStatus != domain.PaymentStatusPaid && !order.Status.CanTransitionTo(domain.OrderStatusProcessing) {
				return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, domain.OrderStatusProcessing)
			}
			return order.MarkPaid(event.IntentID, now), nil
		})
		if err == nil && outcome.Changed {
			h.events.Record(outcome.Order, domain.TimelinePaymentSucceeded, domain.OrderEventPaid, event.IntentID, outcome.Order.UpdatedAt)
		}
	case KindPaymentFailed:
		outcome, err = h.apply(ctx, event.OrderID, func(order *domain.Order, now time.Time) (bool, error) {
			return order.MarkPaymentFailed(now)
		})
		if errors.Is(err, domain.ErrOrderAlreadyPaid) {
			logger.Warn("payment failure for already paid order ignored")
			h.metrics.RecordWebhookEvent(string(event.Kind), resultIgnored)
			return Outcome{Ignored: true, Order: outcome.Order}, nil
		}
		if err == nil && outcome.Changed {
			h.events.Record(outcome.Order, domain.TimelinePaymentFailed, domain.OrderEventPaymentFailed, event.FailureMessage, outcome.Order.UpdatedAt)
		}
	default:
		err = fmt.Errorf("%w: unknown event kind %q", domain.ErrMalformedEvent, event.Kind)
	}
	h.metrics.ObserveReconcile(time.Since(started))

	if err != nil {
		logger.WithError(err).Error("failed to reconcile order")
		h.metrics.RecordWebhookEvent(string(event.Kind), resultError)
		return Outcome{}, err
	}

	result := resultNoop
	if outcome.Changed {
		result = resultApplied
		logger.WithField("status", outcome.Order.Status).Info("order reconciled")
	} else {
		logger.Debug("order already reconciled")
	}
	h.metrics.RecordWebhookEvent(string(event.Kind), result)
	return outcome, nil
}

// apply перечитывает заказ и применяет mutate, повторяя попытку при конфликте версий.
func (h *Handler) apply(ctx context.Context, orderID string, mutate func(*domain.Order, time.Time) (bool, error)) (Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxSaveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		order, err := h.orders.Get(orderID)
		if err != nil {
			return Outcome{}, err
		}

		changed, err := mutate(&order, h.now())
		if err != nil {
			return Outcome{Order: order}, err
		}
		if !changed {
			return Outcome{Order: order}, nil
		}

		err = h.orders.Save(order)
		if err == nil {
			order.Version++
			return Outcome{Changed: true, Order: order}, nil
		}
		if !domain.IsVersionConflict(err) {
			return Outcome{}, fmt.Errorf("save order: %w", err)
		}
		lastErr = err
		h.logger.WithFields(log.Fields{"order_id": orderID, "attempt": attempt}).Debug("order version conflict, retrying")
	}
	return Outcome{}, fmt.Errorf("save order after %d attempts: %w", MaxSaveAttempts, lastErr)
}
