package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Kind — вид события платёжного провайдера, значимый для заказа.
type Kind string

const (
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindPaymentFailed    Kind = "payment_failed"
	KindIgnored          Kind = "ignored"
)

const (
	stripeEventSucceeded = "payment_intent.succeeded"
	stripeEventFailed    = "payment_intent.payment_failed"

	metadataOrderID = "orderId"
)

// Event — проверенное и разобранное webhook-событие.
// Для KindIgnored заполнены только EventID и Type.
type Event struct {
	Kind           Kind
	EventID        string
	Type           string
	IntentID       string
	OrderID        string
	FailureMessage string
}

// ParseEvent проверяет подпись Stripe-Signature и только после этого читает тело события.
func ParseEvent(payload []byte, signatureHeader, secret string) (Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return Event{}, fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}
	if secret == "" {
		return Event{}, fmt.Errorf("%w: webhook secret is not configured", domain.ErrInvalidSignature)
	}

	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	event := Event{Kind: KindIgnored, EventID: stripeEvent.ID, Type: string(stripeEvent.Type)}
	switch event.Type {
	case stripeEventSucceeded:
		event.Kind = KindPaymentSucceeded
	case stripeEventFailed:
		event.Kind = KindPaymentFailed
	default:
		return event, nil
	}

	if stripeEvent.Data == nil || len(stripeEvent.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: event %s has no data", domain.ErrMalformedEvent, stripeEvent.ID)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(stripeEvent.Data.Raw, &intent); err != nil {
		return Event{}, fmt.Errorf("%w: decode payment intent: %v", domain.ErrMalformedEvent, err)
	}

	event.IntentID = intent.ID
	event.OrderID = intent.Metadata[metadataOrderID]
	if event.OrderID == "" {
		return Event{}, fmt.Errorf("%w: payment intent %s has no %s metadata", domain.ErrMalformedEvent, intent.ID, metadataOrderID)
	}
	if intent.LastPaymentError != nil {
		event.FailureMessage = intent.LastPaymentError.Msg
	}
	return event, nil
}
