package payment

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ProviderError — ошибка платёжного провайдера. Совпадает с domain.ErrPaymentProvider
// через errors.Is и несёт сообщение, которое можно показать покупателю.
type ProviderError struct {
	Op  string
	Msg string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{domain.ErrPaymentProvider, e.Err}
}

// UserMessage возвращает текст ошибки провайдера для уведомления.
func (e *ProviderError) UserMessage() string {
	return e.Msg
}

func wrapStripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := ""
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		msg = stripeErr.Msg
	}
	return &ProviderError{Op: op, Msg: msg, Err: err}
}
