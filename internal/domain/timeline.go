package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated       = "order.created"
	TimelineOrderStatusChanged = "order.status_changed"
	TimelinePaymentSucceeded   = "payment.succeeded"
	TimelinePaymentFailed      = "payment.failed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
