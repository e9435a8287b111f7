package domain

import "context"

// DefaultCurrency — валюта всех платежей магазина.
const DefaultCurrency = "usd"

// Статусы payment intent, которые возвращает подтверждение оплаты.
const (
	IntentStatusSucceeded      = "succeeded"
	IntentStatusProcessing     = "processing"
	IntentStatusRequiresAction = "requires_action"
)

// PaymentIntentRequest — параметры создания payment intent у провайдера.
type PaymentIntentRequest struct {
	AmountMinor int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

// PaymentIntent — ответ провайдера на создание intent.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// BillingDetails — данные плательщика для подтверждения оплаты.
type BillingDetails struct {
	Name    string
	Email   string
	Address string
}

// PaymentConfirmation — результат подтверждения оплаты.
type PaymentConfirmation struct {
	IntentID string
	Status   string
}

// PaymentProvider описывает взаимодействие сервера с платёжным провайдером.
type PaymentProvider interface {
	// EnsureCustomer возвращает идентификатор клиента провайдера, создавая его при необходимости.
	EnsureCustomer(ctx context.Context, user User) (string, error)
	// CreatePaymentIntent создаёт intent и возвращает client secret для клиентской части.
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
}

// PaymentConfirmer подтверждает оплату по client secret (клиентская сторона checkout).
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, clientSecret string, billing BillingDetails) (PaymentConfirmation, error)
}
