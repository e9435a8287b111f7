package payment

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	metadataUserID  = "userId"
	metadataOrderID = "orderId"

	clientSecretSeparator = "_secret_"
)

// StripeProvider создаёт клиентов и payment intent-ы в Stripe.
type StripeProvider struct {
	api    *client.API
	logger *log.Entry
}

// NewStripeProvider создаёт провайдер с секретным ключом Stripe.
func NewStripeProvider(secretKey string, logger *log.Entry) *StripeProvider {
	return NewStripeProviderWithBackends(secretKey, nil, logger)
}

// NewStripeProviderWithBackends позволяет подменить HTTP backend Stripe (тесты, stripe-mock).
func NewStripeProviderWithBackends(secretKey string, backends *stripe.Backends, logger *log.Entry) *StripeProvider {
	if logger == nil {
		logger = log.WithField("component", "stripe")
	}
	return &StripeProvider{api: client.New(secretKey, backends), logger: logger}
}

// EnsureCustomer возвращает сохранённый id клиента, иначе ищет клиента по email,
// иначе создаёт нового с metadata userId.
func (p *StripeProvider) EnsureCustomer(ctx context.Context, user domain.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	if user.Email != "" {
		params := &stripe.CustomerListParams{Email: stripe.String(user.Email)}
		params.Context = ctx
		params.Limit = stripe.Int64(1)

		iter := p.api.Customers.List(params)
		if iter.Next() {
			existing := iter.Customer()
			p.logger.WithFields(log.Fields{
				"user_id":     user.ID,
				"customer_id": existing.ID,
			}).Debug("reusing stripe customer found by email")
			return existing.ID, nil
		}
		if err := iter.Err(); err != nil {
			return "", wrapStripeError("list customers", err)
		}
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.FullName()),
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, user.ID)

	created, err := p.api.Customers.New(params)
	if err != nil {
		return "", wrapStripeError("create customer", err)
	}

	p.logger.WithFields(log.Fields{
		"user_id":     user.ID,
		"customer_id": created.ID,
	}).Info("stripe customer created")
	return created.ID, nil
}

// CreatePaymentIntent создаёт intent с автоматическим выбором способов оплаты.
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	currency := req.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.Context = ctx
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return domain.PaymentIntent{}, wrapStripeError("create payment intent", err)
	}

	return domain.PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// StripeConfirmer подтверждает intent серверным вызовом с заранее выбранным способом оплаты.
// В браузере ту же роль играет Stripe.js; здесь он нужен для CLI-сценариев и тестов.
type StripeConfirmer struct {
	api           *client.API
	paymentMethod string
}

// NewStripeConfirmer создаёт confirmer. paymentMethod — id способа оплаты (например, pm_card_visa).
func NewStripeConfirmer(secretKey, paymentMethod string, backends *stripe.Backends) *StripeConfirmer {
	return &StripeConfirmer{api: client.New(secretKey, backends), paymentMethod: paymentMethod}
}

func (c *StripeConfirmer) ConfirmPayment(ctx context.Context, clientSecret string, billing domain.BillingDetails) (domain.PaymentConfirmation, error) {
	intentID, err := IntentIDFromClientSecret(clientSecret)
	if err != nil {
		return domain.PaymentConfirmation{}, err
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(c.paymentMethod),
	}
	if billing.Email != "" {
		params.ReceiptEmail = stripe.String(billing.Email)
	}
	if billing.Address != "" {
		params.Shipping = &stripe.ShippingDetailsParams{
			Name:    stripe.String(billing.Name),
			Address: &stripe.AddressParams{Line1: stripe.String(billing.Address)},
		}
	}
	params.Context = ctx

	intent, err := c.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return domain.PaymentConfirmation{}, wrapStripeError("confirm payment intent", err)
	}
	return domain.PaymentConfirmation{IntentID: intent.ID, Status: string(intent.Status)}, nil
}

// IntentIDFromClientSecret извлекает id intent-а: client secret имеет вид "<id>_secret_<random>".
func IntentIDFromClientSecret(clientSecret string) (string, error) {
	id, _, found := strings.Cut(clientSecret, clientSecretSeparator)
	if !found || id == "" {
		return "", fmt.Errorf("%w: malformed client secret", domain.ErrInvalidArgument)
	}
	return id, nil
}

var (
	_ domain.PaymentProvider  = (*StripeProvider)(nil)
	_ domain.PaymentConfirmer = (*StripeConfirmer)(nil)
)
