package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockProvider — конфигурируемая заглушка PaymentProvider для тестов и локального запуска
// без ключа Stripe.
type MockProvider struct {
	mu sync.Mutex

	CustomerErr error
	IntentErr   error

	CustomerCalls int
	IntentCalls   int
	Requests      []domain.PaymentIntentRequest
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// EnsureCustomer возвращает сохранённый id или детерминированный cus_mock_<userID>.
func (m *MockProvider) EnsureCustomer(_ context.Context, user domain.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CustomerCalls++
	if m.CustomerErr != nil {
		return "", m.CustomerErr
	}
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	return "cus_mock_" + user.ID, nil
}

// CreatePaymentIntent возвращает intent с последовательным id и считает вызовы.
func (m *MockProvider) CreatePaymentIntent(_ context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IntentCalls++
	if m.IntentErr != nil {
		return domain.PaymentIntent{}, m.IntentErr
	}
	m.Requests = append(m.Requests, req)

	id := fmt.Sprintf("pi_mock_%d", m.IntentCalls)
	return domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + clientSecretSeparator + "mock",
		Status:       "requires_payment_method",
	}, nil
}

// Calls возвращает счётчики вызовов под блокировкой.
func (m *MockProvider) Calls() (customers, intents int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CustomerCalls, m.IntentCalls
}

// MockConfirmer — заглушка PaymentConfirmer.
type MockConfirmer struct {
	Status string
	Err    error
	Calls  int
}

// NewMockConfirmer по умолчанию подтверждает оплату со статусом succeeded.
func NewMockConfirmer() *MockConfirmer {
	return &MockConfirmer{Status: domain.IntentStatusSucceeded}
}

func (m *MockConfirmer) ConfirmPayment(_ context.Context, clientSecret string, _ domain.BillingDetails) (domain.PaymentConfirmation, error) {
	m.Calls++
	if m.Err != nil {
		return domain.PaymentConfirmation{}, m.Err
	}
	intentID, err := IntentIDFromClientSecret(clientSecret)
	if err != nil {
		return domain.PaymentConfirmation{}, err
	}
	return domain.PaymentConfirmation{IntentID: intentID, Status: m.Status}, nil
}

var (
	_ domain.PaymentProvider  = (*MockProvider)(nil)
	_ domain.PaymentConfirmer = (*MockConfirmer)(nil)
)
