package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newTestBackends(t *testing.T, handler http.HandlerFunc) *stripe.Backends {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestStripeProvider_EnsureCustomerReusesEmailMatch(t *testing.T) {
	var created bool
	backends := newTestBackends(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
			assert.Equal(t, "ann@example.com", r.URL.Query().Get("email"))
			writeJSON(w, http.StatusOK, `{"object":"list","url":"/v1/customers","has_more":false,"data":[{"id":"cus_found","object":"customer"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			created = true
			writeJSON(w, http.StatusOK, `{"id":"cus_new","object":"customer"}`)
		default:
			http.NotFound(w, r)
		}
	})

	provider := NewStripeProviderWithBackends("sk_test_123", backends, nil)
	id, err := provider.EnsureCustomer(context.Background(), domain.User{ID: "user_1", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "cus_found", id)
	assert.False(t, created)
}

func TestStripeProvider_EnsureCustomerCreatesWithMetadata(t *testing.T) {
	backends := newTestBackends(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
			writeJSON(w, http.StatusOK, `{"object":"list","url":"/v1/customers","has_more":false,"data":[]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "user_1", r.PostForm.Get("metadata[userId]"))
			assert.Equal(t, "Ann Lee", r.PostForm.Get("name"))
			writeJSON(w, http.StatusOK, `{"id":"cus_new","object":"customer"}`)
		default:
			http.NotFound(w, r)
		}
	})

	provider := NewStripeProviderWithBackends("sk_test_123", backends, nil)
	id, err := provider.EnsureCustomer(context.Background(), domain.User{ID: "user_1", Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestStripeProvider_EnsureCustomerSkipsLookupForKnownCustomer(t *testing.T) {
	backends := newTestBackends(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	})

	provider := NewStripeProviderWithBackends("sk_test_123", backends, nil)
	id, err := provider.EnsureCustomer(context.Background(), domain.User{ID: "user_1", StripeCustomerID: "cus_known"})
	require.NoError(t, err)
	assert.Equal(t, "cus_known", id)
}

func TestStripeProvider_CreatePaymentIntent(t *testing.T) {
	backends := newTestBackends(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "18000", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "order-1", r.PostForm.Get("metadata[orderId]"))
		assert.Equal(t, "true", r.PostForm.Get("automatic_payment_methods[enabled]"))
		writeJSON(w, http.StatusOK, `{"id":"pi_1","object":"payment_intent","client_secret":"pi_1_secret_abc","status":"requires_payment_method"}`)
	})

	provider := NewStripeProviderWithBackends("sk_test_123", backends, nil)
	intent, err := provider.CreatePaymentIntent(context.Background(), domain.PaymentIntentRequest{
		AmountMinor: 18000,
		CustomerID:  "cus_1",
		Metadata:    map[string]string{"orderId": "order-1", "userId": "user_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret_abc", intent.ClientSecret)
}

func TestStripeProvider_ErrorCarriesUserMessage(t *testing.T) {
	backends := newTestBackends(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)
	})

	provider := NewStripeProviderWithBackends("sk_test_123", backends, nil)
	_, err := provider.CreatePaymentIntent(context.Background(), domain.PaymentIntentRequest{AmountMinor: 100})
	require.ErrorIs(t, err, domain.ErrPaymentProvider)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "Your card was declined.", providerErr.UserMessage())
}

func TestStripeConfirmer_ConfirmsByIntentID(t *testing.T) {
	backends := newTestBackends(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/pi_1/confirm", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pm_card_visa", r.PostForm.Get("payment_method"))
		assert.Equal(t, "ann@example.com", r.PostForm.Get("receipt_email"))
		writeJSON(w, http.StatusOK, `{"id":"pi_1","object":"payment_intent","status":"succeeded"}`)
	})

	confirmer := NewStripeConfirmer("sk_test_123", "pm_card_visa", backends)
	result, err := confirmer.ConfirmPayment(context.Background(), "pi_1_secret_abc", domain.BillingDetails{
		Name:    "Ann Lee",
		Email:   "ann@example.com",
		Address: "1 Main St, Springfield, IL 62701, US",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmation{IntentID: "pi_1", Status: domain.IntentStatusSucceeded}, result)
}

func TestIntentIDFromClientSecret(t *testing.T) {
	tests := []struct {
		secret  string
		want    string
		wantErr bool
	}{
		{secret: "pi_123_secret_abc", want: "pi_123"},
		{secret: "pi_mock_7_secret_mock", want: "pi_mock_7"},
		{secret: "pi_123", wantErr: true},
		{secret: "_secret_abc", wantErr: true},
		{secret: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := IntentIDFromClientSecret(tt.secret)
		if tt.wantErr {
			require.ErrorIs(t, err, domain.ErrInvalidArgument, tt.secret)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestMockProvider_CountsAndErrors(t *testing.T) {
	mock := NewMockProvider()
	ctx := context.Background()

	id, err := mock.EnsureCustomer(ctx, domain.User{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "cus_mock_u1", id)

	first, err := mock.CreatePaymentIntent(ctx, domain.PaymentIntentRequest{AmountMinor: 100})
	require.NoError(t, err)
	second, err := mock.CreatePaymentIntent(ctx, domain.PaymentIntentRequest{AmountMinor: 200})
	require.NoError(t, err)
	assert.Equal(t, "pi_mock_1", first.ID)
	assert.Equal(t, "pi_mock_2_secret_mock", second.ClientSecret)

	mock.IntentErr = errors.New("down")
	_, err = mock.CreatePaymentIntent(ctx, domain.PaymentIntentRequest{})
	require.Error(t, err)

	customers, intents := mock.Calls()
	assert.Equal(t, 1, customers)
	assert.Equal(t, 3, intents)
	assert.Len(t, mock.Requests, 2)
}

func TestMockConfirmer(t *testing.T) {
	confirmer := NewMockConfirmer()
	result, err := confirmer.ConfirmPayment(context.Background(), "pi_mock_1_secret_mock", domain.BillingDetails{})
	require.NoError(t, err)
	assert.Equal(t, "pi_mock_1", result.IntentID)
	assert.Equal(t, domain.IntentStatusSucceeded, result.Status)

	confirmer.Err = errors.New("declined")
	_, err = confirmer.ConfirmPayment(context.Background(), "pi_mock_1_secret_mock", domain.BillingDetails{})
	require.Error(t, err)
	assert.Equal(t, 2, confirmer.Calls)
}
