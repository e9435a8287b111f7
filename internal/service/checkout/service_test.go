package checkoutsvc

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderevents"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	svc      *Service
	orders   domain.OrderRepository
	users    domain.UserRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	provider *payment.MockProvider
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orders:   memory.NewOrderRepository(),
		users:    memory.NewUserRepository(),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
		provider: payment.NewMockProvider(),
		now:      time.Now().UTC().Truncate(dedupWindow).Add(3 * time.Minute),
	}
	f.svc = NewService(f.orders, f.users, f.provider,
		WithIdempotency(memory.NewIdempotencyRepository()),
		WithEvents(orderevents.NewRecorder(f.timeline, f.outbox, nil, nil)),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func sampleIdentity() domain.Identity {
	return domain.Identity{UserID: "user_1", Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"}
}

func sampleRequest() checkout.IntentRequest {
	return checkout.IntentRequest{
		Amount: decimal.RequireFromString("180.00"),
		Items: []checkout.IntentItem{{
			LineID:    "line-1",
			ProductID: "p-1",
			Quantity:  3,
			Price:     decimal.RequireFromString("50.00"),
			Size:      "42",
			Color:     "Red",
		}},
	}
}

func (f *fixture) userOrders(t *testing.T) []domain.Order {
	t.Helper()
	orders, _, err := f.orders.ListByUser("user_1", domain.OrderListFilter{})
	require.NoError(t, err)
	return orders
}

func TestService_CreatesPendingOrderAndIntent(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreatePaymentIntent(context.Background(), sampleIdentity(), sampleRequest(), "key-1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.OrderID)
	assert.Equal(t, "pi_mock_1_secret_mock", resp.ClientSecret)

	order, err := f.orders.Get(resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.AddressPlaceholder, order.Address)
	assert.Equal(t, "pi_mock_1", order.PaymentIntentID)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(180)))
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, "Red", order.Items[0].Color)
	assert.Equal(t, "line-1", order.Items[0].CartLineID)

	require.Len(t, f.provider.Requests, 1)
	intentReq := f.provider.Requests[0]
	assert.Equal(t, int64(18000), intentReq.AmountMinor)
	assert.Equal(t, domain.DefaultCurrency, intentReq.Currency)
	assert.Equal(t, "cus_mock_user_1", intentReq.CustomerID)
	assert.Equal(t, resp.OrderID, intentReq.Metadata["orderId"])
	assert.Equal(t, "user_1", intentReq.Metadata["userId"])

	user, err := f.users.Get("user_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_mock_user_1", user.StripeCustomerID)

	events, err := f.timeline.List(resp.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)

	pending := f.outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.OrderEventCreated, pending[0].EventType)
}

func TestService_SameKeyReplaysResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "key-1")
	require.NoError(t, err)
	second, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "key-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.userOrders(t), 1)
	_, intents := f.provider.Calls()
	assert.Equal(t, 1, intents)
}

func TestService_SameKeyDifferentCartConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "key-1")
	require.NoError(t, err)

	changed := sampleRequest()
	changed.Items[0].Quantity = 4
	changed.Amount = decimal.RequireFromString("230.00")
	_, err = f.svc.CreatePaymentIntent(ctx, sampleIdentity(), changed, "key-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	assert.Len(t, f.userOrders(t), 1)
}

func TestService_WithoutKeyDeduplicatesWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	second, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "")
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	f.now = f.now.Add(dedupWindow)
	third, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, third.OrderID)
	assert.Len(t, f.userOrders(t), 2)
}

func TestService_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name     string
		identity domain.Identity
		mutate   func(*checkout.IntentRequest)
		wantErr  error
	}{
		{name: "anonymous", identity: domain.Identity{}, mutate: func(*checkout.IntentRequest) {}, wantErr: domain.ErrUnauthorized},
		{name: "no items", identity: sampleIdentity(), mutate: func(r *checkout.IntentRequest) { r.Items = nil }, wantErr: domain.ErrInvalidArgument},
		{name: "zero amount", identity: sampleIdentity(), mutate: func(r *checkout.IntentRequest) { r.Amount = decimal.Zero }, wantErr: domain.ErrInvalidArgument},
		{name: "zero quantity", identity: sampleIdentity(), mutate: func(r *checkout.IntentRequest) { r.Items[0].Quantity = 0 }, wantErr: domain.ErrInvalidArgument},
		{name: "missing product", identity: sampleIdentity(), mutate: func(r *checkout.IntentRequest) { r.Items[0].ProductID = "" }, wantErr: domain.ErrInvalidArgument},
		{name: "amount below items", identity: sampleIdentity(), mutate: func(r *checkout.IntentRequest) { r.Amount = decimal.NewFromInt(100) }, wantErr: domain.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := sampleRequest()
			tt.mutate(&req)

			_, err := f.svc.CreatePaymentIntent(context.Background(), tt.identity, req, "key")
			require.ErrorIs(t, err, tt.wantErr)

			customers, intents := f.provider.Calls()
			assert.Zero(t, customers)
			assert.Zero(t, intents)
		})
	}
}

func TestService_ProviderFailureCancelsOrderAndIsReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.IntentErr = &payment.ProviderError{Op: "create payment intent", Msg: "card declined", Err: errors.New("stripe down")}

	_, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "key-1")
	require.ErrorIs(t, err, domain.ErrPaymentProvider)

	orders := f.userOrders(t)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.PaymentStatusFailed, orders[0].PaymentStatus)
	assert.Equal(t, domain.OrderStatusCancelled, orders[0].Status)

	f.provider.IntentErr = nil
	_, err = f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "key-1")
	var replayed *ReplayedError
	require.ErrorAs(t, err, &replayed)
	assert.Equal(t, http.StatusInternalServerError, replayed.HTTPStatus())
	assert.Len(t, f.userOrders(t), 1)
}

func TestService_WithoutKeyRetriesAfterProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.IntentErr = errors.New("stripe unavailable")

	_, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "")
	require.Error(t, err)

	f.provider.IntentErr = nil
	resp, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), "")
	require.NoError(t, err)

	order, err := f.orders.Get(resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Len(t, f.userOrders(t), 2)
	_, intents := f.provider.Calls()
	assert.Equal(t, 2, intents)
}

func TestService_SettledOrderFreesItsKey(t *testing.T) {
	settle := map[string]func(*domain.Order, time.Time){
		"paid": func(o *domain.Order, now time.Time) { o.MarkPaid(o.PaymentIntentID, now) },
		"cancelled": func(o *domain.Order, now time.Time) {
			_, _ = o.MarkPaymentFailed(now)
		},
	}

	for _, key := range []string{"", "key-1"} {
		for name, apply := range settle {
			t.Run(name+" key="+key, func(t *testing.T) {
				f := newFixture(t)
				ctx := context.Background()

				first, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), key)
				require.NoError(t, err)

				order, err := f.orders.Get(first.OrderID)
				require.NoError(t, err)
				apply(&order, f.now)
				require.NoError(t, f.orders.Save(order))

				f.now = f.now.Add(time.Minute)
				second, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), key)
				require.NoError(t, err)
				assert.NotEqual(t, first.OrderID, second.OrderID)
				assert.Equal(t, "pi_mock_2_secret_mock", second.ClientSecret)

				again, err := f.svc.CreatePaymentIntent(ctx, sampleIdentity(), sampleRequest(), key)
				require.NoError(t, err)
				assert.Equal(t, second, again)
				assert.Len(t, f.userOrders(t), 2)
			})
		}
	}
}

func TestService_ReusesStoredCustomer(t *testing.T) {
	f := newFixture(t)
	user, err := f.users.Upsert(sampleIdentity())
	require.NoError(t, err)
	user.StripeCustomerID = "cus_existing"
	require.NoError(t, f.users.Update(user))

	_, err = f.svc.CreatePaymentIntent(context.Background(), sampleIdentity(), sampleRequest(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", f.provider.Requests[0].CustomerID)
}

func TestService_WorksWithoutIdempotencyRepository(t *testing.T) {
	orders := memory.NewOrderRepository()
	svc := NewService(orders, memory.NewUserRepository(), payment.NewMockProvider())

	first, err := svc.CreatePaymentIntent(context.Background(), sampleIdentity(), sampleRequest(), "key-1")
	require.NoError(t, err)
	second, err := svc.CreatePaymentIntent(context.Background(), sampleIdentity(), sampleRequest(), "key-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, second.OrderID)
}

func TestIdempotencyKeyFor_IgnoresItemOrder(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	req := sampleRequest()
	req.Items = append(req.Items, checkout.IntentItem{ProductID: "p-0", Quantity: 1, Price: decimal.NewFromInt(10)})
	req.Amount = decimal.NewFromInt(190)

	reversed := req
	reversed.Items = []checkout.IntentItem{req.Items[1], req.Items[0]}

	keyA, hashA, err := idempotencyKeyFor("user_1", "", req, now)
	require.NoError(t, err)
	keyB, hashB, err := idempotencyKeyFor("user_1", "", reversed, now)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)
	assert.Equal(t, hashA, hashB)

	keyC, _, err := idempotencyKeyFor("user_2", "", req, now)
	require.NoError(t, err)
	assert.NotEqual(t, keyA, keyC)

	explicit, _, err := idempotencyKeyFor("user_1", " abc ", req, now)
	require.NoError(t, err)
	assert.Equal(t, "checkout:user_1:abc", explicit)
}
