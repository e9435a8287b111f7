package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderevents"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const testSecret = "whsec_test"

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func intentPayload(eventType, intentID, orderID, failure string) []byte {
	metadata := "{}"
	if orderID != "" {
		metadata = fmt.Sprintf(`{"orderId":%q,"userId":"user_1"}`, orderID)
	}
	lastError := "null"
	if failure != "" {
		lastError = fmt.Sprintf(`{"message":%q,"type":"card_error"}`, failure)
	}
	return []byte(fmt.Sprintf(`{"id":"evt_%s","object":"event","type":%q,"data":{"object":{"id":%q,"object":"payment_intent","metadata":%s,"last_payment_error":%s}}}`,
		intentID, eventType, intentID, metadata, lastError))
}

type fixture struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	handler  *Handler
}

func newFixture(t *testing.T, orders domain.OrderRepository) *fixture {
	t.Helper()

	if orders == nil {
		orders = memory.NewOrderRepository()
	}
	f := &fixture{
		orders:   orders,
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
	}
	f.handler = NewHandler(orders, orderevents.NewRecorder(f.timeline, f.outbox, nil, nil), nil, testSecret, nil)

	now := time.Now().UTC()
	require.NoError(t, orders.Create(domain.Order{
		ID:              "order-1",
		UserID:          "user_1",
		Total:           decimal.RequireFromString("180.00"),
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPending,
		Address:         domain.AddressPlaceholder,
		PaymentIntentID: "pi_1",
		Items:           []domain.OrderItem{{ID: "item-1", ProductID: "p-1", Quantity: 3, Price: decimal.RequireFromString("50.00")}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}))
	return f
}

func (f *fixture) deliver(t *testing.T, payload []byte) (Outcome, error) {
	t.Helper()
	event, err := f.handler.ParseEvent(payload, signPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)
	return f.handler.Handle(context.Background(), event)
}

func (f *fixture) eventTypes() []string {
	types := make([]string, 0)
	for _, msg := range f.outbox.Pending() {
		types = append(types, msg.EventType)
	}
	return types
}

func TestParseEvent(t *testing.T) {
	succeeded := intentPayload(stripeEventSucceeded, "pi_1", "order-1", "")
	now := time.Now()

	tests := []struct {
		name     string
		payload  []byte
		header   string
		wantKind Kind
		wantErr  error
	}{
		{name: "succeeded", payload: succeeded, header: signPayload(succeeded, testSecret, now), wantKind: KindPaymentSucceeded},
		{name: "missing header", payload: succeeded, header: "", wantErr: domain.ErrInvalidSignature},
		{name: "wrong secret", payload: succeeded, header: signPayload(succeeded, "whsec_other", now), wantErr: domain.ErrInvalidSignature},
		{name: "stale timestamp", payload: succeeded, header: signPayload(succeeded, testSecret, now.Add(-time.Hour)), wantErr: domain.ErrInvalidSignature},
		{name: "garbage header", payload: succeeded, header: "not-a-signature", wantErr: domain.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseEvent(tt.payload, tt.header, testSecret)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, event.Kind)
			assert.Equal(t, "order-1", event.OrderID)
			assert.Equal(t, "pi_1", event.IntentID)
			assert.Equal(t, "evt_pi_1", event.EventID)
		})
	}
}

func TestParseEvent_TamperedBodyRejected(t *testing.T) {
	payload := intentPayload(stripeEventSucceeded, "pi_1", "order-1", "")
	header := signPayload(payload, testSecret, time.Now())

	tampered := intentPayload(stripeEventSucceeded, "pi_1", "order-2", "")
	_, err := ParseEvent(tampered, header, testSecret)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestParseEvent_MissingOrderIDIsMalformed(t *testing.T) {
	payload := intentPayload(stripeEventFailed, "pi_1", "", "declined")
	_, err := ParseEvent(payload, signPayload(payload, testSecret, time.Now()), testSecret)
	require.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestParseEvent_UnrelatedTypeIsIgnored(t *testing.T) {
	payload := []byte(`{"id":"evt_9","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	event, err := ParseEvent(payload, signPayload(payload, testSecret, time.Now()), testSecret)
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, event.Kind)
	assert.Equal(t, "customer.created", event.Type)
}

func TestHandle_SucceededMarksPaidOnce(t *testing.T) {
	f := newFixture(t, nil)
	payload := intentPayload(stripeEventSucceeded, "pi_1", "order-1", "")

	first, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.True(t, first.Changed)

	second, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.False(t, second.Changed)

	order, err := f.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	assert.Equal(t, "pi_1", order.PaymentIntentID)

	assert.Equal(t, []string{domain.OrderEventPaid}, f.eventTypes())
	events, err := f.timeline.List("order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelinePaymentSucceeded, events[0].Type)
}

func TestHandle_FailedCancelsPendingOrder(t *testing.T) {
	f := newFixture(t, nil)

	outcome, err := f.deliver(t, intentPayload(stripeEventFailed, "pi_1", "order-1", "Your card was declined."))
	require.NoError(t, err)
	assert.True(t, outcome.Changed)

	order, err := f.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)

	events, err := f.timeline.List("order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Your card was declined.", events[0].Reason)

	again, err := f.deliver(t, intentPayload(stripeEventFailed, "pi_1", "order-1", "Your card was declined."))
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, []string{domain.OrderEventPaymentFailed}, f.eventTypes())
}

func TestHandle_FailedAfterPaidIsIgnored(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.deliver(t, intentPayload(stripeEventSucceeded, "pi_1", "order-1", ""))
	require.NoError(t, err)

	outcome, err := f.deliver(t, intentPayload(stripeEventFailed, "pi_1", "order-1", "late"))
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)
	assert.False(t, outcome.Changed)

	order, err := f.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
}

func TestHandle_SucceededAfterFailedRecovers(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.deliver(t, intentPayload(stripeEventFailed, "pi_1", "order-1", "declined"))
	require.NoError(t, err)
	outcome, err := f.deliver(t, intentPayload(stripeEventSucceeded, "pi_1", "order-1", ""))
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, domain.PaymentStatusPaid, outcome.Order.PaymentStatus)
}

func TestHandle_UnknownOrder(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.deliver(t, intentPayload(stripeEventSucceeded, "pi_9", "missing", ""))
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, f.eventTypes())
}

func TestHandle_IgnoredEventTouchesNothing(t *testing.T) {
	f := newFixture(t, nil)

	outcome, err := f.handler.Handle(context.Background(), Event{Kind: KindIgnored, EventID: "evt_1", Type: "charge.refunded"})
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)

	order, err := f.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Empty(t, f.eventTypes())
}

func TestHandle_ShippedOrderRejectsRepayment(t *testing.T) {
	f := newFixture(t, nil)
	order, err := f.orders.Get("order-1")
	require.NoError(t, err)
	order.Status = domain.OrderStatusShipped
	require.NoError(t, f.orders.Save(order))

	_, err = f.deliver(t, intentPayload(stripeEventSucceeded, "pi_1", "order-1", ""))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// conflictingRepository возвращает конфликт версий для первых conflicts вызовов Save.
type conflictingRepository struct {
	domain.OrderRepository

	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepository) Save(order domain.Order) error {
	r.mu.Lock()
	r.saves++
	conflict := r.saves <= r.conflicts
	r.mu.Unlock()

	if conflict {
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

func TestHandle_RetriesVersionConflicts(t *testing.T) {
	repo := &conflictingRepository{OrderRepository: memory.NewOrderRepository(), conflicts: MaxSaveAttempts - 1}
	f := newFixture(t, repo)

	outcome, err := f.deliver(t, intentPayload(stripeEventSucceeded, "pi_1", "order-1", ""))
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, MaxSaveAttempts, repo.saves)
}

func TestHandle_GivesUpAfterMaxAttempts(t *testing.T) {
	repo := &conflictingRepository{OrderRepository: memory.NewOrderRepository(), conflicts: 100}
	f := newFixture(t, repo)

	_, err := f.deliver(t, intentPayload(stripeEventSucceeded, "pi_1", "order-1", ""))
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	assert.Equal(t, MaxSaveAttempts, repo.saves)
	assert.Empty(t, f.eventTypes())
}

func TestHandle_ConcurrentDuplicateDeliveriesConverge(t *testing.T) {
	f := newFixture(t, nil)
	payload := intentPayload(stripeEventSucceeded, "pi_1", "order-1", "")
	event, err := f.handler.ParseEvent(payload, signPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)

	const deliveries = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.handler.Handle(context.Background(), event)
			assert.NoError(t, err)
			if outcome.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed)
	assert.Equal(t, []string{domain.OrderEventPaid}, f.eventTypes())
}
