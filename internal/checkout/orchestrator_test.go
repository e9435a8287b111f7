package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type fakeCreator struct {
	calls int
	got   IntentRequest
	resp  IntentResponse
	err   error
}

func (f *fakeCreator) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	f.calls++
	f.got = req
	return f.resp, f.err
}

type fakeConfirmer struct {
	calls   int
	billing domain.BillingDetails
	results []domain.PaymentConfirmation
	errs    []error
}

func (f *fakeConfirmer) ConfirmPayment(_ context.Context, _ string, billing domain.BillingDetails) (domain.PaymentConfirmation, error) {
	i := f.calls
	f.calls++
	f.billing = billing
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var res domain.PaymentConfirmation
	if i < len(f.results) {
		res = f.results[i]
	}
	return res, err
}

type recorder struct {
	paths  []string
	errors []string
	infos  []string
}

func (r *recorder) Navigate(path string) { r.paths = append(r.paths, path) }
func (r *recorder) Success(string) {}
func (r *recorder) Error(message string) { r.errors = append(r.errors, message) }
func (r *recorder) Info(message string) { r.infos = append(r.infos, message) }

type cardDeclined struct{}

func (cardDeclined) Error() string { return "stripe: card_declined" }
func (cardDeclined) UserMessage() string { return "Your card was declined." }

func filledCart() *cart.Store {
	store := cart.New("user-1", nil)
	store.AddItem(domain.CartLineItem{
		ProductID: "p-1",
		Price:     decimal.RequireFromString("50.00"),
		Quantity:  3,
		Size:      "42",
		Color:     domain.LineColor{Name: "Black", Hex: "#000"},
	})
	return store
}

var validAddress = Address{Line1: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US"}

func TestOrchestrator_EmptyCartRedirects(t *testing.T) {
	creator := &fakeCreator{}
	rec := &recorder{}
	o := NewOrchestrator(cart.New("k", nil), creator, &fakeConfirmer{}, rec, rec, nil)

	require.NoError(t, o.Start(context.Background()))

	assert.Equal(t, StateRedirected, o.State())
	assert.Equal(t, []string{CartPath}, rec.paths)
	assert.Zero(t, creator.calls, "empty cart must not reach the server")
}

func TestOrchestrator_IntentFailureRedirectsWithToast(t *testing.T) {
	creator := &fakeCreator{err: errors.New("boom")}
	rec := &recorder{}
	o := NewOrchestrator(filledCart(), creator, &fakeConfirmer{}, rec, rec, nil)

	err := o.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateRedirected, o.State())
	assert.Equal(t, []string{msgInitFailed}, rec.errors)
	assert.Equal(t, []string{CartPath}, rec.paths)
}

func TestOrchestrator_HappyPath(t *testing.T) {
	shop := filledCart()
	creator := &fakeCreator{resp: IntentResponse{ClientSecret: "pi_1_secret_x", OrderID: "order-1"}}
	confirmer := &fakeConfirmer{results: []domain.PaymentConfirmation{{IntentID: "pi_1", Status: domain.IntentStatusSucceeded}}}
	rec := &recorder{}
	o := NewOrchestrator(shop, creator, confirmer, rec, rec, nil)

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StateAwaitingPaymentConfirmation, o.State())
	assert.True(t, creator.got.Amount.Equal(decimal.RequireFromString("180")))
	require.Len(t, creator.got.Items, 1)
	assert.Equal(t, IntentItem{LineID: shop.Items()[0].ID, ProductID: "p-1", Quantity: 3, Price: decimal.RequireFromString("50.00"), Size: "42", Color: "Black"}, creator.got.Items[0])
	assert.Equal(t, "pi_1_secret_x", o.ClientSecret())

	require.NoError(t, o.SubmitAddress(validAddress))

	state, err := o.ConfirmPayment(context.Background(), "Ann Lee", "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)
	assert.Equal(t, "1 Main St, Springfield, IL 62701, US", confirmer.billing.Address)
	assert.Zero(t, shop.TotalItems())
	assert.Equal(t, []string{"/checkout/success?orderId=order-1"}, rec.paths)
}

func TestOrchestrator_ConfirmFailureKeepsCartAndAllowsRetry(t *testing.T) {
	shop := filledCart()
	creator := &fakeCreator{resp: IntentResponse{ClientSecret: "s", OrderID: "order-2"}}
	confirmer := &fakeConfirmer{
		errs:    []error{cardDeclined{}, nil},
		results: []domain.PaymentConfirmation{{}, {Status: domain.IntentStatusSucceeded}},
	}
	rec := &recorder{}
	o := NewOrchestrator(shop, creator, confirmer, rec, rec, nil)

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.SubmitAddress(validAddress))

	state, err := o.ConfirmPayment(context.Background(), "Ann", "ann@example.com")
	require.Error(t, err)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, []string{"Your card was declined."}, rec.errors)
	assert.Equal(t, 3, shop.TotalItems(), "cart must survive a failed confirmation")

	state, err = o.ConfirmPayment(context.Background(), "Ann", "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)
	assert.Equal(t, 1, creator.calls, "retry must reuse the existing intent")
}

func TestOrchestrator_NonTerminalStatusStaysAwaiting(t *testing.T) {
	shop := filledCart()
	confirmer := &fakeConfirmer{results: []domain.PaymentConfirmation{{Status: domain.IntentStatusProcessing}}}
	rec := &recorder{}
	o := NewOrchestrator(shop, &fakeCreator{resp: IntentResponse{ClientSecret: "s", OrderID: "o"}}, confirmer, rec, rec, nil)

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.SubmitAddress(validAddress))

	state, err := o.ConfirmPayment(context.Background(), "Ann", "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPaymentConfirmation, state)
	assert.Equal(t, 3, shop.TotalItems())
	assert.Equal(t, []string{msgPaymentPending}, rec.infos)
}

func TestOrchestrator_InvalidTransitions(t *testing.T) {
	rec := &recorder{}
	o := NewOrchestrator(filledCart(), &fakeCreator{resp: IntentResponse{ClientSecret: "s", OrderID: "o"}}, &fakeConfirmer{}, rec, rec, nil)

	_, err := o.ConfirmPayment(context.Background(), "Ann", "a@b.c")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, o.Start(context.Background()))
	assert.ErrorIs(t, o.Start(context.Background()), ErrInvalidState)

	_, err = o.ConfirmPayment(context.Background(), "Ann", "a@b.c")
	assert.ErrorIs(t, err, ErrAddressRequired)
}

func TestAddress_ValidateAndCompose(t *testing.T) {
	tests := []struct {
		name    string
		addr    Address
		fields  []string
		compose string
	}{
		{name: "full", addr: Address{Line1: "1 Main", Line2: "Apt 2", City: "X", State: "CA", PostalCode: "90001", Country: "US"}, compose: "1 Main, Apt 2, X, CA 90001, US"},
		{name: "no optional parts", addr: Address{Line1: "1 Main", City: "X", State: "CA", PostalCode: "90001"}, compose: "1 Main, X, CA 90001"},
		{name: "blank required", addr: Address{Line1: "  ", City: "X"}, fields: []string{"line1", "state", "postalCode"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.addr.Validate()
			if len(tc.fields) == 0 {
				require.NoError(t, err)
				assert.Equal(t, tc.compose, tc.addr.Compose())
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, field := range tc.fields {
				assert.Contains(t, verr.Fields, field)
			}
			assert.Len(t, verr.Fields, len(tc.fields))
		})
	}
}
