package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Success(message string) { n.add("success:" + message) }
func (n *recordingNotifier) Error(message string) { n.add("error:" + message) }
func (n *recordingNotifier) Info(message string) { n.add("info:" + message) }

func (n *recordingNotifier) add(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

type failingRepo struct {
	saves atomic.Int32
}

func (r *failingRepo) Load(context.Context, string) ([]domain.CartLineItem, error) {
	return nil, errors.New("backend down")
}

func (r *failingRepo) Save(context.Context, string, []domain.CartLineItem) error {
	r.saves.Add(1)
	return errors.New("backend down")
}

func (r *failingRepo) Delete(context.Context, string) error { return nil }

type mutationCounter struct {
	ops []string
}

func (m *mutationCounter) RecordCartMutation(op string) { m.ops = append(m.ops, op) }

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("line-%d", n)
	}
}

func shoe(price string, qty int, size, color string) domain.CartLineItem {
	return domain.CartLineItem{
		ProductID: "p-1",
		Title:     "Air Max",
		Price:     decimal.RequireFromString(price),
		Quantity:  qty,
		Size:      size,
		Color:     domain.LineColor{Name: color, Hex: "#000000"},
		Brand:     "Nike",
	}
}

func TestStore_AddItemMergesSameLine(t *testing.T) {
	notifier := &recordingNotifier{}
	store := New("user-1", nil, WithNotifier(notifier), WithIDGenerator(sequentialIDs()))

	store.AddItem(shoe("50.00", 1, "42", "Black"))
	store.AddItem(shoe("50.00", 2, "42", "Black"))
	store.AddItem(shoe("50.00", 1, "43", "Black"))
	store.AddItem(shoe("50.00", 1, "42", "White"))

	items := store.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(items))
	}
	if items[0].ID != "line-1" || items[0].Quantity != 3 {
		t.Fatalf("expected merged first line with qty 3, got %+v", items[0])
	}
	if items[1].Size != "43" || items[2].Color.Name != "White" {
		t.Fatalf("expected insertion order preserved, got %+v", items)
	}
	if len(notifier.messages) != 4 || notifier.messages[0] != "success:"+msgAdded {
		t.Fatalf("expected one success toast per add, got %v", notifier.messages)
	}
}

func TestStore_AddItemIsNotClamped(t *testing.T) {
	store := New("user-1", nil)

	for i := 0; i < 12; i++ {
		store.AddItem(shoe("1.00", 1, "M", "Red"))
	}

	if got := store.TotalItems(); got != 12 {
		t.Fatalf("expected 12 items after repeated adds, got %d", got)
	}
}

func TestStore_Totals(t *testing.T) {
	tests := []struct {
		name     string
		lines    []domain.CartLineItem
		subtotal string
		shipping string
		total    string
		count    int
	}{
		{name: "empty", lines: nil, subtotal: "0", shipping: "0", total: "0", count: 0},
		{name: "single line", lines: []domain.CartLineItem{shoe("50.00", 3, "42", "Black")}, subtotal: "150", shipping: "30", total: "180", count: 3},
		{
			name:     "two lines",
			lines:    []domain.CartLineItem{shoe("19.99", 2, "S", "Red"), shoe("5.01", 1, "M", "Red")},
			subtotal: "44.99", shipping: "30", total: "74.99", count: 3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := New("k", nil)
			for _, line := range tc.lines {
				store.AddItem(line)
			}

			if !store.Subtotal().Equal(decimal.RequireFromString(tc.subtotal)) {
				t.Fatalf("subtotal: expected %s, got %s", tc.subtotal, store.Subtotal())
			}
			if !store.ShippingCost().Equal(decimal.RequireFromString(tc.shipping)) {
				t.Fatalf("shipping: expected %s, got %s", tc.shipping, store.ShippingCost())
			}
			if !store.Total().Equal(decimal.RequireFromString(tc.total)) {
				t.Fatalf("total: expected %s, got %s", tc.total, store.Total())
			}
			if store.TotalItems() != tc.count {
				t.Fatalf("count: expected %d, got %d", tc.count, store.TotalItems())
			}

			summary := store.Summary()
			if !summary.Total.Equal(store.Total()) || summary.TotalItems != tc.count {
				t.Fatalf("summary disagrees with accessors: %+v", summary)
			}
		})
	}
}

func TestStore_UpdateQuantityBounds(t *testing.T) {
	store := New("k", nil, WithIDGenerator(sequentialIDs()))
	store.AddItem(shoe("10.00", 2, "M", "Red"))

	tests := []struct {
		name     string
		id       string
		quantity int
		wantErr  error
		wantQty  int
	}{
		{name: "zero rejected", id: "line-1", quantity: 0, wantErr: ErrQuantityOutOfRange, wantQty: 2},
		{name: "eleven rejected", id: "line-1", quantity: 11, wantErr: ErrQuantityOutOfRange, wantQty: 2},
		{name: "unknown id", id: "nope", quantity: 5, wantErr: ErrItemNotFound, wantQty: 2},
		{name: "lower bound", id: "line-1", quantity: 1, wantQty: 1},
		{name: "upper bound", id: "line-1", quantity: 10, wantQty: 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := store.UpdateQuantity(tc.id, tc.quantity)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := store.Items()[0].Quantity; got != tc.wantQty {
				t.Fatalf("expected quantity %d, got %d", tc.wantQty, got)
			}
		})
	}
}

func TestStore_RemoveAndClear(t *testing.T) {
	notifier := &recordingNotifier{}
	store := New("k", nil, WithNotifier(notifier), WithIDGenerator(sequentialIDs()))
	store.AddItem(shoe("10.00", 1, "S", "Red"))
	store.AddItem(shoe("10.00", 1, "M", "Red"))

	store.RemoveItem("missing")
	if len(store.Items()) != 2 {
		t.Fatal("removing an unknown id must be a no-op")
	}

	store.RemoveItem("line-1")
	items := store.Items()
	if len(items) != 1 || items[0].ID != "line-2" {
		t.Fatalf("unexpected lines after remove: %+v", items)
	}
	if notifier.messages[len(notifier.messages)-1] != "success:"+msgRemoved {
		t.Fatalf("expected removal toast, got %v", notifier.messages)
	}

	store.ClearCart()
	if store.TotalItems() != 0 || !store.Total().IsZero() {
		t.Fatalf("expected empty cart after clear, got %d items total %s", store.TotalItems(), store.Total())
	}
}

func TestStore_PersistsEveryMutationAndRehydrates(t *testing.T) {
	repo := memory.NewCartRepository()
	metrics := &mutationCounter{}
	store, err := Open(context.Background(), "user-1", repo, WithIDGenerator(sequentialIDs()), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	store.AddItem(shoe("50.00", 3, "42", "Black"))
	store.AddItem(shoe("20.00", 1, "M", "Red"))
	if err := store.UpdateQuantity("line-2", 4); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	reopened, err := Open(context.Background(), "user-1", repo)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.Total().Equal(decimal.RequireFromString("260")) {
		t.Fatalf("expected rehydrated total 260, got %s", reopened.Total())
	}

	store.ClearCart()
	saved, _ := repo.Load(context.Background(), "user-1")
	if len(saved) != 0 {
		t.Fatalf("expected persisted cart to be empty after clear, got %d lines", len(saved))
	}

	want := []string{"add", "add", "update", "clear"}
	if fmt.Sprint(metrics.ops) != fmt.Sprint(want) {
		t.Fatalf("expected mutations %v, got %v", want, metrics.ops)
	}
}

func TestStore_PersistFailureKeepsMutation(t *testing.T) {
	repo := &failingRepo{}
	store := New("k", repo)

	store.AddItem(shoe("10.00", 2, "S", "Red"))

	if store.TotalItems() != 2 {
		t.Fatalf("mutation must survive persist failure, got %d items", store.TotalItems())
	}
	if repo.saves.Load() != 1 {
		t.Fatalf("expected one save attempt, got %d", repo.saves.Load())
	}

	if _, err := Open(context.Background(), "k", repo); err == nil {
		t.Fatal("expected open to surface load error")
	}
}

func TestStore_ConcurrentAdds(t *testing.T) {
	store := New("k", memory.NewCartRepository())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.AddItem(shoe("1.00", 1, "M", "Red"))
		}()
	}
	wg.Wait()

	if len(store.Items()) != 1 || store.TotalItems() != 50 {
		t.Fatalf("expected one merged line with 50 items, got %d lines / %d items", len(store.Items()), store.TotalItems())
	}
}

func TestStore_SettleSubtractsPaidQuantities(t *testing.T) {
	metrics := &mutationCounter{}
	store := New("user-1", nil, WithIDGenerator(sequentialIDs()), WithMetrics(metrics))

	store.AddItem(shoe("50.00", 2, "42", "Black"))
	store.AddItem(shoe("50.00", 1, "43", "Black"))
	// После оформления покупатель добавил ещё одну пару того же размера.
	store.AddItem(shoe("50.00", 1, "42", "Black"))

	settled := store.Settle([]domain.CartLineRef{
		{LineID: "line-1", Quantity: 2},
		{LineID: "line-2", Quantity: 1},
		{LineID: "line-9", Quantity: 1},
		{LineID: "line-1", Quantity: 0},
	})
	if settled != 2 {
		t.Fatalf("expected 2 settled lines, got %d", settled)
	}
	items := store.Items()
	if len(items) != 1 || items[0].ID != "line-1" || items[0].Quantity != 1 {
		t.Fatalf("expected the unpaid pair to remain, got %+v", items)
	}
	if got := metrics.ops[len(metrics.ops)-1]; got != "settle" {
		t.Fatalf("expected settle to be recorded, got %v", metrics.ops)
	}

	if store.Settle(nil) != 0 || len(metrics.ops) != 4 {
		t.Fatalf("empty settle must not record a mutation, got %v", metrics.ops)
	}
}
