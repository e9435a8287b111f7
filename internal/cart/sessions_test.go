package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redisstore"
)

type slowRepo struct {
	*memory.CartRepository
	loads atomic.Int32
}

func (r *slowRepo) Load(ctx context.Context, key string) ([]domain.CartLineItem, error) {
	r.loads.Add(1)
	time.Sleep(20 * time.Millisecond)
	return r.CartRepository.Load(ctx, key)
}

func product(id string) domain.CartLineItem {
	item := shoe("10.00", 1, "M", "Red")
	item.ProductID = id
	return item
}

func addVia(sessions *Sessions, key string, item domain.CartLineItem) error {
	_, err := sessions.Mutate(context.Background(), key, func(store *Store) error {
		store.AddItem(item)
		return nil
	})
	return err
}

func TestSessions_ConcurrentGetsShareStore(t *testing.T) {
	repo := &slowRepo{CartRepository: memory.NewCartRepository()}
	sessions := NewSessions(repo)

	var (
		wg     sync.WaitGroup
		stores = make([]*Store, 10)
	)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store, err := sessions.Get(context.Background(), "guest-1")
			if err != nil {
				t.Errorf("get failed: %v", err)
				return
			}
			stores[i] = store
		}(i)
	}
	wg.Wait()

	if got := int(repo.loads.Load()); got == 0 || got >= len(stores) {
		t.Fatalf("expected concurrent reads to collapse, got %d loads", got)
	}
	for _, store := range stores {
		if store != stores[0] {
			t.Fatal("expected all callers to share one store")
		}
	}
	if sessions.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", sessions.Len())
	}
}

func TestSessions_GetSeesWritesFromAnotherReplica(t *testing.T) {
	repo := memory.NewCartRepository()
	first, second := NewSessions(repo), NewSessions(repo)
	ctx := context.Background()

	stale, err := second.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := addVia(first, "user-1", product("p-1")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	fresh, err := second.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fresh != stale || fresh.TotalItems() != 1 {
		t.Fatalf("expected reloaded cart with 1 item, got %d", fresh.TotalItems())
	}
}

func TestSessions_ReplicasKeepEachOthersLines(t *testing.T) {
	repo := memory.NewCartRepository()
	first, second := NewSessions(repo), NewSessions(repo)
	ctx := context.Background()

	for _, sessions := range []*Sessions{first, second} {
		if _, err := sessions.Get(ctx, "user-1"); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}
	if err := addVia(first, "user-1", product("p-1")); err != nil {
		t.Fatalf("add on first replica: %v", err)
	}
	if err := addVia(second, "user-1", product("p-2")); err != nil {
		t.Fatalf("add on second replica: %v", err)
	}

	saved, err := repo.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(saved) != 2 || saved[0].ProductID != "p-1" || saved[1].ProductID != "p-2" {
		t.Fatalf("persisted %d lines (expected 2): %+v", len(saved), saved)
	}
}

func TestSessions_LockedReplicasSerializeConcurrentAdds(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := redisstore.NewCartRepository(client, time.Hour)
	locker := redisstore.NewLocker(client)
	cfg := SessionsConfig{Locker: locker, LockWait: 5 * time.Second}
	replicas := []*Sessions{
		NewSessionsWithConfig(repo, cfg),
		NewSessionsWithConfig(repo, cfg),
	}

	const adds = 20
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := addVia(replicas[i%2], "user-1", product(fmt.Sprintf("p-%d", i))); err != nil {
				t.Errorf("add %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	saved, err := repo.Load(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(saved) != adds {
		t.Fatalf("persisted %d lines (expected %d)", len(saved), adds)
	}
}

func TestSessions_BusyCartTimesOut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := redisstore.NewLocker(client)
	release, ok, err := locker.TryLock(context.Background(), "cart:user-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-lock failed: ok=%v err=%v", ok, err)
	}
	defer release()

	sessions := NewSessionsWithConfig(memory.NewCartRepository(), SessionsConfig{Locker: locker, LockWait: 30 * time.Millisecond})
	err = addVia(sessions, "user-1", product("p-1"))
	if !errors.Is(err, ErrCartBusy) {
		t.Fatalf("expected ErrCartBusy, got %v", err)
	}
}

func TestSessions_EvictsOverflowAndIdleStores(t *testing.T) {
	repo := memory.NewCartRepository()
	ctx := context.Background()

	bounded := NewSessionsWithConfig(repo, SessionsConfig{MaxStores: 3})
	for i := 0; i < 10; i++ {
		if _, err := bounded.Get(ctx, fmt.Sprintf("guest-%d", i)); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}
	if bounded.Len() != 3 {
		t.Fatalf("expected 3 resident stores, got %d", bounded.Len())
	}

	idle := NewSessionsWithConfig(repo, SessionsConfig{IdleTTL: 20 * time.Millisecond})
	if err := addVia(idle, "user-1", product("p-1")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for idle.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if idle.Len() != 0 {
		t.Fatalf("expected idle store evicted, %d resident", idle.Len())
	}

	store, err := idle.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if store.TotalItems() != 1 {
		t.Fatalf("evicted cart must reload from repository, got %d items", store.TotalItems())
	}
}

func TestSessions_SettleKeepsLinesAddedAfterCheckout(t *testing.T) {
	repo := memory.NewCartRepository()
	sessions := NewSessions(repo)
	ctx := context.Background()

	store, err := sessions.Mutate(ctx, "user-1", func(store *Store) error {
		store.AddItem(product("p-1"))
		store.AddItem(product("p-2"))
		return nil
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	paid := []domain.CartLineRef{
		{LineID: store.Items()[0].ID, Quantity: 1},
		{LineID: store.Items()[1].ID, Quantity: 1},
	}

	if err := addVia(sessions, "user-1", product("p-3")); err != nil {
		t.Fatalf("add after checkout failed: %v", err)
	}

	settled, err := sessions.Settle(ctx, "user-1", paid)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if settled != 2 {
		t.Fatalf("expected 2 settled lines, got %d", settled)
	}
	saved, _ := repo.Load(ctx, "user-1")
	if len(saved) != 1 || saved[0].ProductID != "p-3" {
		t.Fatalf("expected only the post-checkout line to remain, got %+v", saved)
	}

	again, err := sessions.Settle(ctx, "user-1", paid)
	if err != nil || again != 0 {
		t.Fatalf("redelivered settle must be a no-op: settled=%d err=%v", again, err)
	}
	if saved, _ := repo.Load(ctx, "user-1"); len(saved) != 1 {
		t.Fatalf("redelivered settle changed the cart: %+v", saved)
	}
}

func TestSessions_SettleOfUnknownCartIsNoop(t *testing.T) {
	repo := memory.NewCartRepository()
	sessions := NewSessions(repo)

	settled, err := sessions.Settle(context.Background(), "user-1", []domain.CartLineRef{{LineID: "gone", Quantity: 2}})
	if err != nil || settled != 0 {
		t.Fatalf("expected no-op, got settled=%d err=%v", settled, err)
	}
	if saved, _ := repo.Load(context.Background(), "user-1"); len(saved) != 0 {
		t.Fatalf("expected nothing persisted, got %+v", saved)
	}
}

func TestSessions_EmptyKey(t *testing.T) {
	sessions := NewSessions(nil)
	if _, err := sessions.Get(context.Background(), ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := sessions.Mutate(context.Background(), "", func(*Store) error { return nil }); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
