package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	DefaultMaxStores = 10000
	DefaultIdleTTL   = 30 * time.Minute

	defaultLockWait   = 2 * time.Second
	defaultLockTTL    = 5 * time.Second
	lockRetryInterval = 10 * time.Millisecond
)

// ErrCartBusy — корзину дольше LockWait изменяет другой запрос.
var ErrCartBusy = errors.New("cart: busy")

// Locker — блокировка, общая для всех реплик. Реализуется redisstore.Locker.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// SessionsConfig задаёт границы кэша корзин и межпроцессную блокировку.
type SessionsConfig struct {
	// MaxStores — сколько корзин держать в памяти; самые давние вытесняются.
	MaxStores int
	// IdleTTL — через сколько без обращений корзина выгружается.
	IdleTTL time.Duration
	// Locker сериализует изменения одной корзины между репликами. nil — только внутри процесса.
	Locker   Locker
	LockWait time.Duration
	LockTTL  time.Duration
}

func (c SessionsConfig) withDefaults() SessionsConfig {
	if c.MaxStores <= 0 {
		c.MaxStores = DefaultMaxStores
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	if c.LockWait <= 0 {
		c.LockWait = defaultLockWait
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	return c
}

// Sessions держит корзины по ключу (id пользователя или анонимной сессии).
// Репозиторий остаётся источником истины: каждое обращение перечитывает корзину,
// а изменения идут через Mutate по схеме чтение-изменение-запись.
type Sessions struct {
	repo  domain.CartRepository
	opts  []Option
	cfg   SessionsConfig
	group singleflight.Group

	mu     sync.Mutex
	stores *expirable.LRU[string, *Store]
}

// NewSessions создаёт реестр корзин с настройками по умолчанию.
// opts применяются к каждой создаваемой Store.
func NewSessions(repo domain.CartRepository, opts ...Option) *Sessions {
	return NewSessionsWithConfig(repo, SessionsConfig{}, opts...)
}

// NewSessionsWithConfig создаёт реестр корзин с явными границами кэша и блокировкой.
func NewSessionsWithConfig(repo domain.CartRepository, cfg SessionsConfig, opts ...Option) *Sessions {
	cfg = cfg.withDefaults()
	return &Sessions{
		repo:   repo,
		opts:   opts,
		cfg:    cfg,
		stores: expirable.NewLRU[string, *Store](cfg.MaxStores, nil, cfg.IdleTTL),
	}
}

// Get возвращает корзину по ключу, перечитанную из репозитория.
// Параллельные обращения к одному ключу делят одно чтение.
func (s *Sessions) Get(ctx context.Context, key string) (*Store, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: cart key is required", domain.ErrInvalidArgument)
	}

	store := s.store(key)
	if _, err, _ := s.group.Do(key, func() (any, error) {
		return nil, store.refresh(ctx)
	}); err != nil {
		return nil, fmt.Errorf("load cart %s: %w", key, err)
	}
	return store, nil
}

// Mutate перечитывает корзину и применяет fn, удерживая блокировку корзины.
// Ошибка fn возвращается как есть вместе с корзиной.
func (s *Sessions) Mutate(ctx context.Context, key string, fn func(*Store) error) (*Store, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: cart key is required", domain.ErrInvalidArgument)
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	store := s.store(key)
	store.opMu.Lock()
	defer store.opMu.Unlock()

	if err := store.load(ctx); err != nil {
		return nil, fmt.Errorf("load cart %s: %w", key, err)
	}
	return store, fn(store)
}

// Settle списывает оплаченные строки из корзины владельца.
func (s *Sessions) Settle(ctx context.Context, key string, paid []domain.CartLineRef) (int, error) {
	settled := 0
	_, err := s.Mutate(ctx, key, func(store *Store) error {
		settled = store.Settle(paid)
		return nil
	})
	return settled, err
}

// Len возвращает число корзин в памяти.
func (s *Sessions) Len() int {
	return s.stores.Len()
}

// store возвращает корзину из кэша или создаёт пустую; обращение продлевает IdleTTL.
func (s *Sessions) store(key string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, ok := s.stores.Get(key)
	if !ok {
		store = New(key, s.repo, s.opts...)
	}
	s.stores.Add(key, store)
	return store
}

func (s *Sessions) lock(ctx context.Context, key string) (func(), error) {
	if s.cfg.Locker == nil {
		return func() {}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		release, ok, err := s.cfg.Locker.TryLock(waitCtx, "cart:"+key, s.cfg.LockTTL)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s", ErrCartBusy, key)
			}
			return nil, fmt.Errorf("lock cart %s: %w", key, err)
		}
		if ok {
			return release, nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", ErrCartBusy, key)
		case <-ticker.C:
		}
	}
}
