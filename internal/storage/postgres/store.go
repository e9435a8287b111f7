package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// opTimeout ограничивает каждый запрос репозиториев.
const opTimeout = 5 * time.Second

var errStoreClosed = errors.New("postgres store is not initialized")

// PoolSettings управляет пулом database/sql.
type PoolSettings struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	PingTimeout time.Duration
}

// DefaultPoolSettings подходят для одного инстанса витрины.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxOpen:     20,
		MaxIdle:     10,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
		PingTimeout: 5 * time.Second,
	}
}

// StoreOption меняет PoolSettings перед открытием подключения.
type StoreOption func(*PoolSettings)

func WithMaxOpenConns(n int) StoreOption {
	return func(s *PoolSettings) {
		if n > 0 {
			s.MaxOpen = n
			s.MaxIdle = min(s.MaxIdle, n)
		}
	}
}

func WithPingTimeout(d time.Duration) StoreOption {
	return func(s *PoolSettings) {
		if d > 0 {
			s.PingTimeout = d
		}
	}
}

// Store владеет пулом подключений; репозитории берут его через DB.
type Store struct {
	db       *sql.DB
	settings PoolSettings
}

// Open подключается через драйвер pgx и сразу проверяет связь.
func Open(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	settings := DefaultPoolSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(settings.MaxOpen)
	db.SetMaxIdleConns(settings.MaxIdle)
	db.SetConnMaxLifetime(settings.MaxLifetime)
	db.SetConnMaxIdleTime(settings.MaxIdleTime)

	store := &Store{db: db, settings: settings}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.settings.PingTimeout)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Ready успешен, только когда база отвечает и схема догнала встроенные миграции.
func (s *Store) Ready(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	switch pending, err := s.PendingMigrations(ctx); {
	case err != nil:
		return err
	case pending > 0:
		return fmt.Errorf("postgres schema is behind: %d pending migrations", pending)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx выполняет fn в транзакции: commit при nil, rollback при ошибке.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
