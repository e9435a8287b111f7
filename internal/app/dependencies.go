package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redisstore"
)

const redisDialTimeout = 3 * time.Second

// runtimeDependencies содержит хранилища и внешние клиенты, выбранные по конфигурации.
type runtimeDependencies struct {
	orders      domain.OrderRepository
	users       domain.UserRepository
	catalog     domain.CatalogRepository
	timeline    domain.TimelineRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	carts       domain.CartRepository
	provider    domain.PaymentProvider

	// locker nil, если корзины и блокировки живут в памяти одного процесса.
	locker idempotency.Locker

	storageChecker healthcheck.Checker
	cartChecker    healthcheck.Checker

	closeFns []func() error
}

// closeFn закрывает подключения в обратном порядке открытия.
func (d *runtimeDependencies) closeFn() error {
	var errs []error
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		if err := d.closeFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closeFns = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	if err := initStorage(ctx, cfg, deps, logger); err != nil {
		return nil, err
	}
	if err := initCartStorage(ctx, cfg, deps, logger); err != nil {
		_ = deps.closeFn()
		return nil, err
	}
	deps.provider = createPaymentProvider(cfg, logger)

	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	switch driver {
	case "", StorageDriverMemory:
		deps.orders = memory.NewOrderRepository()
		deps.users = memory.NewUserRepository()
		deps.catalog = memory.NewCatalogRepository()
		deps.timeline = memory.NewTimelineRepository()
		deps.outbox = memory.NewOutboxRepository()
		deps.idempotency = memory.NewIdempotencyRepository()
		logger.WithField("storage_driver", StorageDriverMemory).Info("storage initialized")
		return nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		catalog, err := postgres.NewCatalogRepository(store)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("open catalog repository: %w", err)
		}

		deps.orders = postgres.NewOrderRepository(store)
		deps.users = postgres.NewUserRepository(store)
		deps.catalog = catalog
		deps.timeline = postgres.NewTimelineRepository(store)
		deps.outbox = postgres.NewOutboxRepository(store)
		deps.idempotency = postgres.NewIdempotencyRepository(store)
		deps.storageChecker = healthcheck.NewFuncChecker("postgres", store.Ready)
		deps.closeFns = append(deps.closeFns, store.Close)

		logger.WithFields(log.Fields{
			"storage_driver": StorageDriverPostgres,
			"auto_migrate":   cfg.PostgresAutoMigrate,
		}).Info("storage initialized")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initCartStorage(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		deps.carts = memory.NewCartRepository()
		logger.Info("carts kept in process memory")
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: redisDialTimeout})
	repo := redisstore.NewCartRepository(client, cfg.RedisCartTTL)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis %s: %w", addr, err)
	}

	deps.carts = repo
	deps.locker = redisstore.NewLocker(client)
	deps.cartChecker = healthcheck.NewFuncChecker("redis", repo.Ping)
	deps.closeFns = append(deps.closeFns, client.Close)

	logger.WithField("redis_addr", addr).Info("carts persisted in redis")
	return nil
}

// createPaymentProvider выбирает Stripe или mock-провайдера по наличию ключа.
func createPaymentProvider(cfg Config, logger *log.Entry) domain.PaymentProvider {
	if cfg.paymentMode() == "mock" {
		logger.Warn("STRIPE_SECRET_KEY is empty, using mock payment provider")
		return payment.NewMockProvider()
	}
	return payment.NewStripeProvider(cfg.StripeSecretKey, logger.WithField("component", "stripe"))
}
