package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// Пустой RedisAddr означает корзины только в памяти процесса.
	RedisAddr    string
	RedisCartTTL time.Duration

	// Сколько корзин держать в памяти и как долго без обращений.
	CartCacheSize int
	CartIdleTTL   time.Duration

	KafkaBrokers     []string
	KafkaGroupID     string
	OrderEventsTopic string

	// Пустой StripeSecretKey включает mock-провайдера платежей.
	StripeSecretKey     string
	StripeWebhookSecret string

	JWTSecret   string
	AdminEmails []string
	CORSOrigins []string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxAge       time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		GRPCAddr:                    ":50051",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		RedisCartTTL:                30 * 24 * time.Hour,
		CartCacheSize:               cart.DefaultMaxStores,
		CartIdleTTL:                 cart.DefaultIdleTTL,
		KafkaGroupID:                "storefront-cart-settler",
		OrderEventsTopic:            kafka.TopicOrderEvents,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            200 * time.Millisecond,
		OutboxMaxAge:                5 * time.Minute,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Validate отклоняет несогласованные комбинации настроек.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		errs = append(errs, errors.New("metrics addr is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("stripe webhook secret is required when stripe secret key is set"))
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.OrderEventsTopic) == "" {
		errs = append(errs, errors.New("order events topic is required when kafka brokers are set"))
	}
	if c.RedisAddr != "" && c.RedisCartTTL <= 0 {
		errs = append(errs, errors.New("redis cart ttl must be > 0"))
	}

	if c.CartCacheSize <= 0 {
		errs = append(errs, errors.New("cart cache size must be > 0"))
	}
	if c.CartIdleTTL <= 0 {
		errs = append(errs, errors.New("cart idle ttl must be > 0"))
	}

	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be > 0"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be > 0"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be > 0"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must be >= 0"))
	}
	if c.OutboxMaxAge <= 0 {
		errs = append(errs, errors.New("outbox max age must be > 0"))
	}
	if c.IdempotencyCleanupInterval <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval must be > 0"))
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup batch size must be > 0"))
	}

	return errors.Join(errs...)
}

// paymentMode описывает, какой провайдер платежей будет использован.
func (c Config) paymentMode() string {
	if c.StripeSecretKey == "" {
		return "mock"
	}
	return "stripe"
}
