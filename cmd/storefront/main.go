package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envRedisAddr                   = "STOREFRONT_REDIS_ADDR"
	envRedisCartTTL                = "STOREFRONT_REDIS_CART_TTL"
	envCartCacheSize               = "STOREFRONT_CART_CACHE_SIZE"
	envCartIdleTTL                 = "STOREFRONT_CART_IDLE_TTL"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaGroupID                = "STOREFRONT_KAFKA_GROUP_ID"
	envOrderEventsTopic            = "STOREFRONT_ORDER_EVENTS_TOPIC"
	envStripeSecretKey             = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret         = "STRIPE_WEBHOOK_SECRET"
	envJWTSecret                   = "STOREFRONT_JWT_SECRET"
	envAdminEmails                 = "STOREFRONT_ADMIN_EMAILS"
	envCORSOrigins                 = "STOREFRONT_CORS_ORIGINS"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envOutboxMaxAge                = "STOREFRONT_OUTBOX_MAX_AGE"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envLogFormat                   = "STOREFRONT_LOG_FORMAT"
	envLogLevel                    = "STOREFRONT_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) []string {
	var warnings []string

	format, _ := lookup(envLogFormat)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envLogLevel, err))
		} else {
			log.SetLevel(level)
		}
	}
	return warnings
}

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию и
// возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
	}
	positiveInt := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	stringVars := []struct {
		key    string
		target *string
	}{
		{envHTTPAddr, &cfg.HTTPAddr},
		{envMetricsAddr, &cfg.MetricsAddr},
		{envGRPCAddr, &cfg.GRPCAddr},
		{envPostgresDSN, &cfg.PostgresDSN},
		{envRedisAddr, &cfg.RedisAddr},
		{envKafkaGroupID, &cfg.KafkaGroupID},
		{envOrderEventsTopic, &cfg.OrderEventsTopic},
		{envStripeSecretKey, &cfg.StripeSecretKey},
		{envStripeWebhookSecret, &cfg.StripeWebhookSecret},
		{envJWTSecret, &cfg.JWTSecret},
	}
	for _, sv := range stringVars {
		if v, ok := lookup(sv.key); ok && strings.TrimSpace(v) != "" {
			*sv.target = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}

	listVars := []struct {
		key    string
		target *[]string
	}{
		{envKafkaBrokers, &cfg.KafkaBrokers},
		{envAdminEmails, &cfg.AdminEmails},
		{envCORSOrigins, &cfg.CORSOrigins},
	}
	for _, lv := range listVars {
		if v, ok := lookup(lv.key); ok {
			if items := splitList(v); len(items) > 0 {
				*lv.target = items
			}
		}
	}

	if v, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	durationVars := []struct {
		key    string
		target *time.Duration
		valid  func(time.Duration) bool
		rule   string
	}{
		{envRedisCartTTL, &cfg.RedisCartTTL, positiveDuration, "must be > 0"},
		{envCartIdleTTL, &cfg.CartIdleTTL, positiveDuration, "must be > 0"},
		{envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0"},
		{envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0"},
		{envOutboxMaxAge, &cfg.OutboxMaxAge, positiveDuration, "must be > 0"},
		{envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0"},
	}
	for _, dv := range durationVars {
		v, ok := lookup(dv.key)
		if !ok {
			continue
		}
		parsed, err := parseDuration(v, dv.valid, dv.rule)
		if err != nil {
			warn(dv.key, err)
			continue
		}
		*dv.target = parsed
	}

	intVars := []struct {
		key    string
		target *int
	}{
		{envCartCacheSize, &cfg.CartCacheSize},
		{envOutboxBatchSize, &cfg.OutboxBatchSize},
		{envOutboxMaxAttempts, &cfg.OutboxMaxAttempts},
		{envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize},
	}
	for _, iv := range intVars {
		v, ok := lookup(iv.key)
		if !ok {
			continue
		}
		parsed, err := parseInt(v, positiveInt, "must be > 0")
		if err != nil {
			warn(iv.key, err)
			continue
		}
		*iv.target = parsed
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadDotEnv подхватывает .env, не перезаписывая уже заданные переменные.
func loadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func main() {
	if err := loadDotEnv(); err != nil {
		log.WithError(err).Warn("failed to load .env")
	}

	for _, warning := range setupLogger(os.LookupEnv) {
		log.Warn(warning)
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.WithField("setting", warning).Warn("invalid config value, using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"version":        version.String(),
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
