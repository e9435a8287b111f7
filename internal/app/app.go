package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/account"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	checkoutsvc "github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderevents"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Run поднимает HTTP API витрины, сервер метрик, gRPC health и фоновые воркеры
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.WithFields(log.Fields{
		"version": version.GetVersion(),
		"commit":  version.GetCommit(),
		"payment": cfg.paymentMode(),
	}).Info("starting storefront")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	storefrontMetrics := metrics.NewStorefrontMetrics()
	events := orderevents.NewRecorder(deps.timeline, deps.outbox, storefrontMetrics, logger.WithField("component", "order-events"))

	cartConfig := cart.SessionsConfig{MaxStores: cfg.CartCacheSize, IdleTTL: cfg.CartIdleTTL}
	if deps.locker != nil {
		cartConfig.Locker = deps.locker
	}
	carts := cart.NewSessionsWithConfig(deps.carts, cartConfig,
		cart.WithLogger(logger.WithField("component", "cart")),
		cart.WithNotifier(cart.NewLogNotifier(logger.WithField("component", "cart-notifier"))),
		cart.WithMetrics(storefrontMetrics),
	)

	if cfg.JWTSecret == "" {
		logger.Warn("STOREFRONT_JWT_SECRET is empty, authenticated routes will reject every token")
	}
	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET is empty, webhook signatures cannot be verified")
	}

	api := httpapi.NewServer(httpapi.Dependencies{
		Carts: carts,
		Checkout: checkoutsvc.NewService(deps.orders, deps.users, deps.provider,
			checkoutsvc.WithLogger(logger.WithField("component", "checkout-service")),
			checkoutsvc.WithMetrics(storefrontMetrics),
			checkoutsvc.WithIdempotency(deps.idempotency),
			checkoutsvc.WithEvents(events),
		),
		Reconcile:   reconcile.NewHandler(deps.orders, events, storefrontMetrics, cfg.StripeWebhookSecret, logger.WithField("component", "reconcile")),
		Catalog:     catalog.NewService(deps.catalog, logger.WithField("component", "catalog")),
		Account:     account.NewService(deps.users, deps.orders, deps.timeline, logger.WithField("component", "account")),
		Auth:        httpapi.NewAuthenticator(cfg.JWTSecret, cfg.AdminEmails),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.WithField("component", "http-api"),
	})

	broker := initKafka(cfg, logger)
	defer broker.close(logger)
	broker.startCartSettleConsumer(ctx, cfg, carts, logger)

	outboxCancel, outboxDone := startOutboxWorker(cfg, deps, broker, storefrontMetrics, logger)
	defer shutdownWorker("outbox", outboxCancel, outboxDone, logger)

	cleanupOptions := []idempotency.CleanupOption{
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(storefrontMetrics),
	}
	if deps.locker != nil {
		cleanupOptions = append(cleanupOptions, idempotency.WithLocker(deps.locker))
	}
	cleanupCancel, cleanupDone := startWorker(idempotency.NewCleanupWorker(deps.idempotency, cleanupOptions...).Run)
	defer shutdownWorker("idempotency-cleanup", cleanupCancel, cleanupDone, logger)

	healthHandler := newHealthHandler(cfg, deps)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	apiSrv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: readHeaderTimeout}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()

	grpcServer, healthServer, err := startGRPCServer(cfg.GRPCAddr, logger, errCh)
	if err != nil {
		shutdownHTTP(apiSrv, logger)
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(apiSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newHealthHandler регистрирует проверки хранилищ. Postgres критичен для готовности,
// Redis и отставание outbox только переводят сервис в degraded.
func newHealthHandler(cfg Config, deps *runtimeDependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		handler.RegisterChecker("postgres", deps.storageChecker)
	}
	if deps.cartChecker != nil {
		handler.RegisterOptional("redis", deps.cartChecker)
	}
	handler.RegisterOptional("outbox", healthcheck.NewOutboxChecker(deps.outbox, cfg.OutboxMaxAge))
	return handler
}

func startOutboxWorker(cfg Config, deps *runtimeDependencies, k *kafkaRuntime, m *metrics.StorefrontMetrics, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	if k == nil {
		logger.Warn("kafka is not configured, order events stay in outbox")
		return nil, nil
	}

	worker := outbox.NewWorker(deps.outbox, k.publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(m),
		outbox.WithDLQPublisher(k.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	return startWorker(worker.Run)
}

// startWorker запускает run в отдельной горутине со своим контекстом:
// воркеры останавливаются после серверов, а не вместе с ctx запроса на остановку.
func startWorker(run func(ctx context.Context)) (context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return cancel, done
}

// shutdownWorker отменяет воркер и ждёт завершения не дольше shutdownTimeout.
func shutdownWorker(name string, cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.WithField("worker", name).Warn("worker did not stop in time")
	}
}

// startGRPCServer поднимает gRPC health и reflection. Пустой addr отключает gRPC.
func startGRPCServer(addr string, logger *log.Entry, errCh chan<- error) (*grpc.Server, *health.Server, error) {
	if addr == "" {
		return nil, nil, nil
	}

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen grpc %s: %w", addr, err)
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Infof("gRPC health слушает %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	return grpcServer, healthServer, nil
}

func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	if grpcServer == nil {
		return
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает /metrics и health-пробы.
// opsHandler отдаёт служебные эндпоинты: метрики Prometheus и пробы Kubernetes.
func opsHandler(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /healthz", healthHandler)
	mux.HandleFunc("GET /livez", healthcheck.LivenessHandler)
	mux.HandleFunc("GET /readyz", healthHandler.ReadinessHandler)
	return mux
}

func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: opsHandler(healthHandler), ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.WithField("addr", addr).Info("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
