package checkoutsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderevents"
)

const (
	metadataOrderID = "orderId"
	metadataUserID  = "userId"
)

// Options настраивают Service.
type Options struct {
	Logger      *log.Entry
	Metrics     *metrics.StorefrontMetrics
	Idempotency domain.IdempotencyRepository
	Events      *orderevents.Recorder
	Now         func() time.Time
	NewID       func() string
}

// Option изменяет Options.
type Option func(*Options)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		if logger != nil {
			opts.Logger = logger
		}
	}
}

// WithMetrics подключает бизнес-метрики.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithIdempotency включает дедупликацию повторных запросов.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(opts *Options) {
		opts.Idempotency = repo
	}
}

// WithEvents задаёт запись таймлайна и outbox для созданных заказов.
func WithEvents(recorder *orderevents.Recorder) Option {
	return func(opts *Options) {
		opts.Events = recorder
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		if now != nil {
			opts.Now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов (тесты).
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) {
		if newID != nil {
			opts.NewID = newID
		}
	}
}

// Service — серверная точка входа checkout: создаёт заказ в статусе pending и payment intent.
type Service struct {
	orders   domain.OrderRepository
	users    domain.UserRepository
	provider domain.PaymentProvider

	idem    domain.IdempotencyRepository
	events  *orderevents.Recorder
	metrics *metrics.StorefrontMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// NewService создаёт сервис checkout.
func NewService(orders domain.OrderRepository, users domain.UserRepository, provider domain.PaymentProvider, options ...Option) *Service {
	opts := Options{
		Logger: log.WithField("component", "checkout-service"),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
	for _, apply := range options {
		apply(&opts)
	}

	return &Service{
		orders:   orders,
		users:    users,
		provider: provider,
		idem:     opts.Idempotency,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// CreatePaymentIntent создаёт заказ и payment intent для корзины пользователя.
// Повторный запрос с тем же ключом (или, без ключа, с той же корзиной в пределах окна)
// возвращает уже созданный заказ, пока тот ждёт оплаты.
func (s *Service) CreatePaymentIntent(ctx context.Context, identity domain.Identity, req checkout.IntentRequest, idempotencyKey string) (checkout.IntentResponse, error) {
	if identity.UserID == "" {
		s.metrics.RecordCheckoutIntent(metrics.CheckoutRejected)
		return checkout.IntentResponse{}, domain.ErrUnauthorized
	}

	now := s.now()
	order, err := s.buildOrder(identity.UserID, req, now)
	if err != nil {
		s.metrics.RecordCheckoutIntent(metrics.CheckoutRejected)
		return checkout.IntentResponse{}, err
	}

	if s.idem == nil {
		return s.createRecorded(ctx, identity, order)
	}

	derivedKey := strings.TrimSpace(idempotencyKey) == ""
	key, hash, err := idempotencyKeyFor(identity.UserID, idempotencyKey, req, now)
	if err != nil {
		s.logger.WithError(err).Warn("failed to build idempotency request hash")
		return checkout.IntentResponse{}, fmt.Errorf("build idempotency key: %w", err)
	}

	record, err := s.idem.CreateProcessing(key, hash, now.Add(idempotencyTTL))
	if err != nil && s.consumed(err, record) {
		// Заказ под ключом уже оплачен или отменён: это новая покупка, ключ занимается заново.
		if relErr := s.idem.Release(key); relErr != nil {
			s.logger.WithError(relErr).WithField("idempotency_key", key).Warn("failed to release consumed idempotency key")
		} else {
			record, err = s.idem.CreateProcessing(key, hash, now.Add(idempotencyTTL))
		}
	}
	if err != nil {
		resp, replayErr := s.replay(err, record)
		if replayErr == nil {
			s.metrics.RecordCheckoutIntent(metrics.CheckoutDeduplicated)
		}
		return resp, replayErr
	}

	resp, runErr := s.createRecorded(ctx, identity, order)
	if runErr != nil {
		if derivedKey {
			// Ключ из содержимого корзины не должен блокировать повтор после сбоя.
			s.release(key)
		} else {
			s.cacheFailure(key, runErr)
		}
		return resp, runErr
	}
	s.cacheSuccess(key, resp)
	return resp, nil
}

func (s *Service) createRecorded(ctx context.Context, identity domain.Identity, order domain.Order) (checkout.IntentResponse, error) {
	resp, err := s.create(ctx, identity, order)
	if err != nil {
		s.metrics.RecordCheckoutIntent(metrics.CheckoutFailed)
		return resp, err
	}
	s.metrics.RecordCheckoutIntent(metrics.CheckoutCreated)
	return resp, nil
}

func (s *Service) create(ctx context.Context, identity domain.Identity, order domain.Order) (checkout.IntentResponse, error) {
	logger := s.logger.WithFields(log.Fields{"user_id": identity.UserID, "order_id": order.ID})

	user, err := s.loadUser(identity)
	if err != nil {
		logger.WithError(err).Error("failed to load user for checkout")
		return checkout.IntentResponse{}, err
	}

	customerID, err := s.provider.EnsureCustomer(ctx, user)
	if err != nil {
		logger.WithError(err).Error("failed to get or create payment customer")
		return checkout.IntentResponse{}, fmt.Errorf("ensure customer: %w", err)
	}
	if customerID != user.StripeCustomerID {
		user.StripeCustomerID = customerID
		if err := s.users.Update(user); err != nil {
			logger.WithError(err).Warn("failed to store payment customer id")
		}
	}

	if err := s.orders.Create(order); err != nil {
		logger.WithError(err).Error("failed to create order")
		return checkout.IntentResponse{}, fmt.Errorf("create order: %w", err)
	}
	s.events.Record(order, domain.TimelineOrderCreated, domain.OrderEventCreated, "", order.CreatedAt)

	intent, err := s.provider.CreatePaymentIntent(ctx, domain.PaymentIntentRequest{
		AmountMinor: domain.ToMinorUnits(order.Total),
		Currency:    domain.DefaultCurrency,
		CustomerID:  customerID,
		Metadata: map[string]string{
			metadataOrderID: order.ID,
			metadataUserID:  order.UserID,
		},
	})
	if err != nil {
		logger.WithError(err).Error("failed to create payment intent")
		s.abandon(order, err)
		return checkout.IntentResponse{}, fmt.Errorf("create payment intent: %w", err)
	}

	order.PaymentIntentID = intent.ID
	order.UpdatedAt = s.now()
	if err := s.orders.Save(order); err != nil {
		// Webhook всё равно найдёт заказ по metadata.orderId.
		logger.WithError(err).WithField("intent_id", intent.ID).Warn("failed to record payment intent on order")
	}

	logger.WithField("intent_id", intent.ID).Info("checkout intent created")
	return checkout.IntentResponse{ClientSecret: intent.ClientSecret, OrderID: order.ID}, nil
}

// abandon отменяет заказ, для которого не удалось создать intent.
func (s *Service) abandon(order domain.Order, cause error) {
	now := s.now()
	changed, err := order.MarkPaymentFailed(now)
	if err != nil || !changed {
		return
	}
	if err := s.orders.Save(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to cancel order without payment intent")
		return
	}
	s.events.Record(order, domain.TimelinePaymentFailed, domain.OrderEventPaymentFailed, cause.Error(), now)
}

func (s *Service) loadUser(identity domain.Identity) (domain.User, error) {
	user, err := s.users.Get(identity.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	user, err = s.users.Upsert(identity)
	if err != nil {
		return domain.User{}, fmt.Errorf("sync user: %w", err)
	}
	return user, nil
}

// buildOrder собирает заказ pending/pending со снимком позиций и проверяет его инварианты.
func (s *Service) buildOrder(userID string, req checkout.IntentRequest, now time.Time) (domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ID:         s.newID(),
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Price:      item.Price,
			Size:       item.Size,
			Color:      item.Color,
			CartLineID: item.LineID,
			CreatedAt:  now,
		})
	}

	order := domain.Order{
		ID:            s.newID(),
		UserID:        userID,
		Total:         req.Amount,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		Address:       domain.AddressPlaceholder,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, errors.Join(errs...))
	}
	return order, nil
}
