// Package cart реализует корзину покупателя: строки, агрегаты, сохранение и уведомления.
package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPersistTimeout = 2 * time.Second

	msgAdded   = "Added to cart"
	msgRemoved = "Removed from cart"
)

// ShippingFee — фиксированная стоимость доставки непустой корзины.
var ShippingFee = decimal.RequireFromString("30.00")

var (
	// ErrQuantityOutOfRange — количество вне [domain.MinLineQuantity, domain.MaxLineQuantity].
	ErrQuantityOutOfRange = errors.New("cart: quantity out of range")
	// ErrItemNotFound — в корзине нет строки с таким id.
	ErrItemNotFound = errors.New("cart: line item not found")
)

// MutationRecorder учитывает изменения корзины в метриках.
type MutationRecorder interface {
	RecordCartMutation(op string)
}

// StoreOptions задаёт параметры Store.
type StoreOptions struct {
	Logger         *log.Entry
	Notifier       Notifier
	Metrics        MutationRecorder
	PersistTimeout time.Duration
	IDGenerator    func() string
}

// Option настраивает Store.
type Option func(*StoreOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *StoreOptions) {
		opts.Logger = logger
	}
}

// WithNotifier задаёт получателя пользовательских уведомлений.
func WithNotifier(notifier Notifier) Option {
	return func(opts *StoreOptions) {
		opts.Notifier = notifier
	}
}

// WithMetrics задаёт счётчик изменений корзины.
func WithMetrics(metrics MutationRecorder) Option {
	return func(opts *StoreOptions) {
		opts.Metrics = metrics
	}
}

// WithPersistTimeout ограничивает время одного сохранения корзины.
func WithPersistTimeout(timeout time.Duration) Option {
	return func(opts *StoreOptions) {
		opts.PersistTimeout = timeout
	}
}

// WithIDGenerator подменяет генератор id строк (для детерминированных тестов).
func WithIDGenerator(gen func() string) Option {
	return func(opts *StoreOptions) {
		opts.IDGenerator = gen
	}
}

// Store — корзина одного покупателя. Строки хранятся в порядке добавления.
// Каждое изменение целиком сохраняется через domain.CartRepository;
// ошибка сохранения логируется и не откатывает изменение в памяти.
type Store struct {
	// opMu упорядочивает перечитывание из репозитория и изменение внутри процесса.
	opMu sync.Mutex

	mu    sync.Mutex
	key   string
	items []domain.CartLineItem

	repo           domain.CartRepository
	logger         *log.Entry
	notifier       Notifier
	metrics        MutationRecorder
	persistTimeout time.Duration
	newID          func() string
}

// Open загружает корзину по ключу. repo может быть nil: тогда корзина живёт только в памяти.
func Open(ctx context.Context, key string, repo domain.CartRepository, opts ...Option) (*Store, error) {
	s := newStore(key, repo, opts...)
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// New создаёт пустую корзину без загрузки сохранённого состояния.
func New(key string, repo domain.CartRepository, opts ...Option) *Store {
	return newStore(key, repo, opts...)
}

func newStore(key string, repo domain.CartRepository, opts ...Option) *Store {
	options := StoreOptions{
		Logger:         log.WithField("component", "cart"),
		Notifier:       NopNotifier{},
		PersistTimeout: defaultPersistTimeout,
		IDGenerator:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.Logger == nil {
		options.Logger = log.WithField("component", "cart")
	}
	if options.Notifier == nil {
		options.Notifier = NopNotifier{}
	}
	if options.PersistTimeout <= 0 {
		options.PersistTimeout = defaultPersistTimeout
	}
	if options.IDGenerator == nil {
		options.IDGenerator = uuid.NewString
	}

	return &Store{
		key:            key,
		items:          make([]domain.CartLineItem, 0),
		repo:           repo,
		logger:         options.Logger.WithField("cart_key", key),
		notifier:       options.Notifier,
		metrics:        options.Metrics,
		persistTimeout: options.PersistTimeout,
		newID:          options.IDGenerator,
	}
}

// refresh перечитывает корзину из репозитория, дожидаясь текущего изменения.
func (s *Store) refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.load(ctx)
}

// load заменяет строки в памяти сохранённым состоянием. Без репозитория ничего не делает.
func (s *Store) load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	items, err := s.repo.Load(ctx, s.key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.items = append(make([]domain.CartLineItem, 0, len(items)), items...)
	s.mu.Unlock()
	return nil
}

// Key возвращает ключ корзины (id пользователя или анонимной сессии).
func (s *Store) Key() string {
	return s.key
}

// AddItem добавляет товар. Если строка с тем же товаром, размером и цветом уже есть,
// увеличивает её количество. Всегда успешна.
func (s *Store) AddItem(item domain.CartLineItem) domain.CartLineItem {
	if item.Quantity < domain.MinLineQuantity {
		item.Quantity = domain.MinLineQuantity
	}

	s.mu.Lock()
	var line domain.CartLineItem
	merged := false
	for i := range s.items {
		if s.items[i].SameLine(item) {
			s.items[i].Quantity += item.Quantity
			line = s.items[i]
			merged = true
			break
		}
	}
	if !merged {
		item.ID = s.newID()
		s.items = append(s.items, item)
		line = item
	}
	s.persistLocked()
	s.mu.Unlock()

	s.record("add")
	s.notifier.Success(msgAdded)
	return line
}

// RemoveItem удаляет строку по id. Неизвестный id игнорируется.
func (s *Store) RemoveItem(id string) {
	s.mu.Lock()
	removed := false
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		s.persistLocked()
	}
	s.mu.Unlock()

	if removed {
		s.record("remove")
	}
	s.notifier.Success(msgRemoved)
}

// UpdateQuantity выставляет количество строки. Значение вне [1, 10] отклоняется
// с ErrQuantityOutOfRange, неизвестный id — с ErrItemNotFound; корзина не меняется.
func (s *Store) UpdateQuantity(id string, quantity int) error {
	if !domain.QuantityInRange(quantity) {
		return ErrQuantityOutOfRange
	}

	s.mu.Lock()
	found := false
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Quantity = quantity
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	s.persistLocked()
	s.mu.Unlock()

	s.record("update")
	return nil
}

// ClearCart очищает корзину без условий.
func (s *Store) ClearCart() {
	s.mu.Lock()
	s.items = make([]domain.CartLineItem, 0)
	s.persistLocked()
	s.mu.Unlock()

	s.record("clear")
}

// Settle вычитает оплаченные количества из строк корзины. Строка, оплаченная целиком,
// удаляется; строки, добавленные после оформления заказа, остаются.
// Возвращает число затронутых строк.
func (s *Store) Settle(paid []domain.CartLineRef) int {
	s.mu.Lock()
	changed := 0
	for _, ref := range paid {
		if ref.Quantity <= 0 {
			continue
		}
		for i := range s.items {
			if s.items[i].ID != ref.LineID {
				continue
			}
			if s.items[i].Quantity <= ref.Quantity {
				s.items = append(s.items[:i], s.items[i+1:]...)
			} else {
				s.items[i].Quantity -= ref.Quantity
			}
			changed++
			break
		}
	}
	if changed > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	if changed > 0 {
		s.record("settle")
	}
	return changed
}

// Items возвращает копию строк в порядке добавления.
func (s *Store) Items() []domain.CartLineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// TotalItems — сумма количеств по всем строкам.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// Subtotal — Σ(цена × количество).
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtotalLocked()
}

// ShippingCost — ShippingFee для непустой корзины, иначе ноль.
func (s *Store) ShippingCost() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shippingLocked()
}

// Total — subtotal + shipping.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtotalLocked().Add(s.shippingLocked())
}

// Summary возвращает согласованный снимок корзины с агрегатами.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.snapshotLocked()
	totalItems := 0
	for _, item := range items {
		totalItems += item.Quantity
	}
	subtotal := s.subtotalLocked()
	shipping := s.shippingLocked()
	return Summary{
		Items:      items,
		TotalItems: totalItems,
		Subtotal:   subtotal,
		Shipping:   shipping,
		Total:      subtotal.Add(shipping),
	}
}

// Summary — корзина вместе с вычисленными суммами.
type Summary struct {
	Items      []domain.CartLineItem `json:"items"`
	TotalItems int                   `json:"totalItems"`
	Subtotal   decimal.Decimal       `json:"subtotal"`
	Shipping   decimal.Decimal       `json:"shipping"`
	Total      decimal.Decimal       `json:"total"`
}

func (s *Store) subtotalLocked() decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range s.items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

func (s *Store) shippingLocked() decimal.Decimal {
	if len(s.items) == 0 {
		return decimal.Zero
	}
	return ShippingFee
}

func (s *Store) snapshotLocked() []domain.CartLineItem {
	return append(make([]domain.CartLineItem, 0, len(s.items)), s.items...)
}

// persistLocked сохраняет текущее состояние под s.mu, чтобы снимки не обгоняли друг друга.
func (s *Store) persistLocked() {
	if s.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.repo.Save(ctx, s.key, s.snapshotLocked()); err != nil {
		s.logger.WithError(err).WithField("lines", len(s.items)).Warn("failed to persist cart")
	}
}

func (s *Store) record(op string) {
	if s.metrics != nil {
		s.metrics.RecordCartMutation(op)
	}
}
