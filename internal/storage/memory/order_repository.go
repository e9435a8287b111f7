package memory

import (
	"cmp"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepository держит заказы в памяти с индексом по пользователю.
type orderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	byUser map[string][]string
}

func NewOrderRepository() domain.OrderRepository {
	return &orderRepository{
		orders: make(map[string]domain.Order),
		byUser: make(map[string][]string),
	}
}

// Create отвергает повторный ID так же, как unique-ограничение в PostgreSQL.
func (r *orderRepository) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderVersionConflict
	}
	r.orders[order.ID] = cloneOrder(order)
	r.byUser[order.UserID] = append(r.byUser[order.UserID], order.ID)
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if order, ok := r.orders[id]; ok {
		return cloneOrder(order), nil
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (r *orderRepository) ListByUser(userID string, filter domain.OrderListFilter) ([]domain.Order, int, error) {
	r.mu.RLock()
	var matched []domain.Order
	for _, id := range r.byUser[userID] {
		if order := r.orders[id]; filter.Status == "" || order.Status == filter.Status {
			matched = append(matched, order)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, newestFirst)

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	page := make([]domain.Order, 0, end-start)
	for _, order := range matched[start:end] {
		page = append(page, cloneOrder(order))
	}
	return page, total, nil
}

// Save пишет заказ, только если его версия совпадает с сохранённой, и увеличивает её.
func (r *orderRepository) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case stored.Version != order.Version:
		return domain.ErrOrderVersionConflict
	}
	// позиции неизменяемы после создания
	order.Items = stored.Items
	order.Version++
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

// newestFirst повторяет ORDER BY created_at DESC, id DESC.
func newestFirst(a, b domain.Order) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

var _ domain.OrderRepository = (*orderRepository)(nil)
