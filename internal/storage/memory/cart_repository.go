package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartRepository хранит корзины в памяти процесса. Используется, когда Redis не настроен.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string][]domain.CartLineItem
}

// NewCartRepository создаёт in-memory хранилище корзин.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string][]domain.CartLineItem)}
}

// Load возвращает сохранённые строки или пустой срез для неизвестного ключа.
func (r *CartRepository) Load(_ context.Context, key string) ([]domain.CartLineItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.CartLineItem(nil), r.carts[key]...), nil
}

// Save полностью заменяет содержимое корзины.
func (r *CartRepository) Save(_ context.Context, key string, items []domain.CartLineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(items) == 0 {
		delete(r.carts, key)
		return nil
	}
	r.carts[key] = append([]domain.CartLineItem(nil), items...)
	return nil
}

// Delete удаляет корзину.
func (r *CartRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts, key)
	return nil
}

var _ domain.CartRepository = (*CartRepository)(nil)
