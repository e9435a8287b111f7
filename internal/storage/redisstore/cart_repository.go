// Package redisstore хранит корзины покупателей в Redis и выдаёт межрепликовые блокировки.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultCartTTL — сколько живёт брошенная корзина. Каждое сохранение продлевает срок.
const DefaultCartTTL = 30 * 24 * time.Hour

// CartRepository сохраняет строки корзины одним JSON-значением под ключом cart:<key>.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository создаёт хранилище корзин. ttl <= 0 заменяется на DefaultCartTTL.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &CartRepository{client: client, ttl: ttl}
}

// Load возвращает пустой срез, если корзины нет или срок её хранения истёк.
func (r *CartRepository) Load(ctx context.Context, key string) ([]domain.CartLineItem, error) {
	data, err := r.client.Get(ctx, cartKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []domain.CartLineItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var items []domain.CartLineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return items, nil
}

// Save заменяет содержимое корзины; пустая корзина удаляет ключ.
func (r *CartRepository) Save(ctx context.Context, key string, items []domain.CartLineItem) error {
	if len(items) == 0 {
		return r.Delete(ctx, key)
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := r.client.Set(ctx, cartKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, cartKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

// Ping используется health-проверкой.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func cartKey(key string) string {
	return fmt.Sprintf("cart:%s", key)
}

var _ domain.CartRepository = (*CartRepository)(nil)
