package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func setupCartRepository(t *testing.T, ttl time.Duration) (*CartRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCartRepository(client, ttl), mr
}

func sampleLines() []domain.CartLineItem {
	return []domain.CartLineItem{
		{
			ID:        "line-1",
			ProductID: "p-1",
			Title:     "Air Max",
			Price:     decimal.RequireFromString("50.00"),
			Quantity:  3,
			Size:      "42",
			Color:     domain.LineColor{Name: "Red", Hex: "#ff0000"},
			Brand:     "Nike",
		},
	}
}

func TestCartRepository_SaveLoadRoundTrip(t *testing.T) {
	repo, mr := setupCartRepository(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "user_1", sampleLines()))
	assert.True(t, mr.Exists("cart:user_1"))
	assert.Equal(t, time.Hour, mr.TTL("cart:user_1"))

	got, err := repo.Load(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Air Max", got[0].Title)
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "#ff0000", got[0].Color.Hex)
}

func TestCartRepository_MissingAndExpired(t *testing.T) {
	repo, mr := setupCartRepository(t, time.Minute)
	ctx := context.Background()

	got, err := repo.Load(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Save(ctx, "guest", sampleLines()))
	mr.FastForward(2 * time.Minute)

	got, err = repo.Load(ctx, "guest")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCartRepository_EmptySaveDeletes(t *testing.T) {
	repo, mr := setupCartRepository(t, 0)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "user_2", sampleLines()))
	assert.Equal(t, DefaultCartTTL, mr.TTL("cart:user_2"))

	require.NoError(t, repo.Save(ctx, "user_2", nil))
	assert.False(t, mr.Exists("cart:user_2"))

	require.NoError(t, repo.Save(ctx, "user_2", sampleLines()))
	require.NoError(t, repo.Delete(ctx, "user_2"))
	assert.False(t, mr.Exists("cart:user_2"))
}

func TestCartRepository_CorruptValue(t *testing.T) {
	repo, mr := setupCartRepository(t, time.Minute)
	require.NoError(t, mr.Set("cart:broken", "not-json"))

	_, err := repo.Load(context.Background(), "broken")
	assert.Error(t, err)
}

func TestCartRepository_Ping(t *testing.T) {
	repo, mr := setupCartRepository(t, time.Minute)
	require.NoError(t, repo.Ping(context.Background()))

	mr.Close()
	assert.Error(t, repo.Ping(context.Background()))
}
