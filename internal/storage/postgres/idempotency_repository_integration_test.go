package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestIdempotencyRepository_Postgres(t *testing.T) {
	store := migratedStore(t)
	repo := NewIdempotencyRepository(store)
	now := time.Now().UTC()

	t.Run("claim then finish", func(t *testing.T) {
		ttl := now.Add(2 * time.Hour).Round(time.Second)
		claim, err := repo.CreateProcessing("user_1:checkout-1", "hash-1", ttl)
		require.NoError(t, err)
		assert.Equal(t, domain.IdempotencyStatusProcessing, claim.Status)

		require.NoError(t, repo.MarkDone("user_1:checkout-1", []byte(`{"client_secret":"pi_secret"}`), 200))

		got, err := repo.Get("user_1:checkout-1")
		require.NoError(t, err)
		assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
		assert.Equal(t, 200, got.HTTPStatus)
		assert.JSONEq(t, `{"client_secret":"pi_secret"}`, string(got.ResponseBody))
		assert.True(t, got.TTLAt.Equal(ttl), "ttl %s != %s", got.TTLAt, ttl)
	})

	t.Run("live key conflicts", func(t *testing.T) {
		_, err := repo.CreateProcessing("user_2:checkout", "hash-a", now.Add(time.Hour))
		require.NoError(t, err)

		existing, err := repo.CreateProcessing("user_2:checkout", "hash-a", now.Add(time.Hour))
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
		assert.Equal(t, "hash-a", existing.RequestHash)

		_, err = repo.CreateProcessing("user_2:checkout", "hash-b", now.Add(time.Hour))
		require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	})

	t.Run("expired key is reclaimed", func(t *testing.T) {
		_, err := repo.CreateProcessing("user_3:checkout", "old-hash", now.Add(-time.Minute))
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed("user_3:checkout", []byte(`{"error":"stripe unavailable"}`), 502))

		reclaimed, err := repo.CreateProcessing("user_3:checkout", "new-hash", now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, domain.IdempotencyStatusProcessing, reclaimed.Status)

		got, err := repo.Get("user_3:checkout")
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.RequestHash)
		assert.Zero(t, got.HTTPStatus)
		assert.Empty(t, got.ResponseBody)
	})

	t.Run("release frees a live key", func(t *testing.T) {
		_, err := repo.CreateProcessing("user_3:auto", "hash-a", now.Add(time.Hour))
		require.NoError(t, err)

		require.NoError(t, repo.Release("user_3:auto"))
		_, err = repo.Get("user_3:auto")
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

		claim, err := repo.CreateProcessing("user_3:auto", "hash-b", now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "hash-b", claim.RequestHash)
		require.NoError(t, repo.Release("user_3:never"))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := repo.Get("nobody")
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
		require.ErrorIs(t, repo.MarkDone("nobody", nil, 200), domain.ErrIdempotencyKeyNotFound)
	})
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := migratedStore(t)
	repo := NewIdempotencyRepository(store)
	now := time.Now().UTC()

	for i, ttl := range []time.Duration{-5 * time.Minute, -4 * time.Minute, -3 * time.Minute, time.Hour} {
		_, err := repo.CreateProcessing(string(rune('a'+i)), "hash", now.Add(ttl))
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = repo.Get("c")
	require.NoError(t, err, "the newest expired key survives a limited batch")

	removed, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get("d")
	require.NoError(t, err)
}
