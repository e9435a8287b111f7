package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLocker(client), mr
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("lock:cleanup"))

	_, ok, err = locker.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("lock:cleanup"))

	_, ok, err = locker.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ExpiresAndKeepsForeignLock(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "cleanup", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock should be free")

	// Старый владелец не должен снять чужую блокировку.
	release()
	assert.True(t, mr.Exists("lock:cleanup"))
}

func TestLocker_RedisUnavailable(t *testing.T) {
	locker, mr := setupLocker(t)
	mr.Close()

	_, ok, err := locker.TryLock(context.Background(), "cleanup", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
}
