package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, NewRedisWithClient(client, "test:")
}

// ============================================================================
// Local
// ============================================================================

func TestLocal_Exclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLocal()

	unlock, err := l.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "cleanup", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = l.TryLock(ctx, "integrity", time.Minute)
	assert.NoError(t, err, "keys are independent")

	require.NoError(t, unlock(ctx))
	_, err = l.TryLock(ctx, "cleanup", time.Minute)
	assert.NoError(t, err)
}

func TestLocal_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.clock = func() time.Time { return now }

	stale, err := l.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = l.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err, "expired lock can be taken over")

	// The stale holder must not release the new owner's lock.
	require.NoError(t, stale(ctx))
	_, err = l.TryLock(ctx, "cleanup", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
}

// ============================================================================
// Redis
// ============================================================================

func TestRedis_Exclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, r := setupTestRedis(t)

	unlock, err := r.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, s.Exists("test:cleanup"))

	_, err = r.TryLock(ctx, "cleanup", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock(ctx))
	assert.False(t, s.Exists("test:cleanup"))

	_, err = r.TryLock(ctx, "cleanup", time.Minute)
	assert.NoError(t, err)
}

func TestRedis_ExpiredHolderCannotRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, r := setupTestRedis(t)

	stale, err := r.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)
	_, err = r.TryLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, s.Exists("test:cleanup"), "new owner keeps the lock")

	_, err = r.TryLock(ctx, "cleanup", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestNewRedis_ConnectionFailure(t *testing.T) {
	t.Parallel()

	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	_, err := NewRedis(cfg)
	assert.ErrorContains(t, err, "redis connection failed")
}
