package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	first, err := l.Obtain(ctx, "t1:dues", time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "t1:dues", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	other, err := l.Obtain(ctx, "t2:dues", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := l.Obtain(ctx, "t1:dues", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Releasing the expired lock must not free the new holder's lock.
	require.NoError(t, stale.Release(ctx))
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLocker_Refresh(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	held, err := l.Obtain(ctx, "k", 10*time.Second)
	require.NoError(t, err)

	now = now.Add(8 * time.Second)
	require.NoError(t, held.Refresh(ctx, 10*time.Second))

	now = now.Add(8 * time.Second)
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	now = now.Add(8 * time.Second)
	assert.ErrorIs(t, held.Refresh(ctx, 10*time.Second), ErrNotObtained)

	fresh, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, held.Refresh(ctx, time.Minute), ErrNotObtained)

	require.NoError(t, held.Release(ctx))
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)
	require.NoError(t, fresh.Release(ctx))
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := NewRedisLocker(rdb, "test:"+uuid.NewString()+":")
	ctx := context.Background()

	held, err := l.Obtain(ctx, "run", 5*time.Second)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "run", 5*time.Second)
	assert.ErrorIs(t, err, ErrNotObtained)
	require.NoError(t, held.Refresh(ctx, 10*time.Second))

	require.NoError(t, held.Release(ctx))
	assert.ErrorIs(t, held.Refresh(ctx, time.Second), ErrNotObtained)
	again, err := l.Obtain(ctx, "run", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
