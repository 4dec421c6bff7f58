// Package lock provides short-lived named locks used to keep two workers
// from running the same workflow stage for a tenant at the same time.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained means another holder owns the lock.
var ErrNotObtained = errors.New("lock not obtained")

type Lock interface {
	// Refresh extends the lock by ttl. It fails with ErrNotObtained once
	// the lock has expired or changed hands.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RedisLocker shares locks across processes through Redis.
type RedisLocker struct {
	client *redislock.Client
	prefix string
}

func NewRedisLocker(rdb redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		prefix: prefix,
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lk, err := l.client.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return &redisLock{lock: lk}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (r *redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	err := r.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrNotObtained
	}
	return err
}

func (r *redisLock) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// MemoryLocker is the single-process fallback when Redis is not configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (l *MemoryLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, ErrNotObtained
	}
	expires := now.Add(ttl)
	l.held[key] = expires
	return &memoryLock{locker: l, key: key, expires: expires}, nil
}

type memoryLock struct {
	locker  *MemoryLocker
	key     string
	expires time.Time
}

func (m *memoryLock) Refresh(_ context.Context, ttl time.Duration) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	now := m.locker.now()
	current, ok := m.locker.held[m.key]
	if !ok || !current.Equal(m.expires) || !now.Before(current) {
		return ErrNotObtained
	}
	m.expires = now.Add(ttl)
	m.locker.held[m.key] = m.expires
	return nil
}

// Release is a no-op when the lock already expired and was taken by
// someone else.
func (m *memoryLock) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	if current, ok := m.locker.held[m.key]; ok && current.Equal(m.expires) {
		delete(m.locker.held, m.key)
	}
	return nil
}
