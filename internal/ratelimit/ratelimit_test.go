package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLimiter(client, "login", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}
	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	// другой ключ считается отдельно
	ok, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, time.Minute, mr.TTL("rl:login:10.0.0.1"))
	mr.FastForward(time.Minute + time.Second)

	ok, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLimiter(client, "reset", 3, time.Minute)
	mr.SetError("READONLY")

	_, err := l.Allow(context.Background(), "k")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)

	// за половину окна восстанавливается одна попытка
	now = now.Add(31 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryLimiter_EvictsIdleKeys(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a")
	now = now.Add(2 * time.Minute)
	_, _ = l.Allow(ctx, "b")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "a")
	assert.Contains(t, l.buckets, "b")
}
