// Package ratelimit ограничивает частоту публичных операций (вход, сброс пароля).
// При заданном redis.addr счётчики общие для всех реплик, иначе живут в памяти процесса.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var ErrUnavailable = errors.New("rate limiter unavailable")

type Limiter interface {
	// Allow учитывает попытку по ключу и сообщает, укладывается ли она в лимит.
	Allow(ctx context.Context, key string) (bool, error)
}

/* ---------- Redis: фиксированное окно INCR+EXPIRE ---------- */

type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := "rl:" + l.prefix + ":" + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count <= l.limit, nil
}

/* ---------- Память: token bucket на ключ ---------- */

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// MemoryLimiter: limit попыток за window с равномерным восстановлением.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.evict(now)
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1), nil
}

// evict убирает ключи, не встречавшиеся дольше окна: их корзины уже полные.
func (l *MemoryLimiter) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, k)
		}
	}
}
