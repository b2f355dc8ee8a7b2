package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter bounds request volume per key over a continuously sliding window.
// Allow reports whether the request is admitted and, when throttled, how
// long the caller should wait before the window slides past the oldest hit.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RedisLimiter implements a sliding window over a Redis sorted set of
// request timestamps. Each attempt is recorded and counted in a single
// pipeline so concurrent checks never observe the same count; an attempt
// the count proves over budget removes its own member and is rejected.
// Members carry a random suffix so hits in the same nanosecond stay
// distinct.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter builds a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "ratelimit:"}
}

// Allow checks and records one request attempt for the key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := time.Now().UTC()
	redisKey := l.prefix + key
	windowStart := now.Add(-l.window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check %s: %w", key, err)
	}

	if int(countCmd.Val()) > l.limit {
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit rollback %s: %w", key, err)
		}
		oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		retryAfter := l.window
		if err == nil && len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = l.window - now.Sub(oldestAt)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return false, retryAfter, nil
	}

	return true, 0, nil
}

// MemoryLimiter is the in-process fallback used when Redis is not
// configured. Timestamps are pruned on every check so idle keys do not
// grow without bound.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewMemoryLimiter builds an in-memory limiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Allow checks and records one request attempt for the key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	kept := l.hits[key][:0]
	for _, ts := range l.hits[key] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		retryAfter := l.window - now.Sub(kept[0])
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.hits[key] = kept
		return false, retryAfter, nil
	}

	l.hits[key] = append(kept, now)
	return true, 0, nil
}
