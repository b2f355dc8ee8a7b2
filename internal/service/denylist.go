package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenDenylist tracks consumed refresh token IDs so a rotated refresh
// token cannot be replayed.
type TokenDenylist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisTokenDenylist marks consumed JTIs in Redis with a TTL equal to the
// token's remaining lifetime, after which the token is rejected by expiry
// anyway.
type RedisTokenDenylist struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenDenylist constructs a Redis-backed denylist.
func NewRedisTokenDenylist(client *redis.Client) *RedisTokenDenylist {
	return &RedisTokenDenylist{client: client, prefix: "revoked_jti:"}
}

// Revoke marks the JTI as consumed.
func (d *RedisTokenDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.prefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("denylist revoke %s: %w", jti, err)
	}
	return nil
}

// IsRevoked reports whether the JTI was already consumed.
func (d *RedisTokenDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("denylist lookup %s: %w", jti, err)
	}
	return n > 0, nil
}

// NoopDenylist is used when Redis is not configured; rotation then matches
// the pre-hardening behaviour where an old refresh token stays valid until
// expiry.
type NoopDenylist struct{}

// Revoke does nothing.
func (NoopDenylist) Revoke(context.Context, string, time.Duration) error { return nil }

// IsRevoked always reports false.
func (NoopDenylist) IsRevoked(context.Context, string) (bool, error) { return false, nil }
