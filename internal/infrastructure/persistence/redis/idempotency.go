package redis

import (
	"context"
	"time"
)

// IdempotencyGuard claims trigger keys with SET NX.
type IdempotencyGuard struct {
	cache *Cache
}

// NewIdempotencyGuard creates a new IdempotencyGuard.
func NewIdempotencyGuard(cache *Cache) *IdempotencyGuard {
	return &IdempotencyGuard{cache: cache}
}

// Claim returns false when key is already held.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.cache.SetNX(ctx, IdempotencyKey(key), time.Now().UTC().Format(time.RFC3339Nano), ttl)
}

// Release drops a claim so the trigger can be retried.
func (g *IdempotencyGuard) Release(ctx context.Context, key string) error {
	return g.cache.Delete(ctx, IdempotencyKey(key))
}
