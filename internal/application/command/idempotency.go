// Package command contains write operations (CQRS - Commands). Every
// command enters the engine through saga.RewardFlow.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/pkg/logger"
)

// DefaultIdempotencyTTL is how long a trigger key stays claimed.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyGuard claims trigger keys so a retried trigger is applied once.
type IdempotencyGuard interface {
	// Claim returns false when key is already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// idempotency wraps an optional guard.
type idempotency struct {
	guard IdempotencyGuard
	ttl   time.Duration
	log   *logger.Logger
}

func newIdempotency(guard IdempotencyGuard, ttl time.Duration, log *logger.Logger) idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return idempotency{guard: guard, ttl: ttl, log: log}
}

// claim returns a release func to call when the trigger fails. An empty key
// or a missing guard disables the check.
func (i idempotency) claim(ctx context.Context, op, key string) (release func(), err error) {
	noop := func() {}
	if key == "" || i.guard == nil {
		return noop, nil
	}
	full := op + ":" + key
	ok, err := i.guard.Claim(ctx, full, i.ttl)
	if err != nil {
		return noop, shared.WrapError("engine", "Claim", shared.ErrServiceUnavailable,
			fmt.Sprintf("claim idempotency key %q", key), err)
	}
	if !ok {
		return noop, shared.ErrTriggerReplayed
	}
	return func() {
		if err := i.guard.Release(context.WithoutCancel(ctx), full); err != nil {
			i.log.Warn("failed to release idempotency key", logger.String("key", full), logger.Err(err))
		}
	}, nil
}
