package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/shared"
)

// NotificationRepository is an in-memory notification.Repository.
type NotificationRepository struct {
	mu    sync.RWMutex
	items []notification.Notification
}

// NewNotificationRepository creates an empty repository.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{}
}

// Save implements notification.Repository.
func (r *NotificationRepository) Save(ctx context.Context, n notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

// ExistsBadgeEarned implements notification.Repository.
func (r *NotificationRepository) ExistsBadgeEarned(ctx context.Context, userID, badgeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.ContainsFunc(r.items, func(n notification.Notification) bool {
		return n.Type == notification.TypeBadgeEarned && n.UserID == userID && n.BadgeID == badgeID
	}), nil
}

// ListByUser implements notification.Repository. Oldest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []notification.Notification
	for _, n := range r.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// All returns every stored notification in insertion order.
func (r *NotificationRepository) All() []notification.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.items)
}

// IdempotencyGuard remembers claimed trigger keys until they expire.
type IdempotencyGuard struct {
	mu     sync.Mutex
	clock  shared.Clock
	claims map[string]time.Time
}

// NewIdempotencyGuard creates an empty guard.
func NewIdempotencyGuard(clock shared.Clock) *IdempotencyGuard {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &IdempotencyGuard{clock: clock, claims: make(map[string]time.Time)}
}

// Claim records key and returns false when it is already held.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if exp, ok := g.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.claims[key] = now.Add(ttl)
	return true, nil
}

// Release drops a claim so the trigger can be retried.
func (g *IdempotencyGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}
