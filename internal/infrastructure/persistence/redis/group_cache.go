package redis

import (
	"context"
	"errors"
	"time"

	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/pkg/logger"
)

// GroupMultiplierCache caches reward.MultiplierSource lookups in one hash per
// classroom, keyed by user id. Redis failures fall through to the source.
type GroupMultiplierCache struct {
	cache *Cache
	next  reward.MultiplierSource
	ttl   time.Duration
	log   *logger.Logger
}

// NewGroupMultiplierCache wraps next.
func NewGroupMultiplierCache(cache *Cache, next reward.MultiplierSource, ttl time.Duration, log *logger.Logger) *GroupMultiplierCache {
	if ttl <= 0 {
		ttl = TTLGroupMultipliers
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GroupMultiplierCache{cache: cache, next: next, ttl: ttl, log: log.With(logger.Component("group_multiplier_cache"))}
}

// ApprovedMultipliers implements reward.MultiplierSource.
func (c *GroupMultiplierCache) ApprovedMultipliers(ctx context.Context, classroomID, userID string) ([]reward.GroupMultiplier, error) {
	key := GroupMultipliersKey(classroomID)

	var cached []reward.GroupMultiplier
	err := c.cache.HGetJSON(ctx, key, userID, &cached)
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, ErrCacheMiss):
		c.log.Warn("group multiplier cache read failed", logger.ClassroomID(classroomID), logger.UserID(userID), logger.Err(err))
	}

	values, err := c.next.ApprovedMultipliers(ctx, classroomID, userID)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = []reward.GroupMultiplier{}
	}
	if err := c.cache.HSetJSON(ctx, key, userID, values, c.ttl); err != nil {
		c.log.Warn("group multiplier cache write failed", logger.ClassroomID(classroomID), logger.Err(err))
	}
	return values, nil
}

// InvalidateClassroom drops every cached entry of a classroom.
func (c *GroupMultiplierCache) InvalidateClassroom(ctx context.Context, classroomID string) error {
	return c.cache.Delete(ctx, GroupMultipliersKey(classroomID))
}
