package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Level, progress to the next level and current effective stats.
// Temporary effects are evaluated at read time.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery selects one record.
type GetProgressQuery struct {
	UserID      string
	ClassroomID string
}

// ProgressView is the read model for a student's progression.
type ProgressView struct {
	UserID      string
	ClassroomID string
	Legacy      bool

	Balance            int64
	PersonalMultiplier float64
	GroupMultiplier    float64
	Luck               float64
	Discount           float64
	DiscountExpiresAt  *time.Time
	ShieldCount        int
	ShieldActive       bool

	Progress     xp.Progress
	XPEnabled    bool
	EarnedBadges []stats.EarnedBadge
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	store    stats.Store
	settings xp.SettingsRepository
	resolver *reward.Resolver
	clock    shared.Clock
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(store stats.Store, settings xp.SettingsRepository, resolver *reward.Resolver, clock shared.Clock) *GetProgressHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if resolver == nil {
		resolver = reward.NewResolver(nil, reward.AggregateAdditiveDelta)
	}
	return &GetProgressHandler{store: store, settings: settings, resolver: resolver, clock: clock}
}

// Handle executes the query. A student without a record gets the defaults
// of a fresh record.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressView, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, shared.ErrEmptyUserID
	}
	key, err := stats.NewKey(q.UserID, q.ClassroomID)
	if err != nil {
		return nil, err
	}
	now := h.clock.Now()

	rec, err := h.store.Get(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		rec = stats.NewRecord(key, now)
	} else if err != nil {
		return nil, err
	}

	settings := xp.DefaultSettings()
	if !key.Scope.IsLegacy() && h.settings != nil {
		if settings, err = h.settings.Get(ctx, key.Scope.ClassroomID()); err != nil {
			return nil, err
		}
	}
	settings = settings.Normalize()

	group, err := h.resolver.Group(ctx, key.UserID, key.Scope)
	if err != nil {
		return nil, err
	}

	view := &ProgressView{
		UserID:             key.UserID,
		ClassroomID:        key.Scope.ClassroomID(),
		Legacy:             key.Scope.IsLegacy(),
		Balance:            rec.Stats.Balance,
		PersonalMultiplier: h.resolver.Personal(rec),
		GroupMultiplier:    group,
		Luck:               rec.Stats.Passive.Luck,
		Discount:           rec.EffectiveDiscount(now),
		ShieldCount:        rec.Stats.ShieldCount,
		ShieldActive:       rec.ShieldActive(),
		Progress:           xp.ComputeProgress(rec.XP.XP, settings.LevelingFormula, settings.BaseXPForLevel2),
		XPEnabled:          settings.Enabled && !key.Scope.IsLegacy(),
		EarnedBadges:       rec.XP.EarnedBadges,
	}
	if view.Discount > 0 {
		view.DiscountExpiresAt = rec.Stats.Passive.DiscountExpiresAt
	}
	return view, nil
}
