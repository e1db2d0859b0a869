package engine

import (
	"context"
	"fmt"

	"github.com/classhub/progression-engine/internal/domain/badge"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/pkg/logger"
)

// EarnedBadge is a badge granted during one evaluation.
type EarnedBadge struct {
	Badge       badge.Badge
	Transaction *ledger.Transaction
}

// BadgeResult summarizes one Evaluate call.
type BadgeResult struct {
	Earned    []EarnedBadge
	XPAwarded int64
	Passes    int
}

// merge appends other to r.
func (r *BadgeResult) merge(other BadgeResult) {
	r.Earned = append(r.Earned, other.Earned...)
	r.XPAwarded += other.XPAwarded
	r.Passes += other.Passes
}

// BadgeEvaluator grants the badges a level unlocks.
type BadgeEvaluator struct {
	catalog       badge.Catalog
	notifications notification.Repository
	resolver      *reward.Resolver
	ledger        *LedgerWriter
	xp            *XPEngine
	ids           IDGenerator
	opts          Options
	metrics       Metrics
	log           *logger.Logger
}

// BadgeEvaluatorDeps lists BadgeEvaluator collaborators.
type BadgeEvaluatorDeps struct {
	Catalog       badge.Catalog
	Notifications notification.Repository
	Resolver      *reward.Resolver
	Ledger        *LedgerWriter
	XP            *XPEngine
	IDs           IDGenerator
	Options       Options
	Metrics       Metrics
	Logger        *logger.Logger
}

// NewBadgeEvaluator creates a BadgeEvaluator.
func NewBadgeEvaluator(deps BadgeEvaluatorDeps) *BadgeEvaluator {
	if deps.IDs == nil {
		deps.IDs = NewUUID
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Resolver == nil {
		deps.Resolver = reward.NewResolver(nil, reward.AggregateAdditiveDelta)
	}
	return &BadgeEvaluator{
		catalog:       deps.Catalog,
		notifications: deps.Notifications,
		resolver:      deps.Resolver,
		ledger:        deps.Ledger,
		xp:            deps.XP,
		ids:           deps.IDs,
		opts:          deps.Options,
		metrics:       deps.Metrics,
		log:           deps.Logger.With(logger.Component("badge_evaluator")),
	}
}

// Evaluate grants every badge with LevelRequired <= level that the record
// does not hold yet, in ascending LevelRequired order. Rewards are applied
// per badge. The XP the badges carry is added once after the scan.
//
// In single-pass mode a level reached through that XP is not scanned again
// in this call. With Options.FixedPoint the scan repeats at the new level
// until nothing unlocks or the pass cap is hit.
//
// A badge_earned notification is skipped when the repository already holds
// one for the same user and badge. If that lookup fails the dedupe fails
// open: the failure is logged and the notification is still queued.
func (e *BadgeEvaluator) Evaluate(ctx context.Context, sess *stats.Session, level int, env Env) (BadgeResult, error) {
	var res BadgeResult
	rec := sess.Record()
	if rec.Key.Scope.IsLegacy() || e.catalog == nil {
		return res, nil
	}

	catalog, err := e.catalog.ListByClassroom(ctx, rec.Key.Scope.ClassroomID())
	if err != nil {
		return res, fmt.Errorf("list badges: %w", err)
	}

	for pass := 0; pass < e.opts.passes(); pass++ {
		if pass > 0 {
			level = rec.XP.Level
		}
		unlock := badge.Unlockable(catalog, level, rec.HasBadge)
		if len(unlock) == 0 {
			break
		}
		res.merge(e.scan(ctx, sess, unlock, env))
	}
	return res, nil
}

func (e *BadgeEvaluator) scan(ctx context.Context, sess *stats.Session, unlock []badge.Badge, env Env) BadgeResult {
	rec := sess.Record()
	settings := env.Settings
	res := BadgeResult{Passes: 1}

	var xpDelta int64
	for _, b := range unlock {
		if !rec.AddBadge(b.ID, sess.Now()) {
			continue
		}
		earned := EarnedBadge{Badge: b}

		if b.Rewards.Bits != 0 {
			calc := reward.Calculate(reward.Input{
				BaseAmount:    b.Rewards.Bits,
				ApplyPersonal: b.Rewards.ApplyPersonalMultiplier,
				ApplyGroup:    b.Rewards.ApplyGroupMultiplier,
				Personal:      e.resolver.Personal(rec),
				Group:         env.GroupMultiplier,
			})
			if tx, ok := e.ledger.Post(sess, Posting{
				Type:        ledger.TypeBadgeReward,
				Description: "Badge reward: " + b.Name,
				AssignedBy:  env.ActorID,
				Calculation: calc,
			}); ok {
				earned.Transaction = &tx
			}
			xpDelta += BitsXP(calc, settings)
		}

		rec.AddMultiplier(b.Rewards.Multiplier)
		rec.AddLuck(b.Rewards.Luck)
		rec.AddDiscount(b.Rewards.Discount)
		rec.AddShields(b.Rewards.Shield)

		xpDelta += settings.BadgeUnlockRate + settings.XPForStats(b.Rewards.StatIncreases())
		res.Earned = append(res.Earned, earned)
		e.metrics.BadgeEarned()
		e.notifyEarned(ctx, sess, earned, env)
	}

	if xpDelta > 0 {
		r := e.xp.AwardXP(sess, xpDelta, "badge_unlock", settings)
		res.XPAwarded = r.Delta()
	}
	rec.RecomputeLevel(settings.LevelFor)
	return res
}

func (e *BadgeEvaluator) notifyEarned(ctx context.Context, sess *stats.Session, earned EarnedBadge, env Env) {
	key := sess.Key()
	b := earned.Badge

	if e.notifications != nil {
		exists, err := e.notifications.ExistsBadgeEarned(ctx, key.UserID, b.ID)
		if err != nil {
			e.log.Warn("badge notification dedupe check failed",
				logger.UserID(key.UserID), logger.BadgeID(b.ID), logger.Err(err))
		}
		if exists {
			return
		}
	}

	data := map[string]any{
		"badgeId":       b.ID,
		"badgeName":     b.Name,
		"levelRequired": b.LevelRequired,
		"rewards":       b.Rewards,
	}
	if earned.Transaction != nil {
		data["transactionId"] = earned.Transaction.ID
		data["bits"] = earned.Transaction.Amount
	}
	sess.Notify(notification.Notification{
		ID:          e.ids(),
		Type:        notification.TypeBadgeEarned,
		UserID:      key.UserID,
		ClassroomID: key.Scope.ClassroomID(),
		ActorID:     env.ActorID,
		BadgeID:     b.ID,
		Message:     fmt.Sprintf("You earned the %q badge", b.Name),
		Data:        data,
		CreatedAt:   sess.Now(),
	})
}
