package engine

import (
	"context"
	"fmt"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/pkg/logger"
)

// ProgressionResult summarizes everything an XP gain set off.
type ProgressionResult struct {
	XP       XPResult
	Badges   BadgeResult
	LevelUp  *LevelUpResult
	Warnings []string
}

// FinalLevel returns the level after all steps.
func (r ProgressionResult) FinalLevel() int {
	return r.XP.NewLevel
}

// Progression chains XP, badges and level-up rewards for one XP gain.
type Progression struct {
	xp       *XPEngine
	badges   *BadgeEvaluator
	levelUps *LevelUpRewardDistributor
	ids      IDGenerator
	opts     Options
	log      *logger.Logger
}

// NewProgression creates a Progression.
func NewProgression(xpEngine *XPEngine, badges *BadgeEvaluator, levelUps *LevelUpRewardDistributor, ids IDGenerator, opts Options, log *logger.Logger) *Progression {
	if ids == nil {
		ids = NewUUID
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Progression{
		xp:       xpEngine,
		badges:   badges,
		levelUps: levelUps,
		ids:      ids,
		opts:     opts,
		log:      log.With(logger.Component("progression")),
	}
}

// Advance awards amount XP and then runs badge evaluation and level-up
// rewards. Failures of later steps are logged and returned as warnings;
// what was applied before them stays applied.
//
// Level-up rewards are paid for every level above the record's rewarded
// watermark, so levels left unpaid by an earlier call are settled here.
// One level_up notification covers the whole climb. Levels reached through
// level-up reward XP after the last pass stay above the watermark and
// their rewards wait for the next XP gain.
func (p *Progression) Advance(ctx context.Context, sess *stats.Session, amount int64, env Env) ProgressionResult {
	rec := sess.Record()
	fromLevel := rec.XP.Level
	rewarded := rec.XP.RewardedThrough()

	first := p.xp.AwardXP(sess, amount, env.Reason, env.Settings)
	res := ProgressionResult{XP: first}
	if !first.Changed() {
		return res
	}

	if p.badges != nil {
		b, err := p.badges.Evaluate(ctx, sess, rec.XP.Level, env)
		res.Badges.merge(b)
		if err != nil {
			res.Warnings = append(res.Warnings, p.warn(sess, "evaluate badges", err))
		}
	}

	if p.levelUps != nil {
		for pass := 0; pass < p.opts.passes() && rec.XP.Level > rewarded; pass++ {
			to := rec.XP.Level
			lu, err := p.levelUps.Distribute(ctx, sess, rewarded, to, env)
			if res.LevelUp == nil {
				res.LevelUp = &LevelUpResult{}
			}
			res.LevelUp.merge(lu)
			rewarded = to
			if err != nil {
				res.Warnings = append(res.Warnings, p.warn(sess, "distribute level up rewards", err))
				break
			}
		}
		rec.XP.RewardedLevel = rewarded
	}

	res.XP.OldXP = first.OldXP
	res.XP.OldLevel = fromLevel
	res.XP.NewXP = rec.XP.XP
	res.XP.NewLevel = rec.XP.Level
	if res.XP.NewLevel > fromLevel {
		sess.Notify(p.levelUpNotification(sess, fromLevel, res, env))
		p.log.Debug("level up",
			logger.UserID(sess.Key().UserID),
			logger.ClassroomID(sess.Key().Scope.ClassroomID()),
			logger.XPAmount(res.XP.NewXP-res.XP.OldXP),
			logger.LevelValue(res.XP.NewLevel),
		)
	}
	return res
}

func (p *Progression) levelUpNotification(sess *stats.Session, from int, res ProgressionResult, env Env) notification.Notification {
	key := sess.Key()
	to := res.XP.NewLevel
	data := map[string]any{
		"fromLevel": from,
		"toLevel":   to,
		"xp":        res.XP.NewXP,
	}
	if lu := res.LevelUp; lu != nil {
		data["bits"] = lu.Bits
		data["multiplier"] = lu.Multiplier
		data["luck"] = lu.Luck
		data["discount"] = lu.Discount
		data["shields"] = lu.Shields
		data["rewardedThrough"] = lu.ToLevel
	}
	return notification.Notification{
		ID:          p.ids(),
		Type:        notification.TypeLevelUp,
		UserID:      key.UserID,
		ClassroomID: key.Scope.ClassroomID(),
		ActorID:     env.ActorID,
		Message:     fmt.Sprintf("Level up! You reached level %d", to),
		Data:        data,
		CreatedAt:   sess.Now(),
	}
}

func (p *Progression) warn(sess *stats.Session, step string, err error) string {
	key := sess.Key()
	p.log.Warn("progression step failed",
		logger.String("step", step),
		logger.UserID(key.UserID),
		logger.ClassroomID(key.Scope.ClassroomID()),
		logger.Err(err),
	)
	return fmt.Sprintf("%s: %v", step, err)
}
