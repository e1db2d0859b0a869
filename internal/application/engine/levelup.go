package engine

import (
	"context"
	"fmt"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
	"github.com/classhub/progression-engine/pkg/logger"
)

// LevelUpResult summarizes the rewards of one level-up span.
type LevelUpResult struct {
	FromLevel   int
	ToLevel     int
	Bits        int64
	Multiplier  float64
	Luck        float64
	Discount    float64
	Shields     int
	XPAwarded   int64
	Transaction *ledger.Transaction
	Badges      BadgeResult
}

// StatIncreases counts the attributes the level-up raised.
func (r LevelUpResult) StatIncreases() int {
	n := 0
	for _, v := range []float64{r.Multiplier, r.Luck, r.Discount} {
		if v > 0 {
			n++
		}
	}
	if r.Shields > 0 {
		n++
	}
	return n
}

func (r *LevelUpResult) merge(other LevelUpResult) {
	if r.FromLevel == 0 {
		r.FromLevel = other.FromLevel
	}
	r.ToLevel = other.ToLevel
	r.Bits += other.Bits
	r.Multiplier += other.Multiplier
	r.Luck += other.Luck
	r.Discount += other.Discount
	r.Shields += other.Shields
	r.XPAwarded += other.XPAwarded
	if other.Transaction != nil {
		r.Transaction = other.Transaction
	}
	r.Badges.merge(other.Badges)
}

// LevelUpRewardDistributor grants the rewards of crossed levels.
type LevelUpRewardDistributor struct {
	resolver *reward.Resolver
	ledger   *LedgerWriter
	xp       *XPEngine
	badges   *BadgeEvaluator
	metrics  Metrics
	log      *logger.Logger
}

// NewLevelUpRewardDistributor creates a LevelUpRewardDistributor.
func NewLevelUpRewardDistributor(resolver *reward.Resolver, ledger *LedgerWriter, xpEngine *XPEngine, badges *BadgeEvaluator, metrics Metrics, log *logger.Logger) *LevelUpRewardDistributor {
	if resolver == nil {
		resolver = reward.NewResolver(nil, reward.AggregateAdditiveDelta)
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LevelUpRewardDistributor{
		resolver: resolver,
		ledger:   ledger,
		xp:       xpEngine,
		badges:   badges,
		metrics:  metrics,
		log:      log.With(logger.Component("levelup_distributor")),
	}
}

// LevelUpBits returns the bit reward for the levels in (from, to].
// Scaled rewards pay bitsPerLevel × L for each crossed level L, flat
// rewards pay bitsPerLevel per level gained.
func LevelUpBits(cfg xp.LevelUpRewards, from, to int) int64 {
	if to <= from || cfg.BitsPerLevel <= 0 {
		return 0
	}
	if !cfg.ScaleBitsByLevel {
		return cfg.BitsPerLevel * int64(to-from)
	}
	var sum int64
	for l := from + 1; l <= to; l++ {
		sum += int64(l)
	}
	return cfg.BitsPerLevel * sum
}

// Distribute applies the rewards of the levels in (from, to]. When the
// classroom counts level-up rewards toward XP, they are added as one more
// XP delta and badges are evaluated again at the resulting level.
func (d *LevelUpRewardDistributor) Distribute(ctx context.Context, sess *stats.Session, from, to int, env Env) (LevelUpResult, error) {
	res := LevelUpResult{FromLevel: from, ToLevel: to}
	if to <= from {
		return res, nil
	}
	rec := sess.Record()
	cfg := env.Settings.LevelUpRewards
	gained := to - from

	var bitsXP int64
	if bits := LevelUpBits(cfg, from, to); bits > 0 {
		calc := reward.Calculate(reward.Input{
			BaseAmount:    bits,
			ApplyPersonal: cfg.ApplyPersonalMultiplier,
			ApplyGroup:    cfg.ApplyGroupMultiplier,
			Personal:      d.resolver.Personal(rec),
			Group:         env.GroupMultiplier,
		})
		if tx, ok := d.ledger.Post(sess, Posting{
			Type:        ledger.TypeLevelUpReward,
			Description: fmt.Sprintf("Level up reward: level %d → %d", from, to),
			AssignedBy:  env.ActorID,
			Calculation: calc,
		}); ok {
			res.Transaction = &tx
			res.Bits = tx.Amount
		}
		bitsXP = BitsXP(calc, env.Settings)
	}

	res.Multiplier = cfg.MultiplierPerLevel * float64(gained)
	res.Luck = cfg.LuckPerLevel * float64(gained)
	res.Discount = cfg.DiscountPerLevel * float64(gained)
	rec.AddMultiplier(res.Multiplier)
	rec.AddLuck(res.Luck)
	rec.AddDiscount(res.Discount)

	for l := from + 1; l <= to; l++ {
		if cfg.GrantsShieldAt(l) {
			res.Shields++
		}
	}
	rec.AddShields(res.Shields)
	d.metrics.LevelUp(gained)

	var circular int64
	if cfg.CountBitsTowardXP {
		circular += bitsXP
	}
	if cfg.CountStatsTowardXP {
		circular += env.Settings.XPForStats(res.StatIncreases())
	}
	if circular <= 0 {
		return res, nil
	}

	r := d.xp.AwardXP(sess, circular, "level_up_reward", env.Settings)
	res.XPAwarded = r.Delta()
	if d.badges == nil || !r.Changed() {
		return res, nil
	}
	badges, err := d.badges.Evaluate(ctx, sess, rec.XP.Level, env)
	res.Badges = badges
	if err != nil {
		return res, fmt.Errorf("evaluate badges after level up: %w", err)
	}
	return res, nil
}
