package engine

import (
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
)

// XPResult is the outcome of one XP award.
type XPResult struct {
	OldXP    int64
	NewXP    int64
	OldLevel int
	NewLevel int
	Reason   string
}

// Delta returns the XP added.
func (r XPResult) Delta() int64 { return r.NewXP - r.OldXP }

// Changed reports whether XP moved.
func (r XPResult) Changed() bool { return r.NewXP != r.OldXP }

// LeveledUp reports whether the level increased.
func (r XPResult) LeveledUp() bool { return r.NewLevel > r.OldLevel }

// XPEngine converts rewards into XP and keeps the level in sync.
type XPEngine struct {
	metrics Metrics
}

// NewXPEngine creates an XPEngine.
func NewXPEngine(metrics Metrics) *XPEngine {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &XPEngine{metrics: metrics}
}

// AwardXP adds amount to the record and recomputes the level immediately.
// Nothing happens when XP is disabled, amount is not positive, or the
// record is in the legacy global scope.
func (e *XPEngine) AwardXP(sess *stats.Session, amount int64, reason string, settings xp.Settings) XPResult {
	rec := sess.Record()
	res := XPResult{
		OldXP:    rec.XP.XP,
		NewXP:    rec.XP.XP,
		OldLevel: rec.XP.Level,
		NewLevel: rec.XP.Level,
		Reason:   reason,
	}
	if !settings.Enabled || amount <= 0 || rec.Key.Scope.IsLegacy() {
		return res
	}

	res.OldXP, res.NewXP = rec.AddXP(amount, settings.LevelFor)
	res.NewLevel = rec.XP.Level
	e.metrics.XPAwarded(res.Delta())
	return res
}

// BitsXP returns the XP earned by a bit reward, using the pre- or
// post-multiplier amount as the classroom is configured.
func BitsXP(calc ledger.Calculation, settings xp.Settings) int64 {
	amount := calc.FinalAmount
	if settings.BitsXPBasis == xp.BasisBase {
		amount = calc.BaseAmount
	}
	return settings.XPForBits(amount)
}
