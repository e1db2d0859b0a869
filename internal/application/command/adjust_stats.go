package command

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/classhub/progression-engine/internal/application/engine"
	"github.com/classhub/progression-engine/internal/application/saga"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST STATS COMMAND
// Changes passive attributes and shields: item usage and manual teacher
// adjustments. Item usage may cost bits. A discount can be timed; it then
// expires on its own when read after the deadline.
// ══════════════════════════════════════════════════════════════════════════════

// AdjustStatsCommand contains the data to adjust stats.
type AdjustStatsCommand struct {
	UserID      string
	ClassroomID string
	ActorID     string
	Reason      string

	// Additive deltas.
	Multiplier float64
	Luck       float64
	Discount   float64
	Shields    int

	// SetDiscount replaces the discount instead of adding Discount.
	SetDiscount *float64
	// DiscountDuration > 0 makes the resulting discount temporary.
	DiscountDuration time.Duration

	// Cost is debited as an item_usage entry before the stats change.
	Cost int64

	// AwardStatXP grants XP for each attribute that increased.
	AwardStatXP bool

	IdempotencyKey string
}

// Validate validates the command.
func (c AdjustStatsCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	for _, v := range []float64{c.Multiplier, c.Luck, c.Discount} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return shared.NewDomainError("command", "AdjustStats", shared.ErrInvalidInput, "stat deltas must be finite")
		}
	}
	if c.Cost < 0 {
		return shared.NewDomainError("command", "AdjustStats", shared.ErrValueOutOfRange, "cost must not be negative")
	}
	if c.DiscountDuration < 0 {
		return shared.NewDomainError("command", "AdjustStats", shared.ErrValueOutOfRange, "discount duration must not be negative")
	}
	return nil
}

// AdjustStatsResult contains the result of a stat adjustment.
type AdjustStatsResult struct {
	Record        *stats.Record
	StatIncreases int
	Transaction   *ledger.Transaction
	Progression   engine.ProgressionResult
	Warnings      []string
}

// AdjustStatsHandler handles AdjustStatsCommand.
type AdjustStatsHandler struct {
	flow   *saga.RewardFlow
	ledger *engine.LedgerWriter
	guard  idempotency
	log    *logger.Logger
}

// NewAdjustStatsHandler creates a new AdjustStatsHandler.
func NewAdjustStatsHandler(flow *saga.RewardFlow, ledgerWriter *engine.LedgerWriter, guard IdempotencyGuard, ttl time.Duration, log *logger.Logger) *AdjustStatsHandler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("adjust_stats"))
	return &AdjustStatsHandler{flow: flow, ledger: ledgerWriter, guard: newIdempotency(guard, ttl, log), log: log}
}

// Handle executes the command.
func (h *AdjustStatsHandler) Handle(ctx context.Context, cmd AdjustStatsCommand) (*AdjustStatsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	key, err := stats.NewKey(cmd.UserID, cmd.ClassroomID)
	if err != nil {
		return nil, err
	}
	release, err := h.guard.claim(ctx, "adjust_stats", cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	out := &AdjustStatsResult{}
	res, err := h.flow.Execute(ctx, saga.Trigger{
		Operation: "adjust_stats",
		Key:       key,
		ActorID:   cmd.ActorID,
		Reason:    cmd.Reason,
		Apply: func(ctx context.Context, sess *stats.Session, env engine.Env) (saga.Applied, error) {
			rec := sess.Record()

			if cmd.Cost > 0 {
				calc := reward.Calculate(reward.Input{BaseAmount: -cmd.Cost})
				if tx, ok := h.ledger.Post(sess, engine.Posting{
					Type:        ledger.TypeItemUsage,
					Description: cmd.Reason,
					AssignedBy:  cmd.ActorID,
					Calculation: calc,
				}); ok {
					out.Transaction = &tx
				}
			}

			before := rec.Snapshot(0, sess.Now())
			rec.AddMultiplier(cmd.Multiplier)
			rec.AddLuck(cmd.Luck)
			applyDiscount(rec, cmd, sess.Now())
			rec.AddShields(cmd.Shields)
			after := rec.Snapshot(0, sess.Now())

			out.StatIncreases = countIncreases(before, after)
			var xpAmount int64
			if cmd.AwardStatXP {
				xpAmount = env.Settings.XPForStats(out.StatIncreases)
			}
			return saga.Applied{XP: xpAmount}, nil
		},
	})
	if err != nil {
		release()
		return nil, err
	}

	if out.Transaction != nil {
		for _, committed := range res.Commit.Transactions {
			if committed.ID == out.Transaction.ID {
				tx := committed
				out.Transaction = &tx
			}
		}
	}
	out.Record = res.Record
	out.Progression = res.Progression
	out.Warnings = res.Warnings

	h.log.Info("stats adjusted",
		logger.UserID(key.UserID),
		logger.ClassroomID(key.Scope.ClassroomID()),
		logger.Int("stat_increases", out.StatIncreases),
	)
	return out, nil
}

func applyDiscount(rec *stats.Record, cmd AdjustStatsCommand, now time.Time) {
	value := rec.EffectiveDiscount(now) + cmd.Discount
	if cmd.SetDiscount != nil {
		value = *cmd.SetDiscount
	}
	switch {
	case cmd.DiscountDuration > 0:
		expires := now.Add(cmd.DiscountDuration)
		rec.SetDiscount(value, &expires)
	case cmd.SetDiscount != nil:
		rec.SetDiscount(value, nil)
	case cmd.Discount != 0:
		rec.AddDiscount(cmd.Discount)
	}
}

func countIncreases(before, after stats.Snapshot) int {
	n := 0
	if after.Multiplier > before.Multiplier {
		n++
	}
	if after.Luck > before.Luck {
		n++
	}
	if after.Discount > before.Discount {
		n++
	}
	if after.Shield > before.Shield {
		n++
	}
	return n
}
