package command

import (
	"context"
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
// AWARD BITS COMMAND
// Credits or debits bits for one student: teacher grants, feedback rewards
// and manual debits. Credits are multiplied and may earn XP; debits are
// applied as is.
// ══════════════════════════════════════════════════════════════════════════════

// AwardBitsCommand contains the data to award bits.
type AwardBitsCommand struct {
	UserID      string
	ClassroomID string // empty selects the legacy global record

	// Amount is the base amount; negative for debits.
	Amount int64

	// Type defaults to manual_grant for credits and debit for debits.
	Type        ledger.Type
	Description string
	AssignedBy  string

	ApplyPersonalMultiplier bool
	ApplyGroupMultiplier    bool

	// SkipXP keeps the credit from earning XP.
	SkipXP bool

	// IdempotencyKey makes retries of the same trigger safe.
	IdempotencyKey string
}

// Validate validates the command.
func (c AwardBitsCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if c.Amount == 0 {
		return shared.NewDomainError("command", "AwardBits", shared.ErrValidation, "amount must not be zero")
	}
	return nil
}

func (c AwardBitsCommand) txType() ledger.Type {
	if c.Type != "" {
		return c.Type
	}
	if c.Amount < 0 {
		return ledger.TypeDebit
	}
	return ledger.TypeManualGrant
}

// AwardBitsResult contains the result of awarding bits.
type AwardBitsResult struct {
	Transaction ledger.Transaction
	Balance     int64
	XP          engine.XPResult
	Progression engine.ProgressionResult
	Record      *stats.Record
	Warnings    []string
	ProcessedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardBitsHandler handles AwardBitsCommand.
type AwardBitsHandler struct {
	flow   *saga.RewardFlow
	ledger *engine.LedgerWriter
	guard  idempotency
	log    *logger.Logger
}

// NewAwardBitsHandler creates a new AwardBitsHandler.
func NewAwardBitsHandler(flow *saga.RewardFlow, ledgerWriter *engine.LedgerWriter, guard IdempotencyGuard, ttl time.Duration, log *logger.Logger) *AwardBitsHandler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("award_bits"))
	return &AwardBitsHandler{
		flow:   flow,
		ledger: ledgerWriter,
		guard:  newIdempotency(guard, ttl, log),
		log:    log,
	}
}

// Handle executes the command.
func (h *AwardBitsHandler) Handle(ctx context.Context, cmd AwardBitsCommand) (*AwardBitsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	key, err := stats.NewKey(cmd.UserID, cmd.ClassroomID)
	if err != nil {
		return nil, err
	}

	release, err := h.guard.claim(ctx, "award_bits", cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	resolver := h.flow.Resolver()
	var tx ledger.Transaction
	res, err := h.flow.Execute(ctx, saga.Trigger{
		Operation: "award_bits",
		Key:       key,
		ActorID:   cmd.AssignedBy,
		Reason:    cmd.Description,
		Apply: func(ctx context.Context, sess *stats.Session, env engine.Env) (saga.Applied, error) {
			calc := reward.Calculate(reward.Input{
				BaseAmount:    cmd.Amount,
				ApplyPersonal: cmd.ApplyPersonalMultiplier,
				ApplyGroup:    cmd.ApplyGroupMultiplier,
				Personal:      resolver.Personal(sess.Record()),
				Group:         env.GroupMultiplier,
			})
			tx, _ = h.ledger.Post(sess, engine.Posting{
				Type:        cmd.txType(),
				Description: cmd.Description,
				AssignedBy:  cmd.AssignedBy,
				Calculation: calc,
			})

			var xpAmount int64
			if !cmd.SkipXP && calc.FinalAmount > 0 {
				xpAmount = engine.BitsXP(calc, env.Settings)
			}
			return saga.Applied{XP: xpAmount}, nil
		},
	})
	if err != nil {
		release()
		return nil, err
	}

	// the store assigns the sequence number on commit
	for _, committed := range res.Commit.Transactions {
		if committed.ID == tx.ID {
			tx = committed
			break
		}
	}

	h.log.Info("bits awarded",
		logger.UserID(key.UserID),
		logger.ClassroomID(key.Scope.ClassroomID()),
		logger.Amount(tx.Amount),
		logger.Int64("balance", res.Record.Stats.Balance),
	)
	return &AwardBitsResult{
		Transaction: tx,
		Balance:     res.Record.Stats.Balance,
		XP:          res.Progression.XP,
		Progression: res.Progression,
		Record:      res.Record,
		Warnings:    res.Warnings,
		ProcessedAt: res.CompletedAt,
	}, nil
}
