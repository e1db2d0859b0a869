package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD GROUP BITS COMMAND
// Applies one adjustment to every approved member of a group. Each member is
// an independent trigger: one member failing does not stop the others.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBulkConcurrency bounds the per-member fan-out.
const DefaultBulkConcurrency = 8

// AwardGroupBitsCommand contains the data for a group-wide adjustment.
type AwardGroupBitsCommand struct {
	GroupID     string
	Amount      int64
	Description string
	AssignedBy  string

	ApplyPersonalMultiplier bool
	ApplyGroupMultiplier    bool

	// IdempotencyKey is suffixed with each member id.
	IdempotencyKey string
}

// Validate validates the command.
func (c AwardGroupBitsCommand) Validate() error {
	if strings.TrimSpace(c.GroupID) == "" {
		return shared.NewDomainError("command", "AwardGroupBits", shared.ErrInvalidID, "group id is required")
	}
	if c.Amount == 0 {
		return shared.NewDomainError("command", "AwardGroupBits", shared.ErrValidation, "amount must not be zero")
	}
	return nil
}

// MemberOutcome is the result for one member.
type MemberOutcome struct {
	UserID string
	Result *AwardBitsResult
	Err    error
}

// AwardGroupBitsResult contains the per-member outcomes in member order.
type AwardGroupBitsResult struct {
	GroupID     string
	Members     []MemberOutcome
	Succeeded   int
	Failed      int
	ProcessedAt time.Time
}

// AwardGroupBitsHandler handles AwardGroupBitsCommand.
type AwardGroupBitsHandler struct {
	groups      group.Repository
	award       *AwardBitsHandler
	concurrency int
	log         *logger.Logger
}

// NewAwardGroupBitsHandler creates a new AwardGroupBitsHandler.
func NewAwardGroupBitsHandler(groups group.Repository, award *AwardBitsHandler, concurrency int, log *logger.Logger) *AwardGroupBitsHandler {
	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AwardGroupBitsHandler{
		groups:      groups,
		award:       award,
		concurrency: concurrency,
		log:         log.With(logger.Component("award_group_bits")),
	}
}

// Handle executes the command.
func (h *AwardGroupBitsHandler) Handle(ctx context.Context, cmd AwardGroupBitsCommand) (*AwardGroupBitsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	g, err := h.groups.FindByID(ctx, cmd.GroupID)
	if err != nil {
		return nil, err
	}

	members := g.ApprovedMembers()
	out := &AwardGroupBitsResult{GroupID: g.ID, Members: make([]MemberOutcome, len(members))}

	txType := ledger.TypeGroupGrant
	if cmd.Amount < 0 {
		txType = ledger.TypeDebit
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(h.concurrency)
	for i, userID := range members {
		eg.Go(func() error {
			key := ""
			if cmd.IdempotencyKey != "" {
				key = cmd.IdempotencyKey + ":" + userID
			}
			res, err := h.award.Handle(egCtx, AwardBitsCommand{
				UserID:                  userID,
				ClassroomID:             g.ClassroomID,
				Amount:                  cmd.Amount,
				Type:                    txType,
				Description:             cmd.Description,
				AssignedBy:              cmd.AssignedBy,
				ApplyPersonalMultiplier: cmd.ApplyPersonalMultiplier,
				ApplyGroupMultiplier:    cmd.ApplyGroupMultiplier,
				IdempotencyKey:          key,
			})

			out.Members[i] = MemberOutcome{UserID: userID, Result: res, Err: err}

			if err != nil && !errors.Is(err, shared.ErrAlreadyProcessed) {
				h.log.Warn("group member award failed",
					logger.GroupID(g.ID), logger.UserID(userID), logger.Err(err))
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, m := range out.Members {
		if m.Err != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	out.ProcessedAt = time.Now().UTC()

	h.log.Info("group bits awarded",
		logger.GroupID(g.ID),
		logger.Amount(cmd.Amount),
		logger.Int("succeeded", out.Succeeded),
		logger.Int("failed", out.Failed),
	)
	return out, nil
}
