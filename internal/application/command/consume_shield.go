package command

import (
	"context"
	"strings"

	"github.com/classhub/progression-engine/internal/application/engine"
	"github.com/classhub/progression-engine/internal/application/saga"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/pkg/logger"
)

// ConsumeShieldCommand spends one shield to block an incoming attack effect.
type ConsumeShieldCommand struct {
	UserID      string
	ClassroomID string
	ActorID     string // who attacked
	Reason      string
}

// ConsumeShieldResult contains the remaining shields.
type ConsumeShieldResult struct {
	Remaining    int
	ShieldActive bool
}

// ConsumeShieldHandler handles ConsumeShieldCommand.
type ConsumeShieldHandler struct {
	flow *saga.RewardFlow
	log  *logger.Logger
}

// NewConsumeShieldHandler creates a new ConsumeShieldHandler.
func NewConsumeShieldHandler(flow *saga.RewardFlow, log *logger.Logger) *ConsumeShieldHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ConsumeShieldHandler{flow: flow, log: log.With(logger.Component("consume_shield"))}
}

// Handle executes the command. It returns shared.ErrNoShieldToSpend when
// the student has no shield.
func (h *ConsumeShieldHandler) Handle(ctx context.Context, cmd ConsumeShieldCommand) (*ConsumeShieldResult, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, shared.ErrEmptyUserID
	}
	key, err := stats.NewKey(cmd.UserID, cmd.ClassroomID)
	if err != nil {
		return nil, err
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "shield blocked an attack"
	}
	res, err := h.flow.Execute(ctx, saga.Trigger{
		Operation: "consume_shield",
		Key:       key,
		ActorID:   cmd.ActorID,
		Reason:    reason,
		Apply: func(ctx context.Context, sess *stats.Session, env engine.Env) (saga.Applied, error) {
			return saga.Applied{}, sess.Record().ConsumeShield()
		},
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("shield consumed", logger.UserID(key.UserID), logger.Int("remaining", res.Record.Stats.ShieldCount))
	return &ConsumeShieldResult{
		Remaining:    res.Record.Stats.ShieldCount,
		ShieldActive: res.Record.ShieldActive(),
	}, nil
}
