package command

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/classhub/progression-engine/internal/application/engine"
	"github.com/classhub/progression-engine/internal/application/saga"
	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD GROUP MULTIPLIER CHANGE COMMAND
// Group management edits a group's multiplier outside the engine. This
// command drops cached aggregates and tells each approved member how their
// effective group multiplier moved.
// ══════════════════════════════════════════════════════════════════════════════

// GroupCacheInvalidator drops cached group multiplier aggregates.
type GroupCacheInvalidator interface {
	InvalidateClassroom(ctx context.Context, classroomID string) error
}

// RecordGroupMultiplierChangeCommand describes an external multiplier edit.
type RecordGroupMultiplierChangeCommand struct {
	GroupID            string
	PreviousMultiplier float64
	ActorID            string
}

// RecordGroupMultiplierChangeResult lists the members that were notified.
type RecordGroupMultiplierChangeResult struct {
	GroupID  string
	Notified []string
	Failed   map[string]error
}

// RecordGroupMultiplierChangeHandler handles RecordGroupMultiplierChangeCommand.
type RecordGroupMultiplierChangeHandler struct {
	groups      group.Repository
	flow        *saga.RewardFlow
	cache       GroupCacheInvalidator
	concurrency int
	log         *logger.Logger
}

// NewRecordGroupMultiplierChangeHandler creates a new handler. cache may be nil.
func NewRecordGroupMultiplierChangeHandler(groups group.Repository, flow *saga.RewardFlow, cache GroupCacheInvalidator, concurrency int, log *logger.Logger) *RecordGroupMultiplierChangeHandler {
	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordGroupMultiplierChangeHandler{
		groups:      groups,
		flow:        flow,
		cache:       cache,
		concurrency: concurrency,
		log:         log.With(logger.Component("record_group_change")),
	}
}

// Handle executes the command.
func (h *RecordGroupMultiplierChangeHandler) Handle(ctx context.Context, cmd RecordGroupMultiplierChangeCommand) (*RecordGroupMultiplierChangeResult, error) {
	if strings.TrimSpace(cmd.GroupID) == "" {
		return nil, shared.NewDomainError("command", "RecordGroupMultiplierChange", shared.ErrInvalidID, "group id is required")
	}
	g, err := h.groups.FindByID(ctx, cmd.GroupID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.InvalidateClassroom(ctx, g.ClassroomID); err != nil {
			h.log.Warn("failed to invalidate group cache", logger.ClassroomID(g.ClassroomID), logger.Err(err))
		}
	}

	members := g.ApprovedMembers()
	outcomes := make([]error, len(members))
	resolver := h.flow.Resolver()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(h.concurrency)
	for i, userID := range members {
		eg.Go(func() error {
			key, err := stats.NewKey(userID, g.ClassroomID)
			if err != nil {
				outcomes[i] = err
				return nil
			}
			before, err := resolver.GroupWithOverride(egCtx, userID, key.Scope, g.ID, cmd.PreviousMultiplier)
			if err != nil {
				outcomes[i] = err
				return nil
			}
			_, err = h.flow.Execute(egCtx, saga.Trigger{
				Operation:   "record_group_change",
				Key:         key,
				ActorID:     cmd.ActorID,
				Reason:      fmt.Sprintf("group %s multiplier changed", g.Name),
				GroupBefore: &before,
				Apply: func(ctx context.Context, sess *stats.Session, env engine.Env) (saga.Applied, error) {
					return saga.Applied{}, nil
				},
			})
			outcomes[i] = err
			return nil
		})
	}
	_ = eg.Wait()

	out := &RecordGroupMultiplierChangeResult{GroupID: g.ID, Failed: map[string]error{}}
	for i, userID := range members {
		if outcomes[i] != nil {
			out.Failed[userID] = outcomes[i]
			h.log.Warn("group change notification failed", logger.GroupID(g.ID), logger.UserID(userID), logger.Err(outcomes[i]))
			continue
		}
		out.Notified = append(out.Notified, userID)
	}
	return out, nil
}
