// Package saga contains the multi-step business processes that coordinate
// the progression components for a single trigger.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/classhub/progression-engine/internal/application/engine"
	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
	"github.com/classhub/progression-engine/pkg/logger"
	"github.com/classhub/progression-engine/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD FLOW SAGA
// Flow: Resolve Context → Open Session → Apply Trigger → Advance Progression →
//
//	Log Stat Changes → Commit → Deliver Notifications
//
// Everything up to Commit runs inside one store session for one
// (user, scope) key. Delivery happens after the commit and never undoes it.
// ══════════════════════════════════════════════════════════════════════════════

// FlowStep is a step of the reward flow.
type FlowStep string

const (
	StepResolveContext FlowStep = "resolve_context"
	StepApplyTrigger   FlowStep = "apply_trigger"
	StepAdvance        FlowStep = "advance_progression"
	StepLogChanges     FlowStep = "log_changes"
	StepCommit         FlowStep = "commit"
	StepDeliver        FlowStep = "deliver"
	StepComplete       FlowStep = "complete"
)

// Applied is what a trigger did inside the session.
type Applied struct {
	// XP to feed into progression after the trigger.
	XP int64

	// Data is trigger specific output returned to the caller.
	Data any
}

// ApplyFunc performs the trigger specific mutation.
type ApplyFunc func(ctx context.Context, sess *stats.Session, env engine.Env) (Applied, error)

// Trigger is one external event entering the engine.
type Trigger struct {
	Operation string
	Key       stats.Key
	ActorID   string
	Reason    string
	Apply     ApplyFunc

	// GroupBefore overrides the group multiplier of the "before" snapshot.
	// Used when the group multiplier was changed outside the session.
	GroupBefore *float64
}

// Validate checks the trigger.
func (t Trigger) Validate() error {
	if t.Key.UserID == "" {
		return shared.ErrEmptyUserID
	}
	if t.Apply == nil {
		return shared.NewDomainError("saga", "Validate", shared.ErrInvalidInput, "trigger has no apply step")
	}
	return nil
}

// FlowResult is the outcome of a reward flow.
type FlowResult struct {
	Record          *stats.Record
	Commit          stats.Commit
	Applied         Applied
	Progression     engine.ProgressionResult
	Delivered       int
	Warnings        []string
	GroupMultiplier float64
	CompletedAt     time.Time
}

// FlowState tracks the current state of the flow.
type FlowState struct {
	CurrentStep FlowStep
	Trigger     Trigger
	Env         engine.Env
	StartedAt   time.Time
	Warnings    []string
	FailedStep  FlowStep
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RewardFlow runs triggers against the store.
type RewardFlow struct {
	store       stats.Store
	settings    xp.SettingsRepository
	resolver    *reward.Resolver
	progression *engine.Progression
	changes     *engine.ChangeLogger
	deliverer   *engine.Deliverer
	clock       shared.Clock
	metrics     engine.Metrics
	tracer      trace.Tracer
	log         *logger.Logger
}

// RewardFlowDeps lists RewardFlow collaborators.
type RewardFlowDeps struct {
	Store       stats.Store
	Settings    xp.SettingsRepository
	Resolver    *reward.Resolver
	Progression *engine.Progression
	Changes     *engine.ChangeLogger
	Deliverer   *engine.Deliverer
	Clock       shared.Clock
	Metrics     engine.Metrics
	Tracer      trace.Tracer
	Logger      *logger.Logger
}

// NewRewardFlow creates a RewardFlow.
func NewRewardFlow(deps RewardFlowDeps) *RewardFlow {
	if deps.Clock == nil {
		deps.Clock = shared.SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = engine.NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Tracer()
	}
	if deps.Resolver == nil {
		deps.Resolver = reward.NewResolver(nil, reward.AggregateAdditiveDelta)
	}
	if deps.Changes == nil {
		deps.Changes = engine.NewChangeLogger(nil)
	}
	if deps.Deliverer == nil {
		deps.Deliverer = engine.NewDeliverer(nil, nil, deps.Metrics, deps.Logger)
	}
	return &RewardFlow{
		store:       deps.Store,
		settings:    deps.Settings,
		resolver:    deps.Resolver,
		progression: deps.Progression,
		changes:     deps.Changes,
		deliverer:   deps.Deliverer,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		log:         deps.Logger.With(logger.Component("reward_flow")),
	}
}

// Resolver returns the multiplier resolver used by the flow.
func (f *RewardFlow) Resolver() *reward.Resolver { return f.resolver }

// Store returns the stats store used by the flow.
func (f *RewardFlow) Store() stats.Store { return f.store }

// Execute runs the trigger.
func (f *RewardFlow) Execute(ctx context.Context, trig Trigger) (result *FlowResult, err error) {
	state := &FlowState{
		CurrentStep: StepResolveContext,
		Trigger:     trig,
		StartedAt:   f.clock.Now(),
	}
	ctx, span := f.tracer.Start(ctx, "reward_flow."+trig.Operation, trace.WithAttributes(
		attribute.String("user_id", trig.Key.UserID),
		attribute.String("classroom_id", trig.Key.Scope.ClassroomID()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("failed_step", string(state.CurrentStep)))
		}
		span.End()
		f.metrics.OperationFinished(trig.Operation, time.Since(state.StartedAt), err)
	}()

	if err := trig.Validate(); err != nil {
		return nil, err
	}
	log := f.log.With(
		logger.Operation(trig.Operation),
		logger.UserID(trig.Key.UserID),
		logger.ClassroomID(trig.Key.Scope.ClassroomID()),
	)
	if id := tracing.TraceID(ctx); id != "" {
		log = log.With(logger.String("trace_id", id))
	}

	// Step 1: settings and group multiplier (I/O outside the session)
	state.Env = f.resolveEnv(ctx, state, log)

	// Steps 2-4: apply, advance, log changes
	state.CurrentStep = StepApplyTrigger
	var applied Applied
	var progression engine.ProgressionResult
	commit, err := f.store.Mutate(ctx, trig.Key, func(sess *stats.Session) error {
		rec := sess.Record()
		groupBefore := state.Env.GroupMultiplier
		if trig.GroupBefore != nil {
			groupBefore = *trig.GroupBefore
		}
		before := rec.Snapshot(groupBefore, sess.Now())

		state.CurrentStep = StepApplyTrigger
		a, err := trig.Apply(ctx, sess, state.Env)
		if err != nil {
			return err
		}
		applied = a

		state.CurrentStep = StepAdvance
		if a.XP > 0 && f.progression != nil {
			progression = f.progression.Advance(ctx, sess, a.XP, state.Env)
			state.Warnings = append(state.Warnings, progression.Warnings...)
		}

		state.CurrentStep = StepLogChanges
		after := rec.Snapshot(state.Env.GroupMultiplier, sess.Now())
		if n := f.changes.LogStatChanges(before, after, engine.ChangeContext{
			UserID:      sess.Key().UserID,
			ClassroomID: sess.Key().Scope.ClassroomID(),
			ActorID:     trig.ActorID,
			Reason:      trig.Reason,
			At:          sess.Now(),
		}); n != nil {
			sess.Notify(*n)
		}

		state.CurrentStep = StepCommit
		return nil
	})
	if err != nil {
		state.FailedStep = state.CurrentStep
		state.Error = err
		log.Warn("reward flow failed", logger.String("step", string(state.FailedStep)), logger.Err(err))
		return nil, f.wrapFailure(state, err)
	}

	// Step 5: delivery after commit
	span.AddEvent(string(StepCommit))
	state.CurrentStep = StepDeliver
	delivered := f.deliverer.Deliver(ctx, commit.Notifications)
	span.SetAttributes(
		attribute.Int("transactions", len(commit.Transactions)),
		attribute.Int("notifications.delivered", delivered),
	)

	state.CurrentStep = StepComplete
	result = &FlowResult{
		Record:          commit.Record,
		Commit:          commit,
		Applied:         applied,
		Progression:     progression,
		Delivered:       delivered,
		Warnings:        state.Warnings,
		GroupMultiplier: state.Env.GroupMultiplier,
		CompletedAt:     f.clock.Now(),
	}
	log.Debug("reward flow completed",
		logger.Int("transactions", len(commit.Transactions)),
		logger.Int("notifications", len(commit.Notifications)),
		logger.Int("warnings", len(state.Warnings)),
	)
	return result, nil
}

func (f *RewardFlow) resolveEnv(ctx context.Context, state *FlowState, log *logger.Logger) engine.Env {
	trig := state.Trigger
	env := engine.Env{
		Settings:        xp.DefaultSettings(),
		GroupMultiplier: 1,
		ActorID:         trig.ActorID,
		Reason:          trig.Reason,
	}

	scope := trig.Key.Scope
	if !scope.IsLegacy() && f.settings != nil {
		s, err := f.settings.Get(ctx, scope.ClassroomID())
		if err != nil {
			// no XP without the classroom settings
			env.Settings.Enabled = false
			state.Warnings = append(state.Warnings, fmt.Sprintf("load xp settings: %v", err))
			log.Warn("failed to load xp settings", logger.Err(err))
		} else {
			env.Settings = s
		}
	}
	env.Settings = env.Settings.Normalize()

	g, err := f.resolver.Group(ctx, trig.Key.UserID, scope)
	if err != nil {
		state.Warnings = append(state.Warnings, fmt.Sprintf("resolve group multiplier: %v", err))
		log.Warn("failed to resolve group multiplier, using 1", logger.Err(err))
	}
	env.GroupMultiplier = g
	return env
}

func (f *RewardFlow) wrapFailure(state *FlowState, err error) error {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return shared.WrapError("saga", state.Trigger.Operation, shared.ErrExternalService,
		fmt.Sprintf("step %s failed", state.FailedStep), err)
}

// Notifications returns the committed notifications in delivery order.
func (r *FlowResult) Notifications() []notification.Notification {
	if r == nil {
		return nil
	}
	return r.Commit.Notifications
}
