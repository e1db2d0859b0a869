package reward

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
)

// Aggregation selects how the multipliers of several groups combine.
type Aggregation string

const (
	// AggregateAdditiveDelta is 1 + Σ(g-1). This is the canonical form and
	// matches the additive stacking of Calculate.
	AggregateAdditiveDelta Aggregation = "additive_delta"

	// AggregateRawSum is Σ g. Kept for parity with call sites that summed
	// group multipliers directly; a user in two 1.5 groups gets 3, not 2.
	AggregateRawSum Aggregation = "raw_sum"
)

// ParseAggregation parses a configured aggregation mode. Empty selects the
// canonical mode.
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(strings.ToLower(strings.TrimSpace(s))) {
	case "", AggregateAdditiveDelta:
		return AggregateAdditiveDelta, nil
	case AggregateRawSum:
		return AggregateRawSum, nil
	default:
		return "", shared.NewDomainError("reward", "ParseAggregation", shared.ErrInvalidInput,
			fmt.Sprintf("unknown group aggregation %q", s))
	}
}

// GroupMultiplier is one group's contribution.
type GroupMultiplier struct {
	GroupID string  `json:"group_id"`
	Value   float64 `json:"value"`
}

// MultiplierSource lists the multipliers of the groups a user is an
// approved member of.
type MultiplierSource interface {
	ApprovedMultipliers(ctx context.Context, classroomID, userID string) ([]GroupMultiplier, error)
}

// RepositorySource reads multipliers straight from a group repository.
type RepositorySource struct {
	Groups group.Repository
}

// ApprovedMultipliers implements MultiplierSource.
func (s RepositorySource) ApprovedMultipliers(ctx context.Context, classroomID, userID string) ([]GroupMultiplier, error) {
	groups, err := s.Groups.ListForMember(ctx, classroomID, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups for member: %w", err)
	}
	out := make([]GroupMultiplier, 0, len(groups))
	for _, g := range groups {
		if !g.IsApprovedMember(userID) {
			continue
		}
		out = append(out, GroupMultiplier{GroupID: g.ID, Value: g.GroupMultiplier})
	}
	return out, nil
}

// Aggregate combines group multipliers. Each value below 1 or non-finite
// counts as 1. No groups always yields 1.
func Aggregate(values []GroupMultiplier, mode Aggregation) float64 {
	if len(values) == 0 {
		return 1
	}
	switch mode {
	case AggregateRawSum:
		sum := 0.0
		for _, v := range values {
			sum += sanitizeGroup(v.Value)
		}
		return sum
	default:
		total := 1.0
		for _, v := range values {
			total += sanitizeGroup(v.Value) - 1
		}
		return total
	}
}

func sanitizeGroup(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 1 {
		return 1
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Resolver computes the personal and group multipliers of a user.
type Resolver struct {
	source MultiplierSource
	mode   Aggregation
}

// NewResolver creates a Resolver. A nil source makes every group multiplier 1.
func NewResolver(source MultiplierSource, mode Aggregation) *Resolver {
	if mode == "" {
		mode = AggregateAdditiveDelta
	}
	return &Resolver{source: source, mode: mode}
}

// Mode returns the configured aggregation.
func (r *Resolver) Mode() Aggregation { return r.mode }

// Personal returns the passive multiplier of the record. The record already
// belongs to the resolved scope, so a legacy record yields the legacy field.
func (r *Resolver) Personal(rec *stats.Record) float64 {
	if rec == nil {
		return 1
	}
	return SanitizeMultiplier(rec.Stats.Passive.Multiplier)
}

// Group returns the aggregate group multiplier. Legacy scope has no groups.
func (r *Resolver) Group(ctx context.Context, userID string, scope stats.Scope) (float64, error) {
	values, err := r.groupValues(ctx, userID, scope)
	if err != nil {
		return 1, err
	}
	return Aggregate(values, r.mode), nil
}

// GroupWithOverride returns the aggregate as if groupID had the given
// multiplier. Used to reconstruct the value before an external edit.
func (r *Resolver) GroupWithOverride(ctx context.Context, userID string, scope stats.Scope, groupID string, value float64) (float64, error) {
	values, err := r.groupValues(ctx, userID, scope)
	if err != nil {
		return 1, err
	}
	for i := range values {
		if values[i].GroupID == groupID {
			values[i].Value = value
		}
	}
	return Aggregate(values, r.mode), nil
}

func (r *Resolver) groupValues(ctx context.Context, userID string, scope stats.Scope) ([]GroupMultiplier, error) {
	if r.source == nil || scope.IsLegacy() {
		return nil, nil
	}
	values, err := r.source.ApprovedMultipliers(ctx, scope.ClassroomID(), userID)
	if err != nil {
		return nil, fmt.Errorf("resolve group multiplier: %w", err)
	}
	return values, nil
}
