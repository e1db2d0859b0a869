// Package ledger defines the append-only reward ledger. Entries are written
// once, in insertion order, and never updated or deleted.
package ledger

import (
	"context"
	"time"

	"github.com/classhub/progression-engine/internal/domain/shared"
)

// Type describes why a ledger entry exists.
type Type string

const (
	TypeManualGrant   Type = "manual_grant"
	TypeGroupGrant    Type = "group_grant"
	TypeFeedback      Type = "feedback_reward"
	TypeDebit         Type = "debit"
	TypeBadgeReward   Type = "badge_reward"
	TypeLevelUpReward Type = "level_up_reward"
	TypeItemUsage     Type = "item_usage"
)

// Calculation records how an amount was derived, for audit.
type Calculation struct {
	BaseAmount         int64   `json:"base_amount"`
	PersonalMultiplier float64 `json:"personal_multiplier"`
	GroupMultiplier    float64 `json:"group_multiplier"`
	TotalMultiplier    float64 `json:"total_multiplier"`
	FinalAmount        int64   `json:"final_amount"`
}

// Transaction is an immutable ledger record.
type Transaction struct {
	ID          string      `json:"id"`
	Seq         int64       `json:"seq"` // assigned by the store; insertion order
	UserID      string      `json:"user_id"`
	ClassroomID string      `json:"classroom_id,omitempty"` // empty for legacy global scope
	Amount      int64       `json:"amount"`
	Description string      `json:"description"`
	Type        Type        `json:"type"`
	AssignedBy  string      `json:"assigned_by,omitempty"`
	Calculation Calculation `json:"calculation"`
	CreatedAt   time.Time   `json:"created_at"`
}

// IsCredit reports whether the entry is a credit.
func (t Transaction) IsCredit() bool {
	return t.Amount > 0
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	UserID      string
	ClassroomID string // empty selects the legacy global scope
	Types       []Type
	Pagination  shared.Pagination
}

// Repository reads ledger entries. Writes happen through stats.Session so
// they share the record's atomic write.
type Repository interface {
	// ListByUser returns entries newest first.
	ListByUser(ctx context.Context, filter HistoryFilter) ([]Transaction, error)

	// CountByUser returns the number of entries matching filter.
	CountByUser(ctx context.Context, filter HistoryFilter) (int, error)
}
