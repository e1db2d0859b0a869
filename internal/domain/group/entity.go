// Package group describes classroom groups as read by the progression engine.
// Groups are created and edited elsewhere; the engine only reads them.
package group

import (
	"context"
	"time"
)

// MemberStatus is a membership state.
type MemberStatus string

const (
	MemberApproved MemberStatus = "approved"
	MemberPending  MemberStatus = "pending"
	MemberRejected MemberStatus = "rejected"
)

// Member is a user in a group.
type Member struct {
	UserID   string       `json:"user_id"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joined_at"`
}

// Group is a set of students sharing a multiplier.
type Group struct {
	ID              string    `json:"id"`
	ClassroomID     string    `json:"classroom_id"`
	Name            string    `json:"name"`
	GroupMultiplier float64   `json:"group_multiplier"`
	Members         []Member  `json:"members"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsApprovedMember reports whether userID is an approved member.
func (g Group) IsApprovedMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID && m.Status == MemberApproved {
			return true
		}
	}
	return false
}

// ApprovedMembers returns the user ids of approved members in join order.
func (g Group) ApprovedMembers() []string {
	out := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Status == MemberApproved {
			out = append(out, m.UserID)
		}
	}
	return out
}

// Repository reads groups.
type Repository interface {
	// FindByID returns shared.ErrGroupNotFound when the group does not exist.
	FindByID(ctx context.Context, id string) (*Group, error)

	// ListForMember returns groups of the classroom where userID is approved.
	ListForMember(ctx context.Context, classroomID, userID string) ([]Group, error)
}
