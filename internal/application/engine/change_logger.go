package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/stats"
)

// ChangeContext describes the event behind a stat change.
type ChangeContext struct {
	UserID      string
	ClassroomID string
	ActorID     string
	Reason      string
	At          time.Time
}

// FieldChange is one tracked field that differs.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// String formats the change as "field: from → to".
func (c FieldChange) String() string {
	return fmt.Sprintf("%s: %s → %s", c.Field, c.From, c.To)
}

// ChangeLogger turns snapshot diffs into stats_adjusted notifications.
type ChangeLogger struct {
	ids IDGenerator
}

// NewChangeLogger creates a ChangeLogger.
func NewChangeLogger(ids IDGenerator) *ChangeLogger {
	if ids == nil {
		ids = NewUUID
	}
	return &ChangeLogger{ids: ids}
}

// Diff returns the tracked fields that differ, compared as canonical strings.
func Diff(prev, curr stats.Snapshot) []FieldChange {
	before, after := prev.Fields(), curr.Fields()
	var out []FieldChange
	for i := range before {
		if before[i].Value != after[i].Value {
			out = append(out, FieldChange{Field: before[i].Name, From: before[i].Value, To: after[i].Value})
		}
	}
	return out
}

// LogStatChanges returns one notification listing every changed field, or
// nil when nothing changed. The notification always goes to the student,
// never to the actor.
func (l *ChangeLogger) LogStatChanges(prev, curr stats.Snapshot, cc ChangeContext) *notification.Notification {
	changes := Diff(prev, curr)
	if len(changes) == 0 || cc.UserID == "" {
		return nil
	}

	lines := make([]string, len(changes))
	for i, c := range changes {
		lines[i] = c.String()
	}
	msg := "Your stats were adjusted: " + strings.Join(lines, ", ")
	if cc.Reason != "" {
		msg += " (" + cc.Reason + ")"
	}

	return &notification.Notification{
		ID:          l.ids(),
		Type:        notification.TypeStatsAdjusted,
		UserID:      cc.UserID,
		ClassroomID: cc.ClassroomID,
		ActorID:     cc.ActorID,
		Message:     msg,
		Data: map[string]any{
			"changes": changes,
			"reason":  cc.Reason,
		},
		CreatedAt: cc.At,
	}
}
