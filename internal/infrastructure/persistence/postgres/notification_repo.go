package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/classhub/progression-engine/internal/domain/notification"
)

// NotificationRepository implements notification.Repository for PostgreSQL.
type NotificationRepository struct {
	conn *Connection
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(conn *Connection) *NotificationRepository {
	return &NotificationRepository{conn: conn}
}

// Save stores a notification. A second badge_earned row for the same
// (user, badge) is dropped by the partial unique index.
func (r *NotificationRepository) Save(ctx context.Context, n notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal notification data: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO notifications (id, type, user_id, classroom_id, actor_id, badge_id, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
	`, n.ID, string(n.Type), n.UserID, n.ClassroomID, n.ActorID, n.BadgeID, n.Message, data, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// ExistsBadgeEarned implements notification.Repository.
func (r *NotificationRepository) ExistsBadgeEarned(ctx context.Context, userID, badgeID string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications WHERE type = 'badge_earned' AND user_id = $1 AND badge_id = $2
		)
	`, userID, badgeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check badge notification: %w", err)
	}
	return exists, nil
}

// ListByUser implements notification.Repository, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `
		SELECT id, type, user_id, classroom_id, actor_id, badge_id, message, data, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []notification.Notification
	for rows.Next() {
		var n notification.Notification
		var typ string
		var data []byte
		if err := rows.Scan(&n.ID, &typ, &n.UserID, &n.ClassroomID, &n.ActorID, &n.BadgeID, &n.Message, &data, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = notification.Type(typ)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
