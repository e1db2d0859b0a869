package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/classhub/progression-engine/internal/domain/badge"
	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository implements badge.Catalog for PostgreSQL.
type BadgeRepository struct {
	conn *Connection
}

// NewBadgeRepository creates a new BadgeRepository.
func NewBadgeRepository(conn *Connection) *BadgeRepository {
	return &BadgeRepository{conn: conn}
}

// ListByClassroom implements badge.Catalog.
func (r *BadgeRepository) ListByClassroom(ctx context.Context, classroomID string) ([]badge.Badge, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, classroom_id, name, description, level_required, rewards
		FROM badges
		WHERE classroom_id = $1
		ORDER BY level_required, id
	`, classroomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	defer rows.Close()

	var out []badge.Badge
	for rows.Next() {
		var b badge.Badge
		var rewards []byte
		if err := rows.Scan(&b.ID, &b.ClassroomID, &b.Name, &b.Description, &b.LevelRequired, &rewards); err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		if err := json.Unmarshal(rewards, &b.Rewards); err != nil {
			return nil, fmt.Errorf("failed to unmarshal badge rewards: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Save inserts or replaces a catalog badge.
func (r *BadgeRepository) Save(ctx context.Context, b badge.Badge) error {
	if err := b.Validate(); err != nil {
		return err
	}
	rewards, err := json.Marshal(b.Rewards)
	if err != nil {
		return fmt.Errorf("failed to marshal badge rewards: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO badges (id, classroom_id, name, description, level_required, rewards)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			classroom_id = EXCLUDED.classroom_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			level_required = EXCLUDED.level_required,
			rewards = EXCLUDED.rewards
	`, b.ID, b.ClassroomID, b.Name, b.Description, b.LevelRequired, rewards)
	if err != nil {
		return fmt.Errorf("failed to save badge: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUPS
// ══════════════════════════════════════════════════════════════════════════════

// GroupRepository implements group.Repository for PostgreSQL.
type GroupRepository struct {
	conn *Connection
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(conn *Connection) *GroupRepository {
	return &GroupRepository{conn: conn}
}

// FindByID implements group.Repository.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*group.Group, error) {
	var g group.Group
	err := r.conn.QueryRow(ctx, `
		SELECT id, classroom_id, name, group_multiplier, updated_at FROM groups WHERE id = $1
	`, id).Scan(&g.ID, &g.ClassroomID, &g.Name, &g.GroupMultiplier, &g.UpdatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT user_id, status, joined_at FROM group_members WHERE group_id = $1 ORDER BY joined_at, user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m group.Member
		var status string
		if err := rows.Scan(&m.UserID, &status, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		m.Status = group.MemberStatus(status)
		g.Members = append(g.Members, m)
	}
	return &g, rows.Err()
}

// ListForMember implements group.Repository. Only the member's own row is
// loaded into Members.
func (r *GroupRepository) ListForMember(ctx context.Context, classroomID, userID string) ([]group.Group, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT g.id, g.classroom_id, g.name, g.group_multiplier, g.updated_at, m.joined_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE g.classroom_id = $1 AND m.user_id = $2 AND m.status = 'approved'
		ORDER BY g.id
	`, classroomID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups for member: %w", err)
	}
	defer rows.Close()

	var out []group.Group
	for rows.Next() {
		var g group.Group
		m := group.Member{UserID: userID, Status: group.MemberApproved}
		if err := rows.Scan(&g.ID, &g.ClassroomID, &g.Name, &g.GroupMultiplier, &g.UpdatedAt, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.Members = []group.Member{m}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Save replaces a group and its members.
func (r *GroupRepository) Save(ctx context.Context, g group.Group) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO groups (id, classroom_id, name, group_multiplier, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				classroom_id = EXCLUDED.classroom_id,
				name = EXCLUDED.name,
				group_multiplier = EXCLUDED.group_multiplier,
				updated_at = EXCLUDED.updated_at
		`, g.ID, g.ClassroomID, g.Name, g.GroupMultiplier, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to save group: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1`, g.ID); err != nil {
			return fmt.Errorf("failed to clear group members: %w", err)
		}

		batch := &pgx.Batch{}
		for _, m := range g.Members {
			joined := m.JoinedAt
			if joined.IsZero() {
				joined = time.Now().UTC()
			}
			batch.Queue(`INSERT INTO group_members (group_id, user_id, status, joined_at) VALUES ($1, $2, $3, $4)`,
				g.ID, m.UserID, string(m.Status), joined)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save group members: %w", err)
		}
		return nil
	})
}

// SetMultiplier updates the multiplier and returns the previous value.
func (r *GroupRepository) SetMultiplier(ctx context.Context, groupID string, value float64) (float64, error) {
	var prev float64
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT group_multiplier FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&prev)
		if IsNoRows(err) {
			return shared.ErrGroupNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock group: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE groups SET group_multiplier = $1, updated_at = $2 WHERE id = $3`,
			value, time.Now().UTC(), groupID)
		return err
	})
	return prev, err
}

// ══════════════════════════════════════════════════════════════════════════════
// XP SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// SettingsRepository implements xp.SettingsRepository for PostgreSQL.
type SettingsRepository struct {
	conn     *Connection
	defaults xp.Settings
}

// NewSettingsRepository creates a repository that falls back to defaults
// for classrooms without a row.
func NewSettingsRepository(conn *Connection, defaults xp.Settings) *SettingsRepository {
	return &SettingsRepository{conn: conn, defaults: defaults}
}

// Get implements xp.SettingsRepository.
func (r *SettingsRepository) Get(ctx context.Context, classroomID string) (xp.Settings, error) {
	var raw []byte
	err := r.conn.QueryRow(ctx, `SELECT settings FROM xp_settings WHERE classroom_id = $1`, classroomID).Scan(&raw)
	if IsNoRows(err) {
		return r.defaults, nil
	}
	if err != nil {
		return xp.Settings{}, fmt.Errorf("failed to get xp settings: %w", err)
	}

	s := r.defaults
	if err := json.Unmarshal(raw, &s); err != nil {
		return xp.Settings{}, fmt.Errorf("failed to unmarshal xp settings: %w", err)
	}
	return s, nil
}

// Save implements xp.SettingsRepository.
func (r *SettingsRepository) Save(ctx context.Context, classroomID string, s xp.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal xp settings: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO xp_settings (classroom_id, settings, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (classroom_id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
	`, classroomID, raw)
	if err != nil {
		return fmt.Errorf("failed to save xp settings: %w", err)
	}
	return nil
}
