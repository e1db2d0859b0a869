package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations(), tableName: "schema_migrations"}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)
	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
		n++
	}
	return n, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_classroom_stats", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_catalog", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_notifications", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "add_rewarded_level", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STATS, LEDGER, PROJECTION
// classroom_id = '' is the legacy global scope.
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS classroom_stats (
    user_id VARCHAR(100) NOT NULL,
    classroom_id VARCHAR(100) NOT NULL DEFAULT '',
    balance BIGINT NOT NULL DEFAULT 0,
    multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
    luck DOUBLE PRECISION NOT NULL DEFAULT 1,
    discount DOUBLE PRECISION NOT NULL DEFAULT 0,
    discount_expires_at TIMESTAMP WITH TIME ZONE,
    shield_count INTEGER NOT NULL DEFAULT 0,
    xp BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    earned_badges JSONB NOT NULL DEFAULT '[]'::jsonb,
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, classroom_id),
    CONSTRAINT valid_balance CHECK (balance >= 0),
    CONSTRAINT valid_discount CHECK (discount >= 0 AND discount <= 100),
    CONSTRAINT valid_shields CHECK (shield_count >= 0),
    CONSTRAINT valid_xp CHECK (xp >= 0),
    CONSTRAINT valid_level CHECK (level >= 1)
);

CREATE TABLE IF NOT EXISTS wallet_projections (
    user_id VARCHAR(100) NOT NULL,
    classroom_id VARCHAR(100) NOT NULL DEFAULT '',
    balance BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, classroom_id)
);

CREATE TABLE IF NOT EXISTS transactions (
    seq BIGSERIAL PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    user_id VARCHAR(100) NOT NULL,
    classroom_id VARCHAR(100) NOT NULL DEFAULT '',
    amount BIGINT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    type VARCHAR(30) NOT NULL,
    assigned_by VARCHAR(100) NOT NULL DEFAULT '',
    calculation JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_amount CHECK (amount <> 0),
    CONSTRAINT valid_type CHECK (type IN (
        'manual_grant', 'group_grant', 'feedback_reward', 'debit',
        'badge_reward', 'level_up_reward', 'item_usage'
    ))
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_scope_seq ON transactions(user_id, classroom_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions(type);
`

const migration001Down = `
DROP TABLE IF EXISTS transactions;
DROP TABLE IF EXISTS wallet_projections;
DROP TABLE IF EXISTS classroom_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: BADGES, GROUPS, XP SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS badges (
    id VARCHAR(100) PRIMARY KEY,
    classroom_id VARCHAR(100) NOT NULL,
    name VARCHAR(150) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    level_required INTEGER NOT NULL,
    rewards JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_level_required CHECK (level_required >= 2)
);

CREATE INDEX IF NOT EXISTS idx_badges_classroom_level ON badges(classroom_id, level_required);

CREATE TABLE IF NOT EXISTS groups (
    id VARCHAR(100) PRIMARY KEY,
    classroom_id VARCHAR(100) NOT NULL,
    name VARCHAR(150) NOT NULL,
    group_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_groups_classroom ON groups(classroom_id);

CREATE TABLE IF NOT EXISTS group_members (
    group_id VARCHAR(100) NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    user_id VARCHAR(100) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (group_id, user_id),
    CONSTRAINT valid_member_status CHECK (status IN ('approved', 'pending', 'rejected'))
);

CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id) WHERE status = 'approved';

CREATE TABLE IF NOT EXISTS xp_settings (
    classroom_id VARCHAR(100) PRIMARY KEY,
    settings JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migration002Down = `
DROP TABLE IF EXISTS xp_settings;
DROP TABLE IF EXISTS group_members;
DROP TABLE IF EXISTS groups;
DROP TABLE IF EXISTS badges;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS notifications (
    id UUID PRIMARY KEY,
    type VARCHAR(30) NOT NULL,
    user_id VARCHAR(100) NOT NULL,
    classroom_id VARCHAR(100) NOT NULL DEFAULT '',
    actor_id VARCHAR(100) NOT NULL DEFAULT '',
    badge_id VARCHAR(100) NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_notification_type CHECK (type IN (
        'wallet_transaction', 'stats_adjusted', 'badge_earned', 'level_up'
    ))
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC);

-- one badge_earned notification per (user, badge)
CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_badge_earned
    ON notifications(user_id, badge_id) WHERE type = 'badge_earned';
`

const migration003Down = `
DROP TABLE IF EXISTS notifications;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: LEVEL-UP REWARD WATERMARK
// 0 = rewards paid through the stored level.
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
ALTER TABLE classroom_stats
    ADD COLUMN IF NOT EXISTS rewarded_level INTEGER NOT NULL DEFAULT 0;
`

const migration004Down = `
ALTER TABLE classroom_stats DROP COLUMN IF EXISTS rewarded_level;
`
