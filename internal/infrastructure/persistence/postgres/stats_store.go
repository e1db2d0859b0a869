package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/pkg/logger"
	"github.com/classhub/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS STORE IMPLEMENTATION
// One Mutate is one transaction: create the row if missing, lock it, run
// the mutation, then write the record, the balance projection and the new
// ledger entries together.
// ══════════════════════════════════════════════════════════════════════════════

// StatsStore implements stats.Store, stats.BalanceProjection and
// ledger.Repository.
type StatsStore struct {
	conn    *Connection
	clock   shared.Clock
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewStatsStore creates a new StatsStore.
func NewStatsStore(conn *Connection, clock shared.Clock, log *logger.Logger) *StatsStore {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StatsStore{
		conn:    conn,
		clock:   clock,
		retrier: retry.StoreRetrier(IsRetryableTxError),
		log:     log.With(logger.Component("postgres_stats_store")),
	}
}

const selectStatsColumns = `
	balance, multiplier, luck, discount, discount_expires_at, shield_count,
	xp, level, rewarded_level, earned_badges, version, created_at, updated_at
`

// Mutate implements stats.Store. A transaction that loses a deadlock or
// serialization race is retried from the start with a fresh session.
func (s *StatsStore) Mutate(ctx context.Context, key stats.Key, fn stats.MutateFunc) (stats.Commit, error) {
	var commit stats.Commit
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		c, err := s.mutateOnce(ctx, key, fn)
		if err != nil {
			return err
		}
		commit = c
		return nil
	})
	return commit, err
}

func (s *StatsStore) mutateOnce(ctx context.Context, key stats.Key, fn stats.MutateFunc) (stats.Commit, error) {
	var commit stats.Commit
	classroomID := key.Scope.ClassroomID()

	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		now := s.clock.Now()

		tag, err := tx.Exec(ctx, `
			INSERT INTO classroom_stats (user_id, classroom_id, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (user_id, classroom_id) DO NOTHING
		`, key.UserID, classroomID, now)
		if err != nil {
			return fmt.Errorf("failed to create stats row: %w", err)
		}
		created := tag.RowsAffected() == 1

		row := tx.QueryRow(ctx, `SELECT `+selectStatsColumns+`
			FROM classroom_stats
			WHERE user_id = $1 AND classroom_id = $2
			FOR UPDATE`, key.UserID, classroomID)
		rec, err := scanRecord(row, key)
		if err != nil {
			return err
		}

		var sess *stats.Session
		if created {
			sess = stats.NewCreatedSession(rec, now)
		} else {
			sess = stats.NewSession(rec, now)
		}
		rec.ExpireEffects(now)

		if err := fn(sess); err != nil {
			return err
		}

		rec.Version++
		rec.UpdatedAt = now
		if err := s.writeRecord(ctx, tx, rec); err != nil {
			return err
		}

		txs := sess.Transactions()
		for i := range txs {
			if err := insertTransaction(ctx, tx, &txs[i]); err != nil {
				return err
			}
		}

		commit = stats.Commit{
			Record:        rec.Clone(),
			Transactions:  txs,
			Notifications: sess.Outbox(),
		}
		return nil
	})
	return commit, err
}

func (s *StatsStore) writeRecord(ctx context.Context, q Querier, rec *stats.Record) error {
	badges, err := json.Marshal(rec.XP.EarnedBadges)
	if err != nil {
		return fmt.Errorf("failed to marshal earned badges: %w", err)
	}
	classroomID := rec.Key.Scope.ClassroomID()
	p := rec.Stats.Passive

	_, err = q.Exec(ctx, `
		UPDATE classroom_stats SET
			balance = $1,
			multiplier = $2,
			luck = $3,
			discount = $4,
			discount_expires_at = $5,
			shield_count = $6,
			xp = $7,
			level = $8,
			earned_badges = $9,
			version = $10,
			updated_at = $11,
			rewarded_level = $14
		WHERE user_id = $12 AND classroom_id = $13
	`,
		rec.Stats.Balance, p.Multiplier, p.Luck, p.Discount, p.DiscountExpiresAt,
		rec.Stats.ShieldCount, rec.XP.XP, rec.XP.Level, badges, rec.Version, rec.UpdatedAt,
		rec.Key.UserID, classroomID, rec.XP.RewardedLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO wallet_projections (user_id, classroom_id, balance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, classroom_id)
		DO UPDATE SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at
	`, rec.Key.UserID, classroomID, rec.Stats.Balance, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update wallet projection: %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, q Querier, t *ledger.Transaction) error {
	if !IsStorableType(t.Type) {
		return shared.NewDomainError("ledger", "Append", shared.ErrInvalidInput, fmt.Sprintf("unknown transaction type %q", t.Type))
	}
	calc, err := json.Marshal(t.Calculation)
	if err != nil {
		return fmt.Errorf("failed to marshal calculation: %w", err)
	}
	err = q.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, classroom_id, amount, description, type, assigned_by, calculation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`, t.ID, t.UserID, t.ClassroomID, t.Amount, t.Description, string(t.Type), t.AssignedBy, calc, t.CreatedAt).Scan(&t.Seq)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("ledger", "Append", shared.ErrAlreadyExists, "transaction id already recorded", err)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// Get implements stats.Store.
func (s *StatsStore) Get(ctx context.Context, key stats.Key) (*stats.Record, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+selectStatsColumns+`
		FROM classroom_stats
		WHERE user_id = $1 AND classroom_id = $2`, key.UserID, key.Scope.ClassroomID())
	return scanRecord(row, key)
}

// Balance implements stats.BalanceProjection.
func (s *StatsStore) Balance(ctx context.Context, key stats.Key) (int64, error) {
	var balance int64
	err := s.conn.QueryRow(ctx, `
		SELECT balance FROM wallet_projections WHERE user_id = $1 AND classroom_id = $2
	`, key.UserID, key.Scope.ClassroomID()).Scan(&balance)
	if IsNoRows(err) {
		return 0, shared.ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func scanRecord(row pgx.Row, key stats.Key) (*stats.Record, error) {
	rec := &stats.Record{Key: key}
	var badges []byte
	p := &rec.Stats.Passive

	err := row.Scan(
		&rec.Stats.Balance, &p.Multiplier, &p.Luck, &p.Discount, &p.DiscountExpiresAt,
		&rec.Stats.ShieldCount, &rec.XP.XP, &rec.XP.Level, &rec.XP.RewardedLevel, &badges,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, shared.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stats: %w", err)
	}
	if len(badges) > 0 {
		if err := json.Unmarshal(badges, &rec.XP.EarnedBadges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal earned badges: %w", err)
		}
	}
	return rec, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ledger.Repository
// ─────────────────────────────────────────────────────────────────────────────

func historyArgs(filter ledger.HistoryFilter) []any {
	var types []string
	for _, t := range filter.Types {
		types = append(types, string(t))
	}
	return []any{filter.UserID, filter.ClassroomID, types}
}

// ListByUser implements ledger.Repository.
func (s *StatsStore) ListByUser(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error) {
	args := append(historyArgs(filter), filter.Pagination.Limit(), filter.Pagination.Offset())
	rows, err := s.conn.Query(ctx, `
		SELECT seq, id, user_id, classroom_id, amount, description, type, assigned_by, calculation, created_at
		FROM transactions
		WHERE user_id = $1 AND classroom_id = $2
		  AND ($3::text[] IS NULL OR type = ANY($3))
		ORDER BY seq DESC
		LIMIT $4 OFFSET $5
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := []ledger.Transaction{}
	for rows.Next() {
		var t ledger.Transaction
		var typ string
		var calc []byte
		if err := rows.Scan(&t.Seq, &t.ID, &t.UserID, &t.ClassroomID, &t.Amount, &t.Description, &typ, &t.AssignedBy, &calc, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = ledger.Type(typ)
		if err := json.Unmarshal(calc, &t.Calculation); err != nil {
			return nil, fmt.Errorf("failed to unmarshal calculation: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountByUser implements ledger.Repository.
func (s *StatsStore) CountByUser(ctx context.Context, filter ledger.HistoryFilter) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM transactions
		WHERE user_id = $1 AND classroom_id = $2
		  AND ($3::text[] IS NULL OR type = ANY($3))
	`, historyArgs(filter)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// knownTypes guards the CHECK constraint on transactions.type.
var knownTypes = []ledger.Type{
	ledger.TypeManualGrant, ledger.TypeGroupGrant, ledger.TypeFeedback, ledger.TypeDebit,
	ledger.TypeBadgeReward, ledger.TypeLevelUpReward, ledger.TypeItemUsage,
}

// IsStorableType reports whether t can be written to the transactions table.
func IsStorableType(t ledger.Type) bool {
	return slices.Contains(knownTypes, t)
}
