// Package memory provides in-process implementations of the engine's
// storage ports. Used by tests and by single-instance deployments that run
// without Postgres.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
)

// Store keeps stats records, their ledger and the balance projection.
// Mutations of one key are serialized with a per-key mutex.
type Store struct {
	clock shared.Clock

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu          sync.RWMutex
	records     map[string]*stats.Record
	projections map[string]int64
	entries     []ledger.Transaction
	seq         int64
}

// NewStore creates an empty Store.
func NewStore(clock shared.Clock) *Store {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Store{
		clock:       clock,
		locks:       make(map[string]*sync.Mutex),
		records:     make(map[string]*stats.Record),
		projections: make(map[string]int64),
	}
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Mutate implements stats.Store.
func (s *Store) Mutate(ctx context.Context, key stats.Key, fn stats.MutateFunc) (stats.Commit, error) {
	if err := ctx.Err(); err != nil {
		return stats.Commit{}, err
	}
	k := key.String()
	l := s.keyLock(k)
	l.Lock()
	defer l.Unlock()

	now := s.clock.Now()

	s.mu.RLock()
	existing, ok := s.records[k]
	s.mu.RUnlock()

	var sess *stats.Session
	if ok {
		sess = stats.NewSession(existing.Clone(), now)
	} else {
		sess = stats.NewCreatedSession(stats.NewRecord(key, now), now)
	}
	rec := sess.Record()
	rec.ExpireEffects(now)

	if err := fn(sess); err != nil {
		return stats.Commit{}, err
	}

	rec.Version++
	rec.UpdatedAt = now
	txs := sess.Transactions()

	s.mu.Lock()
	for i := range txs {
		s.seq++
		txs[i].Seq = s.seq
	}
	s.entries = append(s.entries, txs...)
	s.records[k] = rec.Clone()
	s.projections[k] = rec.Stats.Balance
	s.mu.Unlock()

	return stats.Commit{
		Record:        rec.Clone(),
		Transactions:  txs,
		Notifications: sess.Outbox(),
	}, nil
}

// Get implements stats.Store.
func (s *Store) Get(ctx context.Context, key stats.Key) (*stats.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key.String()]
	if !ok {
		return nil, shared.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Balance implements stats.BalanceProjection.
func (s *Store) Balance(ctx context.Context, key stats.Key) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.projections[key.String()]
	if !ok {
		return 0, shared.ErrRecordNotFound
	}
	return b, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ledger.Repository
// ─────────────────────────────────────────────────────────────────────────────

// ListByUser implements ledger.Repository.
func (s *Store) ListByUser(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error) {
	matched := s.match(filter)
	slices.Reverse(matched)

	p := filter.Pagination
	offset, limit := p.Offset(), p.Limit()
	if offset < 0 || offset >= len(matched) {
		return []ledger.Transaction{}, nil
	}
	end := offset + min(limit, len(matched)-offset)
	return slices.Clone(matched[offset:end]), nil
}

// CountByUser implements ledger.Repository.
func (s *Store) CountByUser(ctx context.Context, filter ledger.HistoryFilter) (int, error) {
	return len(s.match(filter)), nil
}

func (s *Store) match(filter ledger.HistoryFilter) []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Transaction
	for _, tx := range s.entries {
		if tx.UserID != filter.UserID || tx.ClassroomID != filter.ClassroomID {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, tx.Type) {
			continue
		}
		out = append(out, tx)
	}
	return out
}
