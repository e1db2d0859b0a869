package stats

import (
	"context"
	"slices"
	"time"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session - владеющий доступ к одной записи на время одной мутации.
// Хранилище создаёт сессию, передаёт её в функцию мутации и атомарно
// сохраняет запись вместе с накопленными транзакциями.
// Сессию нельзя сохранять и использовать после возврата из функции.
type Session struct {
	record       *Record
	now          time.Time
	created      bool
	transactions []ledger.Transaction
	outbox       []notification.Notification
}

// NewSession создаёт сессию над записью.
func NewSession(rec *Record, now time.Time) *Session {
	return &Session{record: rec, now: now}
}

// NewCreatedSession создаёт сессию над только что созданной записью.
func NewCreatedSession(rec *Record, now time.Time) *Session {
	return &Session{record: rec, now: now, created: true}
}

// Record возвращает изменяемую запись.
func (s *Session) Record() *Record { return s.record }

// Key возвращает ключ записи.
func (s *Session) Key() Key { return s.record.Key }

// Now возвращает время начала сессии.
func (s *Session) Now() time.Time { return s.now }

// Created возвращает true, если запись создана в этой сессии.
func (s *Session) Created() bool { return s.created }

// AppendTransaction добавляет запись журнала. Порядок добавления сохраняется.
func (s *Session) AppendTransaction(tx ledger.Transaction) {
	s.transactions = append(s.transactions, tx)
}

// Transactions возвращает накопленные записи журнала в порядке добавления.
func (s *Session) Transactions() []ledger.Transaction {
	return slices.Clone(s.transactions)
}

// Notify ставит уведомление в очередь на доставку после сохранения.
func (s *Session) Notify(n notification.Notification) {
	s.outbox = append(s.outbox, n)
}

// Outbox возвращает уведомления в порядке доставки: начисления битов
// раньше производных уведомлений того же события.
func (s *Session) Outbox() []notification.Notification {
	out := slices.Clone(s.outbox)
	slices.SortStableFunc(out, func(a, b notification.Notification) int {
		return a.Type.Rank() - b.Type.Rank()
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Commit - результат успешной мутации.
type Commit struct {
	Record        *Record
	Transactions  []ledger.Transaction
	Notifications []notification.Notification
}

// MutateFunc изменяет запись внутри сессии. Ошибка отменяет запись целиком.
type MutateFunc func(sess *Session) error

// Store хранит записи статистики.
//
// Мутации одного ключа выполняются строго последовательно, поэтому
// параллельные начисления не теряют обновлений. Запись, её журнал и
// проекция баланса сохраняются одной атомарной операцией.
type Store interface {
	// Mutate загружает или создаёт запись, вызывает fn и сохраняет результат.
	// Истёкшие временные эффекты сбрасываются до вызова fn.
	Mutate(ctx context.Context, key Key, fn MutateFunc) (Commit, error)

	// Get возвращает копию записи или shared.ErrRecordNotFound.
	Get(ctx context.Context, key Key) (*Record, error)
}

// BalanceProjection - денормализованный баланс для других подсистем.
type BalanceProjection interface {
	Balance(ctx context.Context, key Key) (int64, error)
}
