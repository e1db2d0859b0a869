package engine

import (
	"fmt"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/stats"
)

// Posting is a balance change to record in the ledger.
type Posting struct {
	Type        ledger.Type
	Description string
	AssignedBy  string
	Calculation ledger.Calculation
}

// LedgerWriter applies balance changes and records them.
type LedgerWriter struct {
	ids     IDGenerator
	metrics Metrics
}

// NewLedgerWriter creates a LedgerWriter.
func NewLedgerWriter(ids IDGenerator, metrics Metrics) *LedgerWriter {
	if ids == nil {
		ids = NewUUID
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &LedgerWriter{ids: ids, metrics: metrics}
}

// ApplyDelta adds finalAmount to the balance, clamped at zero, and returns
// the new balance. The store writes the balance projection with the record.
func (w *LedgerWriter) ApplyDelta(sess *stats.Session, finalAmount int64) int64 {
	return sess.Record().AddBalance(finalAmount)
}

// AppendTransaction records an immutable ledger entry in the session.
func (w *LedgerWriter) AppendTransaction(sess *stats.Session, p Posting) ledger.Transaction {
	key := sess.Key()
	tx := ledger.Transaction{
		ID:          w.ids(),
		UserID:      key.UserID,
		ClassroomID: key.Scope.ClassroomID(),
		Amount:      p.Calculation.FinalAmount,
		Description: p.Description,
		Type:        p.Type,
		AssignedBy:  p.AssignedBy,
		Calculation: p.Calculation,
		CreatedAt:   sess.Now(),
	}
	sess.AppendTransaction(tx)
	w.metrics.TransactionPosted(tx.Type, tx.Amount)
	return tx
}

// Post applies the delta, appends the entry and queues the
// wallet_transaction notification. Zero amounts are not recorded.
func (w *LedgerWriter) Post(sess *stats.Session, p Posting) (ledger.Transaction, bool) {
	if p.Calculation.FinalAmount == 0 {
		return ledger.Transaction{}, false
	}
	balance := w.ApplyDelta(sess, p.Calculation.FinalAmount)
	tx := w.AppendTransaction(sess, p)
	sess.Notify(w.walletNotification(sess, tx, balance))
	return tx, true
}

func (w *LedgerWriter) walletNotification(sess *stats.Session, tx ledger.Transaction, balance int64) notification.Notification {
	msg := fmt.Sprintf("You received %d bits", tx.Amount)
	if !tx.IsCredit() {
		msg = fmt.Sprintf("%d bits were deducted", -tx.Amount)
	}
	if tx.Description != "" {
		msg += ": " + tx.Description
	}
	return notification.Notification{
		ID:          w.ids(),
		Type:        notification.TypeWalletTransaction,
		UserID:      tx.UserID,
		ClassroomID: tx.ClassroomID,
		ActorID:     tx.AssignedBy,
		Message:     msg,
		Data: map[string]any{
			"transactionId": tx.ID,
			"type":          string(tx.Type),
			"amount":        tx.Amount,
			"balance":       balance,
			"calculation":   tx.Calculation,
		},
		CreatedAt: sess.Now(),
	}
}
