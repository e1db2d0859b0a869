// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"strings"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
)

// ══════════════════════════════════════════════════════════════════════════════
// WALLET HISTORY QUERY
// Lists a student's ledger entries in one scope, newest first.
// ══════════════════════════════════════════════════════════════════════════════

// WalletHistoryQuery contains the filter for a history listing.
type WalletHistoryQuery struct {
	UserID      string
	ClassroomID string
	Types       []ledger.Type
	Page        int
	PageSize    int
}

// Validate validates the query.
func (q WalletHistoryQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	return nil
}

// WalletHistoryResult contains one page of entries.
type WalletHistoryResult struct {
	Items    []ledger.Transaction
	Total    int
	Page     int
	PageSize int
	HasMore  bool
	Balance  int64
}

// WalletHistoryHandler handles WalletHistoryQuery.
type WalletHistoryHandler struct {
	ledger   ledger.Repository
	balances stats.BalanceProjection
}

// NewWalletHistoryHandler creates a new WalletHistoryHandler.
func NewWalletHistoryHandler(repo ledger.Repository, balances stats.BalanceProjection) *WalletHistoryHandler {
	return &WalletHistoryHandler{ledger: repo, balances: balances}
}

// Handle executes the query.
func (h *WalletHistoryHandler) Handle(ctx context.Context, q WalletHistoryQuery) (*WalletHistoryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key, err := stats.NewKey(q.UserID, q.ClassroomID)
	if err != nil {
		return nil, err
	}

	p := shared.NewPagination(q.Page, q.PageSize)
	filter := ledger.HistoryFilter{
		UserID:      key.UserID,
		ClassroomID: key.Scope.ClassroomID(),
		Types:       q.Types,
		Pagination:  p,
	}

	items, err := h.ledger.ListByUser(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := h.ledger.CountByUser(ctx, filter)
	if err != nil {
		return nil, err
	}

	var balance int64
	if h.balances != nil {
		balance, err = h.balances.Balance(ctx, key)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	return &WalletHistoryResult{
		Items:    items,
		Total:    total,
		Page:     p.Page,
		PageSize: p.PageSize,
		HasMore:  p.Offset()+len(items) < total,
		Balance:  balance,
	}, nil
}
