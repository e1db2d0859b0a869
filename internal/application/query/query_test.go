package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
	"github.com/classhub/progression-engine/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func post(t *testing.T, store *memory.Store, userID, classroomID string, typ ledger.Type, amounts ...int64) {
	t.Helper()
	key, err := stats.NewKey(userID, classroomID)
	require.NoError(t, err)
	_, err = store.Mutate(context.Background(), key, func(sess *stats.Session) error {
		for i, a := range amounts {
			sess.Record().AddBalance(a)
			sess.AppendTransaction(ledger.Transaction{
				ID:          string(rune('a' + i)),
				UserID:      userID,
				ClassroomID: classroomID,
				Amount:      a,
				Type:        typ,
				CreatedAt:   now,
			})
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWalletHistory_PagesNewestFirst(t *testing.T) {
	store := memory.NewStore(shared.FixedClock{At: now})
	post(t, store, "student-1", "class-a", ledger.TypeManualGrant, 10, 20, 30)
	post(t, store, "student-1", "class-a", ledger.TypeDebit, -5)
	post(t, store, "student-1", "class-b", ledger.TypeManualGrant, 99)
	h := NewWalletHistoryHandler(store, store)

	res, err := h.Handle(context.Background(), WalletHistoryQuery{UserID: "student-1", ClassroomID: "class-a", Page: 1, PageSize: 3})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.True(t, res.HasMore)
	assert.Equal(t, int64(55), res.Balance)
	require.Len(t, res.Items, 3)
	assert.Equal(t, int64(-5), res.Items[0].Amount)
	assert.Equal(t, int64(30), res.Items[1].Amount)

	res, err = h.Handle(context.Background(), WalletHistoryQuery{UserID: "student-1", ClassroomID: "class-a", Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.False(t, res.HasMore)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(10), res.Items[0].Amount)
}

func TestWalletHistory_TypeFilter(t *testing.T) {
	store := memory.NewStore(shared.FixedClock{At: now})
	post(t, store, "student-1", "class-a", ledger.TypeManualGrant, 10, 20)
	post(t, store, "student-1", "class-a", ledger.TypeDebit, -5)
	h := NewWalletHistoryHandler(store, store)

	res, err := h.Handle(context.Background(), WalletHistoryQuery{
		UserID: "student-1", ClassroomID: "class-a", Types: []ledger.Type{ledger.TypeDebit},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, ledger.TypeDebit, res.Items[0].Type)
}

func TestWalletHistory_UnknownStudent(t *testing.T) {
	store := memory.NewStore(nil)
	h := NewWalletHistoryHandler(store, store)

	res, err := h.Handle(context.Background(), WalletHistoryQuery{UserID: "nobody", ClassroomID: "class-a"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.Balance)

	_, err = h.Handle(context.Background(), WalletHistoryQuery{})
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)
}

func TestGetProgress_Defaults(t *testing.T) {
	store := memory.NewStore(nil)
	h := NewGetProgressHandler(store, memory.NewSettingsRepository(xp.DefaultSettings()), nil, shared.FixedClock{At: now})

	view, err := h.Handle(context.Background(), GetProgressQuery{UserID: "student-1", ClassroomID: "class-a"})
	require.NoError(t, err)

	assert.Equal(t, 1, view.Progress.Level)
	assert.Equal(t, 1.0, view.PersonalMultiplier)
	assert.Equal(t, 1.0, view.GroupMultiplier)
	assert.Equal(t, 1.0, view.Luck)
	assert.False(t, view.ShieldActive)
	assert.True(t, view.XPEnabled)
}

func TestGetProgress_EffectiveValues(t *testing.T) {
	clock := &shared.FixedClock{At: now}
	store := memory.NewStore(clock)
	groups := memory.NewGroupRepository()
	groups.Put(group.Group{ID: "g1", ClassroomID: "class-a", GroupMultiplier: 1.5,
		Members: []group.Member{{UserID: "student-1", Status: group.MemberApproved}}})
	groups.Put(group.Group{ID: "g2", ClassroomID: "class-a", GroupMultiplier: 1.2,
		Members: []group.Member{{UserID: "student-1", Status: group.MemberApproved}}})
	resolver := reward.NewResolver(reward.RepositorySource{Groups: groups}, reward.AggregateAdditiveDelta)

	key, err := stats.NewKey("student-1", "class-a")
	require.NoError(t, err)
	expires := now.Add(time.Hour)
	_, err = store.Mutate(context.Background(), key, func(sess *stats.Session) error {
		rec := sess.Record()
		rec.SetDiscount(15, &expires)
		rec.AddShields(1)
		rec.AddXP(120, xp.DefaultSettings().LevelFor)
		return nil
	})
	require.NoError(t, err)

	h := NewGetProgressHandler(store, nil, resolver, clock)
	view, err := h.Handle(context.Background(), GetProgressQuery{UserID: "student-1", ClassroomID: "class-a"})
	require.NoError(t, err)

	assert.InDelta(t, 1.7, view.GroupMultiplier, 1e-9)
	assert.Equal(t, 15.0, view.Discount)
	require.NotNil(t, view.DiscountExpiresAt)
	assert.True(t, view.ShieldActive)
	assert.Equal(t, 2, view.Progress.Level)

	clock.At = now.Add(2 * time.Hour)
	view, err = h.Handle(context.Background(), GetProgressQuery{UserID: "student-1", ClassroomID: "class-a"})
	require.NoError(t, err)
	assert.Zero(t, view.Discount, "expired discount reads as zero")
	assert.Nil(t, view.DiscountExpiresAt)
}

func TestGetProgress_LegacyScope(t *testing.T) {
	h := NewGetProgressHandler(memory.NewStore(nil), nil, nil, nil)

	view, err := h.Handle(context.Background(), GetProgressQuery{UserID: "student-1"})
	require.NoError(t, err)
	assert.True(t, view.Legacy)
	assert.False(t, view.XPEnabled)
	assert.Empty(t, view.ClassroomID)
}
