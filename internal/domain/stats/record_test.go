package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/shared"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRecord(t *testing.T) *Record {
	t.Helper()
	key, err := NewKey("student-1", "class-a")
	require.NoError(t, err)
	return NewRecord(key, testNow)
}

func TestResolveScope(t *testing.T) {
	assert.True(t, ResolveScope("").IsLegacy())
	assert.True(t, ResolveScope("   ").IsLegacy())

	s := ResolveScope(" class-a ")
	assert.False(t, s.IsLegacy())
	assert.Equal(t, "class-a", s.ClassroomID())
	assert.Equal(t, "classroom:class-a", s.String())
	assert.Equal(t, "global", LegacyGlobal().String())
}

func TestNewKey_RequiresUser(t *testing.T) {
	_, err := NewKey(" ", "class-a")
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestNewRecord_Defaults(t *testing.T) {
	r := newTestRecord(t)

	assert.Equal(t, int64(0), r.Stats.Balance)
	assert.Equal(t, 1.0, r.Stats.Passive.Multiplier)
	assert.Equal(t, 1.0, r.Stats.Passive.Luck)
	assert.Equal(t, 0.0, r.Stats.Passive.Discount)
	assert.Equal(t, 1, r.XP.Level)
	assert.Equal(t, 1, r.XP.RewardedLevel)
	assert.False(t, r.ShieldActive())
}

func TestRewardedThrough(t *testing.T) {
	assert.Equal(t, 5, Progression{Level: 5}.RewardedThrough())
	assert.Equal(t, 3, Progression{Level: 5, RewardedLevel: 3}.RewardedThrough())
}

func TestAddBalance_ClampsAtZero(t *testing.T) {
	r := newTestRecord(t)
	r.Stats.Balance = 30

	assert.Equal(t, int64(0), r.AddBalance(-50))
	assert.Equal(t, int64(25), r.AddBalance(25))
}

func TestDiscount_ClampedAndExpires(t *testing.T) {
	r := newTestRecord(t)

	r.AddDiscount(150)
	assert.Equal(t, 100.0, r.Stats.Passive.Discount)
	r.AddDiscount(-300)
	assert.Equal(t, 0.0, r.Stats.Passive.Discount)

	expires := testNow.Add(time.Hour)
	r.SetDiscount(20, &expires)
	assert.Equal(t, 20.0, r.EffectiveDiscount(testNow))
	assert.Equal(t, 0.0, r.EffectiveDiscount(expires))

	assert.False(t, r.ExpireEffects(testNow))
	assert.True(t, r.ExpireEffects(expires.Add(time.Second)))
	assert.Nil(t, r.Stats.Passive.DiscountExpiresAt)
	assert.Equal(t, 0.0, r.Stats.Passive.Discount)
}

func TestShields(t *testing.T) {
	r := newTestRecord(t)

	r.AddShields(2)
	assert.Equal(t, 2, r.Stats.ShieldCount)
	assert.True(t, r.ShieldActive())

	require.NoError(t, r.ConsumeShield())
	require.NoError(t, r.ConsumeShield())
	assert.ErrorIs(t, r.ConsumeShield(), shared.ErrInvalidState)

	r.AddShields(-5)
	assert.Equal(t, 0, r.Stats.ShieldCount)
}

func TestAddXP_NeverDecreases(t *testing.T) {
	r := newTestRecord(t)
	level := func(xp int64) int { return 1 + int(xp/100) }

	oldXP, newXP := r.AddXP(150, level)
	assert.Equal(t, int64(0), oldXP)
	assert.Equal(t, int64(150), newXP)
	assert.Equal(t, 2, r.XP.Level)

	_, newXP = r.AddXP(-40, level)
	assert.Equal(t, int64(150), newXP)
	assert.Equal(t, int64(150), r.XP.XP)
}

func TestAddBadge_Unique(t *testing.T) {
	r := newTestRecord(t)

	assert.True(t, r.AddBadge("b1", testNow))
	assert.False(t, r.AddBadge("b1", testNow.Add(time.Minute)))
	assert.Len(t, r.XP.EarnedBadges, 1)
	assert.True(t, r.HasBadge("b1"))
}

func TestClone_IsDeep(t *testing.T) {
	r := newTestRecord(t)
	expires := testNow.Add(time.Hour)
	r.SetDiscount(10, &expires)
	r.AddBadge("b1", testNow)

	c := r.Clone()
	c.AddBadge("b2", testNow)
	*c.Stats.Passive.DiscountExpiresAt = testNow

	assert.Len(t, r.XP.EarnedBadges, 1)
	assert.Equal(t, expires, *r.Stats.Passive.DiscountExpiresAt)
}

func TestSnapshotFields_CanonicalNumbers(t *testing.T) {
	a := Snapshot{Multiplier: 1, Luck: 1.0, GroupMultiplier: 2}
	b := Snapshot{Multiplier: 1.0, Luck: 1, GroupMultiplier: 2.0}

	assert.Equal(t, a.Fields(), b.Fields())
	assert.Equal(t, "multiplier", a.Fields()[0].Name)
	assert.Equal(t, "1", a.Fields()[0].Value)
}

func TestSessionOutbox_WalletFirst(t *testing.T) {
	sess := NewSession(newTestRecord(t), testNow)
	sess.Notify(notification.Notification{Type: notification.TypeLevelUp})
	sess.Notify(notification.Notification{Type: notification.TypeStatsAdjusted})
	sess.Notify(notification.Notification{Type: notification.TypeWalletTransaction, Message: "first"})
	sess.Notify(notification.Notification{Type: notification.TypeBadgeEarned})
	sess.Notify(notification.Notification{Type: notification.TypeWalletTransaction, Message: "second"})

	out := sess.Outbox()
	require.Len(t, out, 5)
	assert.Equal(t, "first", out[0].Message)
	assert.Equal(t, "second", out[1].Message)
	assert.Equal(t, notification.TypeStatsAdjusted, out[2].Type)
	assert.Equal(t, notification.TypeBadgeEarned, out[3].Type)
	assert.Equal(t, notification.TypeLevelUp, out[4].Type)
}
