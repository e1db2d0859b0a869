package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classhub/progression-engine/internal/application/engine"
	"github.com/classhub/progression-engine/internal/application/saga"
	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
	"github.com/classhub/progression-engine/internal/infrastructure/persistence/memory"
)

const classroom = "class-a"

type testClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

// recordingSink collects published notifications.
type recordingSink struct {
	mu  sync.Mutex
	got []notification.Notification
}

func (s *recordingSink) Publish(ctx context.Context, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *recordingSink) ofType(t notification.Type) []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notification.Notification
	for _, n := range s.got {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	clock         *testClock
	store         *memory.Store
	groups        *memory.GroupRepository
	catalog       *memory.BadgeCatalog
	settings      *memory.SettingsRepository
	notifications *memory.NotificationRepository
	guard         *memory.IdempotencyGuard
	sink          *recordingSink
	flow          *saga.RewardFlow

	award      *AwardBitsHandler
	groupAward *AwardGroupBitsHandler
	adjust     *AdjustStatsHandler
	shield     *ConsumeShieldHandler
	groupEdit  *RecordGroupMultiplierChangeHandler
}

// simpleSettings earns one XP per final bit and has no level-up rewards.
func simpleSettings() xp.Settings {
	s := xp.DefaultSettings()
	s.BadgeUnlockRate = 0
	s.StatIncreaseRate = 10
	s.BitsEarnedRate = 1
	s.BitsXPBasis = xp.BasisFinal
	s.LevelUpRewards = xp.LevelUpRewards{}
	return s
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, simpleSettings(), nil)
}

func newHarnessWith(t *testing.T, defaults xp.Settings, settings xp.SettingsRepository) *harness {
	t.Helper()
	h := &harness{
		clock:         &testClock{at: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)},
		groups:        memory.NewGroupRepository(),
		catalog:       memory.NewBadgeCatalog(),
		settings:      memory.NewSettingsRepository(defaults),
		notifications: memory.NewNotificationRepository(),
		sink:          &recordingSink{},
	}
	h.store = memory.NewStore(h.clock)
	h.guard = memory.NewIdempotencyGuard(h.clock)
	if settings == nil {
		settings = h.settings
	}

	resolver := reward.NewResolver(reward.RepositorySource{Groups: h.groups}, reward.AggregateAdditiveDelta)
	lw := engine.NewLedgerWriter(nil, nil)
	xe := engine.NewXPEngine(nil)
	be := engine.NewBadgeEvaluator(engine.BadgeEvaluatorDeps{
		Catalog:       h.catalog,
		Notifications: h.notifications,
		Resolver:      resolver,
		Ledger:        lw,
		XP:            xe,
		Options:       engine.DefaultOptions(),
	})
	lu := engine.NewLevelUpRewardDistributor(resolver, lw, xe, be, nil, nil)

	h.flow = saga.NewRewardFlow(saga.RewardFlowDeps{
		Store:       h.store,
		Settings:    settings,
		Resolver:    resolver,
		Progression: engine.NewProgression(xe, be, lu, nil, engine.DefaultOptions(), nil),
		Deliverer:   engine.NewDeliverer(h.notifications, h.sink, nil, nil),
		Clock:       h.clock,
	})

	h.award = NewAwardBitsHandler(h.flow, lw, h.guard, time.Hour, nil)
	h.groupAward = NewAwardGroupBitsHandler(h.groups, h.award, 4, nil)
	h.adjust = NewAdjustStatsHandler(h.flow, lw, h.guard, time.Hour, nil)
	h.shield = NewConsumeShieldHandler(h.flow, nil)
	h.groupEdit = NewRecordGroupMultiplierChangeHandler(h.groups, h.flow, nil, 4, nil)
	return h
}

// seed mutates a record directly, bypassing the engine.
func (h *harness) seed(t *testing.T, userID string, fn func(rec *stats.Record)) {
	t.Helper()
	key, err := stats.NewKey(userID, classroom)
	require.NoError(t, err)
	_, err = h.store.Mutate(context.Background(), key, func(sess *stats.Session) error {
		fn(sess.Record())
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) record(t *testing.T, userID, classroomID string) *stats.Record {
	t.Helper()
	key, err := stats.NewKey(userID, classroomID)
	require.NoError(t, err)
	rec, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	return rec
}

func (h *harness) putGroup(id string, multiplier float64, approved []string, pending ...string) {
	g := group.Group{ID: id, ClassroomID: classroom, Name: "Group " + id, GroupMultiplier: multiplier}
	for _, u := range approved {
		g.Members = append(g.Members, group.Member{UserID: u, Status: group.MemberApproved})
	}
	for _, u := range pending {
		g.Members = append(g.Members, group.Member{UserID: u, Status: group.MemberPending})
	}
	h.groups.Put(g)
}
