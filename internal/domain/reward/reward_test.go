package reward

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/stats"
)

func TestCalculate_AdditiveStacking(t *testing.T) {
	calc := Calculate(Input{BaseAmount: 100, ApplyPersonal: true, ApplyGroup: true, Personal: 1.5, Group: 2.0})

	assert.Equal(t, 2.5, calc.TotalMultiplier)
	assert.Equal(t, int64(250), calc.FinalAmount)
	assert.Equal(t, int64(100), calc.BaseAmount)
	assert.Equal(t, 1.5, calc.PersonalMultiplier)
	assert.Equal(t, 2.0, calc.GroupMultiplier)
}

func TestCalculate_MatchesFormulaForPositiveBase(t *testing.T) {
	bases := []int64{1, 7, 99, 100, 333}
	personal := []float64{0.5, 1, 1.25, 1.5, 2, 3}
	groups := []float64{1, 1.5, 2, 2.75}

	for _, base := range bases {
		for _, p := range personal {
			for _, g := range groups {
				calc := Calculate(Input{BaseAmount: base, ApplyPersonal: true, ApplyGroup: true, Personal: p, Group: g})
				want := int64(math.Round(float64(base) * (1 + (p - 1) + (g - 1))))
				assert.Equal(t, want, calc.FinalAmount, "base=%d p=%v g=%v", base, p, g)
			}
		}
	}
}

func TestCalculate_FlagsSelectMultipliers(t *testing.T) {
	onlyPersonal := Calculate(Input{BaseAmount: 100, ApplyPersonal: true, Personal: 1.5, Group: 2})
	onlyGroup := Calculate(Input{BaseAmount: 100, ApplyGroup: true, Personal: 1.5, Group: 2})
	neither := Calculate(Input{BaseAmount: 100, Personal: 1.5, Group: 2})

	assert.Equal(t, int64(150), onlyPersonal.FinalAmount)
	assert.Equal(t, int64(200), onlyGroup.FinalAmount)
	assert.Equal(t, int64(100), neither.FinalAmount)
	assert.Equal(t, 1.0, neither.TotalMultiplier)
}

func TestCalculate_DebitsAreNotMultiplied(t *testing.T) {
	for _, base := range []int64{0, -1, -50, -1000} {
		calc := Calculate(Input{BaseAmount: base, ApplyPersonal: true, ApplyGroup: true, Personal: 2, Group: 3})
		assert.Equal(t, base, calc.FinalAmount)
		assert.Equal(t, 1.0, calc.TotalMultiplier)
	}
}

func TestCalculate_RoundsHalfAwayFromZero(t *testing.T) {
	calc := Calculate(Input{BaseAmount: 5, ApplyPersonal: true, Personal: 1.5})
	assert.Equal(t, int64(8), calc.FinalAmount) // 7.5

	calc = Calculate(Input{BaseAmount: 3, ApplyPersonal: true, Personal: 1.5})
	assert.Equal(t, int64(5), calc.FinalAmount) // 4.5
}

func TestCalculate_InvalidMultipliersCoercedToOne(t *testing.T) {
	for _, bad := range []float64{0, -2, math.NaN(), math.Inf(1), math.Inf(-1)} {
		calc := Calculate(Input{BaseAmount: 40, ApplyPersonal: true, ApplyGroup: true, Personal: bad, Group: bad})
		assert.Equal(t, int64(40), calc.FinalAmount)
		assert.Equal(t, 1.0, calc.PersonalMultiplier)
	}
}

func TestAggregate_Modes(t *testing.T) {
	values := []GroupMultiplier{{GroupID: "g1", Value: 1.5}, {GroupID: "g2", Value: 2}}

	assert.Equal(t, 2.5, Aggregate(values, AggregateAdditiveDelta))
	assert.Equal(t, 3.5, Aggregate(values, AggregateRawSum))

	assert.Equal(t, 1.0, Aggregate(nil, AggregateAdditiveDelta))
	assert.Equal(t, 1.0, Aggregate(nil, AggregateRawSum))

	single := []GroupMultiplier{{GroupID: "g1", Value: 1.5}}
	assert.Equal(t, 1.5, Aggregate(single, AggregateAdditiveDelta))
	assert.Equal(t, 1.5, Aggregate(single, AggregateRawSum))

	bad := []GroupMultiplier{{Value: 0.5}, {Value: math.NaN()}}
	assert.Equal(t, 1.0, Aggregate(bad, AggregateAdditiveDelta))
	assert.Equal(t, 2.0, Aggregate(bad, AggregateRawSum))
}

func TestParseAggregation(t *testing.T) {
	mode, err := ParseAggregation("")
	require.NoError(t, err)
	assert.Equal(t, AggregateAdditiveDelta, mode)

	mode, err = ParseAggregation("RAW_SUM")
	require.NoError(t, err)
	assert.Equal(t, AggregateRawSum, mode)

	_, err = ParseAggregation("product")
	assert.Error(t, err)
}

type fakeGroups struct {
	groups []group.Group
	calls  int
	err    error
}

func (f *fakeGroups) FindByID(ctx context.Context, id string) (*group.Group, error) {
	for _, g := range f.groups {
		if g.ID == id {
			return &g, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeGroups) ListForMember(ctx context.Context, classroomID, userID string) ([]group.Group, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []group.Group
	for _, g := range f.groups {
		if g.ClassroomID == classroomID && g.IsApprovedMember(userID) {
			out = append(out, g)
		}
	}
	return out, nil
}

func testGroups() *fakeGroups {
	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeGroups{groups: []group.Group{
		{ID: "g1", ClassroomID: "c1", GroupMultiplier: 1.5, Members: []group.Member{
			{UserID: "u1", Status: group.MemberApproved, JoinedAt: joined},
			{UserID: "u2", Status: group.MemberPending, JoinedAt: joined},
		}},
		{ID: "g2", ClassroomID: "c1", GroupMultiplier: 2, Members: []group.Member{
			{UserID: "u1", Status: group.MemberApproved, JoinedAt: joined},
		}},
		{ID: "g3", ClassroomID: "c2", GroupMultiplier: 4, Members: []group.Member{
			{UserID: "u1", Status: group.MemberApproved, JoinedAt: joined},
		}},
	}}
}

func TestResolver_Group(t *testing.T) {
	ctx := context.Background()
	groups := testGroups()
	r := NewResolver(RepositorySource{Groups: groups}, AggregateAdditiveDelta)

	g, err := r.Group(ctx, "u1", stats.ClassroomScoped("c1"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, g)

	g, err = r.Group(ctx, "u2", stats.ClassroomScoped("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, g, "pending members do not count")

	calls := groups.calls
	g, err = r.Group(ctx, "u1", stats.LegacyGlobal())
	require.NoError(t, err)
	assert.Equal(t, 1.0, g)
	assert.Equal(t, calls, groups.calls, "legacy scope never reads groups")
}

func TestResolver_RawSumMode(t *testing.T) {
	r := NewResolver(RepositorySource{Groups: testGroups()}, AggregateRawSum)

	g, err := r.Group(context.Background(), "u1", stats.ClassroomScoped("c1"))
	require.NoError(t, err)
	assert.Equal(t, 3.5, g)
}

func TestResolver_GroupWithOverride(t *testing.T) {
	r := NewResolver(RepositorySource{Groups: testGroups()}, AggregateAdditiveDelta)

	g, err := r.GroupWithOverride(context.Background(), "u1", stats.ClassroomScoped("c1"), "g2", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, g)
}

func TestResolver_GroupError(t *testing.T) {
	boom := errors.New("db down")
	r := NewResolver(RepositorySource{Groups: &fakeGroups{err: boom}}, AggregateAdditiveDelta)

	g, err := r.Group(context.Background(), "u1", stats.ClassroomScoped("c1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, g)
}

func TestResolver_Personal(t *testing.T) {
	r := NewResolver(nil, "")
	key, err := stats.NewKey("u1", "c1")
	require.NoError(t, err)
	rec := stats.NewRecord(key, time.Now())

	assert.Equal(t, 1.0, r.Personal(rec))
	rec.Stats.Passive.Multiplier = 1.75
	assert.Equal(t, 1.75, r.Personal(rec))
	rec.Stats.Passive.Multiplier = 0
	assert.Equal(t, 1.0, r.Personal(rec))
	rec.Stats.Passive.Multiplier = math.NaN()
	assert.Equal(t, 1.0, r.Personal(rec))
	assert.Equal(t, 1.0, r.Personal(nil))
}
