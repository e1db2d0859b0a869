package xp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classhub/progression-engine/internal/domain/shared"
)

var allFormulas = []Formula{FormulaExponential, FormulaLinear, FormulaLogarithmic}

func TestLevelFromXP_Calibration(t *testing.T) {
	for _, f := range allFormulas {
		for _, base := range []int64{1, 2, 7, 100, 250, 1000} {
			assert.Equal(t, 1, LevelFromXP(0, f, base), "%s base=%d at zero", f, base)
			assert.Equal(t, 1, LevelFromXP(base-1, f, base), "%s base=%d below anchor", f, base)
			assert.Equal(t, 2, LevelFromXP(base, f, base), "%s base=%d at anchor", f, base)
		}
	}
}

func TestLevelFromXP_Monotonic(t *testing.T) {
	for _, f := range allFormulas {
		for _, base := range []int64{1, 100, 333} {
			prev := LevelFromXP(0, f, base)
			for xp := int64(1); xp <= 20000; xp += 7 {
				cur := LevelFromXP(xp, f, base)
				assert.GreaterOrEqual(t, cur, prev, "%s base=%d xp=%d", f, base, xp)
				prev = cur
			}
		}
	}
}

func TestLevelFromXP_Exponential(t *testing.T) {
	// thresholds: 100, 250, 475, 812
	assert.Equal(t, 1, LevelFromXP(90, FormulaExponential, 100))
	assert.Equal(t, 2, LevelFromXP(249, FormulaExponential, 100))
	assert.Equal(t, 3, LevelFromXP(250, FormulaExponential, 100))
	assert.Equal(t, 4, LevelFromXP(475, FormulaExponential, 100))
	assert.Equal(t, 5, LevelFromXP(812, FormulaExponential, 100))
	assert.Equal(t, int64(475), ThresholdForLevel(4, FormulaExponential, 100))
}

func TestLevelFromXP_Linear(t *testing.T) {
	assert.Equal(t, 4, LevelFromXP(350, FormulaLinear, 100))
	assert.Equal(t, 11, LevelFromXP(1000, FormulaLinear, 100))
	assert.Equal(t, int64(900), ThresholdForLevel(10, FormulaLinear, 100))
}

func TestLevelFromXP_Logarithmic(t *testing.T) {
	// level 3 threshold: ceil(100 * 2 / (1 + ln 2)) = 119
	assert.Equal(t, 2, LevelFromXP(118, FormulaLogarithmic, 100))
	assert.Equal(t, 3, LevelFromXP(119, FormulaLogarithmic, 100))
	assert.Greater(t, LevelFromXP(5000, FormulaLogarithmic, 100), LevelFromXP(5000, FormulaLinear, 100))
}

func TestLevelFromXP_Defaults(t *testing.T) {
	assert.Equal(t, 2, LevelFromXP(100, FormulaLinear, 0))
	assert.Equal(t, 2, LevelFromXP(100, Formula("unknown"), -5))
	assert.Equal(t, 1, LevelFromXP(-10, FormulaLinear, 100))
}

func TestLevelFromXP_Capped(t *testing.T) {
	assert.Equal(t, MaxLevel, LevelFromXP(math.MaxInt64, FormulaLinear, 1))
	assert.Equal(t, MaxLevel, LevelFromXP(math.MaxInt64, FormulaLogarithmic, 1))
	assert.Less(t, LevelFromXP(math.MaxInt64, FormulaExponential, 100), MaxLevel)
	assert.Equal(t, int64(math.MaxInt64), ThresholdForLevel(MaxLevel+1, FormulaLinear, 100))
}

func TestComputeProgress(t *testing.T) {
	p := ComputeProgress(175, FormulaExponential, 100)

	assert.Equal(t, 2, p.Level)
	assert.Equal(t, int64(100), p.LevelStartXP)
	assert.Equal(t, int64(250), p.NextLevelXP)
	assert.Equal(t, int64(75), p.XPIntoLevel)
	assert.Equal(t, int64(75), p.XPToNextLevel)
	assert.Equal(t, 50.0, p.PercentToNext)
	assert.False(t, p.AtMaximumLevel)

	top := ComputeProgress(math.MaxInt64, FormulaLinear, 1)
	assert.True(t, top.AtMaximumLevel)
	assert.Equal(t, 100.0, top.PercentToNext)
}

func TestSettings_NormalizeAndValidate(t *testing.T) {
	s := Settings{LevelingFormula: "bogus", BaseXPForLevel2: -1, BitsEarnedRate: math.NaN(), BitsXPBasis: "x"}.Normalize()

	assert.Equal(t, FormulaExponential, s.LevelingFormula)
	assert.Equal(t, DefaultBaseXPForLevel2, s.BaseXPForLevel2)
	assert.Equal(t, 0.0, s.BitsEarnedRate)
	assert.Equal(t, BasisFinal, s.BitsXPBasis)

	assert.NoError(t, DefaultSettings().Validate())
	assert.ErrorIs(t, Settings{LevelingFormula: "cubic"}.Validate(), shared.ErrInvalidInput)
	assert.ErrorIs(t, Settings{StatIncreaseRate: -1}.Validate(), shared.ErrValueOutOfRange)
}

func TestSettings_XPRates(t *testing.T) {
	s := DefaultSettings()
	s.BitsEarnedRate = 0.5
	s.StatIncreaseRate = 2.5

	assert.Equal(t, int64(13), s.XPForBits(25))
	assert.Equal(t, int64(0), s.XPForBits(-25))
	assert.Equal(t, int64(8), s.XPForStats(3))
	assert.Equal(t, int64(0), s.XPForStats(0))
	assert.Equal(t, 2, s.LevelFor(100))
}

func TestLevelUpRewards_GrantsShieldAt(t *testing.T) {
	r := LevelUpRewards{ShieldAtLevels: []int{5, 10}}
	assert.True(t, r.GrantsShieldAt(5))
	assert.False(t, r.GrantsShieldAt(6))
}
