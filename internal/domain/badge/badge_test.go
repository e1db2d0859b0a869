package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classhub/progression-engine/internal/domain/shared"
)

func TestUnlockable_OrderAndFilter(t *testing.T) {
	catalog := []Badge{
		{ID: "gold", LevelRequired: 5},
		{ID: "silver", LevelRequired: 3},
		{ID: "bronze-b", LevelRequired: 2},
		{ID: "bronze-a", LevelRequired: 2},
		{ID: "owned", LevelRequired: 2},
	}
	earned := func(id string) bool { return id == "owned" }

	got := Unlockable(catalog, 3, earned)

	ids := make([]string, 0, len(got))
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"bronze-a", "bronze-b", "silver"}, ids)
}

func TestUnlockable_NothingBelowLevel(t *testing.T) {
	got := Unlockable([]Badge{{ID: "b", LevelRequired: 4}}, 3, func(string) bool { return false })
	assert.Empty(t, got)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Badge{ID: "b", LevelRequired: 2}.Validate())
	assert.ErrorIs(t, Badge{ID: "b", LevelRequired: 1}.Validate(), shared.ErrValueOutOfRange)
	assert.ErrorIs(t, Badge{LevelRequired: 3}.Validate(), shared.ErrInvalidID)
}

func TestRewards_StatIncreases(t *testing.T) {
	assert.Equal(t, 0, Rewards{Bits: 50}.StatIncreases())
	assert.Equal(t, 3, Rewards{Multiplier: 0.1, Discount: 5, Shield: 2}.StatIncreases())
	assert.Equal(t, 1, Rewards{Luck: 0.5, Multiplier: -0.1}.StatIncreases())
}
