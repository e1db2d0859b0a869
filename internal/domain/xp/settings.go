// Package xp содержит настройки опыта класса и формулы уровня.
package xp

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/classhub/progression-engine/internal/domain/shared"
)

// Basis выбирает, от какой суммы считается XP за биты.
type Basis string

const (
	// BasisBase - сумма до применения множителей.
	BasisBase Basis = "base"
	// BasisFinal - сумма после применения множителей.
	BasisFinal Basis = "final"
)

// LevelUpRewards - награды за повышение уровня.
type LevelUpRewards struct {
	BitsPerLevel       int64   `json:"bitsPerLevel"`
	ScaleBitsByLevel   bool    `json:"scaleBitsByLevel"`
	MultiplierPerLevel float64 `json:"multiplierPerLevel"`
	LuckPerLevel       float64 `json:"luckPerLevel"`
	DiscountPerLevel   float64 `json:"discountPerLevel"`
	ShieldAtLevels     []int   `json:"shieldAtLevels"`

	ApplyPersonalMultiplier bool `json:"applyPersonalMultiplier"`
	ApplyGroupMultiplier    bool `json:"applyGroupMultiplier"`

	// CountBitsTowardXP и CountStatsTowardXP возвращают награды
	// за уровень обратно в XP.
	CountBitsTowardXP  bool `json:"countBitsTowardXP"`
	CountStatsTowardXP bool `json:"countStatsTowardXP"`
}

// GrantsShieldAt проверяет, выдаётся ли щит на уровне.
func (r LevelUpRewards) GrantsShieldAt(level int) bool {
	return slices.Contains(r.ShieldAtLevels, level)
}

// Settings - настройки опыта одного класса.
type Settings struct {
	Enabled          bool    `json:"enabled"`
	LevelingFormula  Formula `json:"levelingFormula"`
	BaseXPForLevel2  int64   `json:"baseXPForLevel2"`
	BitsEarnedRate   float64 `json:"bitsEarnedRate"`
	BitsXPBasis      Basis   `json:"bitsXPBasis"`
	StatIncreaseRate float64 `json:"statIncreaseRate"`
	BadgeUnlockRate  int64   `json:"badgeUnlockRate"`

	LevelUpRewards LevelUpRewards `json:"levelUpRewards"`
}

// DefaultSettings возвращает настройки класса без явной конфигурации.
func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		LevelingFormula:  FormulaExponential,
		BaseXPForLevel2:  DefaultBaseXPForLevel2,
		BitsEarnedRate:   1,
		BitsXPBasis:      BasisFinal,
		StatIncreaseRate: 10,
		BadgeUnlockRate:  25,
		LevelUpRewards: LevelUpRewards{
			BitsPerLevel:     25,
			ScaleBitsByLevel: true,
		},
	}
}

// Normalize подставляет значения по умолчанию вместо некорректных.
func (s Settings) Normalize() Settings {
	if !s.LevelingFormula.IsValid() {
		s.LevelingFormula = FormulaExponential
	}
	if s.BaseXPForLevel2 <= 0 {
		s.BaseXPForLevel2 = DefaultBaseXPForLevel2
	}
	if s.BitsXPBasis != BasisBase {
		s.BitsXPBasis = BasisFinal
	}
	s.BitsEarnedRate = nonNegative(s.BitsEarnedRate)
	s.StatIncreaseRate = nonNegative(s.StatIncreaseRate)
	s.BadgeUnlockRate = max(0, s.BadgeUnlockRate)
	s.LevelUpRewards.BitsPerLevel = max(0, s.LevelUpRewards.BitsPerLevel)
	return s
}

// Validate проверяет настройки перед сохранением.
func (s Settings) Validate() error {
	if s.LevelingFormula != "" && !s.LevelingFormula.IsValid() {
		return shared.NewDomainError("xp", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown leveling formula %q", s.LevelingFormula))
	}
	if s.BitsXPBasis != "" && s.BitsXPBasis != BasisBase && s.BitsXPBasis != BasisFinal {
		return shared.NewDomainError("xp", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown bits XP basis %q", s.BitsXPBasis))
	}
	if s.BitsEarnedRate < 0 || s.StatIncreaseRate < 0 || s.BadgeUnlockRate < 0 {
		return shared.NewDomainError("xp", "Validate", shared.ErrValueOutOfRange, "rates must be non-negative")
	}
	return nil
}

// LevelFor возвращает уровень для XP по настройкам класса.
func (s Settings) LevelFor(xp int64) int {
	return LevelFromXP(xp, s.LevelingFormula, s.BaseXPForLevel2)
}

// XPForBits возвращает XP за начисленные биты.
func (s Settings) XPForBits(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * s.BitsEarnedRate))
}

// XPForStats возвращает XP за count увеличенных атрибутов.
func (s Settings) XPForStats(count int) int64 {
	if count <= 0 {
		return 0
	}
	return int64(math.Round(float64(count) * s.StatIncreaseRate))
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// SettingsRepository хранит настройки классов.
type SettingsRepository interface {
	// Get возвращает настройки класса или DefaultSettings, если их нет.
	Get(ctx context.Context, classroomID string) (Settings, error)
	Save(ctx context.Context, classroomID string, s Settings) error
}
