// Package badge описывает каталог бейджей класса.
package badge

import (
	"context"
	"slices"
	"strings"

	"github.com/classhub/progression-engine/internal/domain/shared"
)

// MinLevelRequired - минимальный уровень для бейджа: уровень 1 есть у всех.
const MinLevelRequired = 2

// Rewards - награды за получение бейджа.
type Rewards struct {
	Bits       int64   `json:"bits"`
	Multiplier float64 `json:"multiplier"`
	Luck       float64 `json:"luck"`
	Discount   float64 `json:"discount"`
	Shield     int     `json:"shield"`

	ApplyPersonalMultiplier bool `json:"applyPersonalMultiplier"`
	ApplyGroupMultiplier    bool `json:"applyGroupMultiplier"`
}

// StatIncreases возвращает число атрибутов, которые бейдж увеличивает.
func (r Rewards) StatIncreases() int {
	n := 0
	for _, v := range []float64{r.Multiplier, r.Luck, r.Discount} {
		if v > 0 {
			n++
		}
	}
	if r.Shield > 0 {
		n++
	}
	return n
}

// Badge - бейдж из каталога класса.
type Badge struct {
	ID            string  `json:"id"`
	ClassroomID   string  `json:"classroom_id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	LevelRequired int     `json:"level_required"`
	Rewards       Rewards `json:"rewards"`
}

// Validate проверяет бейдж каталога.
func (b Badge) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return shared.NewDomainError("badge", "Validate", shared.ErrInvalidID, "badge id is required")
	}
	if b.LevelRequired < MinLevelRequired {
		return shared.NewDomainError("badge", "Validate", shared.ErrValueOutOfRange, "level required must be at least 2")
	}
	return nil
}

// Unlockable возвращает бейджи с LevelRequired <= level, которых ещё нет,
// по возрастанию LevelRequired (при равенстве по ID).
func Unlockable(catalog []Badge, level int, earned func(badgeID string) bool) []Badge {
	out := make([]Badge, 0, len(catalog))
	for _, b := range catalog {
		if b.LevelRequired > level || earned(b.ID) {
			continue
		}
		out = append(out, b)
	}
	slices.SortStableFunc(out, func(a, b Badge) int {
		if a.LevelRequired != b.LevelRequired {
			return a.LevelRequired - b.LevelRequired
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Catalog - каталог бейджей.
type Catalog interface {
	ListByClassroom(ctx context.Context, classroomID string) ([]Badge, error)
}
