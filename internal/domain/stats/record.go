package stats

import (
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/classhub/progression-engine/internal/domain/shared"
)

const (
	// DefaultMultiplier - пассивный множитель новой записи.
	DefaultMultiplier = 1.0
	// DefaultLuck - удача новой записи.
	DefaultLuck = 1.0
	// MaxDiscount - верхняя граница скидки в процентах.
	MaxDiscount = 100.0
	// InitialLevel - уровень при нулевом XP.
	InitialLevel = 1
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Passive - пассивные атрибуты, выдаваемые предметами и бейджами.
type Passive struct {
	Multiplier float64 `json:"multiplier"`
	Luck       float64 `json:"luck"`
	Discount   float64 `json:"discount"`

	// DiscountExpiresAt - момент окончания временной скидки; nil для постоянной.
	DiscountExpiresAt *time.Time `json:"discount_expires_at,omitempty"`
}

// Stats - изменяемая часть записи: баланс и атрибуты.
type Stats struct {
	Balance     int64   `json:"balance"`
	Passive     Passive `json:"passive"`
	ShieldCount int     `json:"shield_count"`
}

// EarnedBadge - полученный бейдж.
type EarnedBadge struct {
	BadgeID  string    `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
}

// Progression - XP, уровень и полученные бейджи.
type Progression struct {
	XP           int64         `json:"xp"`
	Level        int           `json:"level"`
	EarnedBadges []EarnedBadge `json:"earned_badges"`

	// RewardedLevel - последний уровень, награды которого уже выданы.
	// Может отставать от Level, если уровень поднят XP из самих наград.
	RewardedLevel int `json:"rewarded_level"`
}

// RewardedThrough возвращает отметку выданных наград. Ноль у старых
// записей означает, что выдано всё до текущего уровня.
func (p Progression) RewardedThrough() int {
	if p.RewardedLevel < InitialLevel {
		return p.Level
	}
	return p.RewardedLevel
}

// LevelFunc вычисляет уровень по XP.
type LevelFunc func(xp int64) int

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - запись статистики студента в одной области.
type Record struct {
	Key       Key
	Stats     Stats
	XP        Progression
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord создаёт запись со значениями по умолчанию.
func NewRecord(key Key, now time.Time) *Record {
	return &Record{
		Key: key,
		Stats: Stats{
			Passive: Passive{Multiplier: DefaultMultiplier, Luck: DefaultLuck},
		},
		XP:        Progression{Level: InitialLevel, RewardedLevel: InitialLevel},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone возвращает глубокую копию записи.
func (r *Record) Clone() *Record {
	c := *r
	if r.Stats.Passive.DiscountExpiresAt != nil {
		t := *r.Stats.Passive.DiscountExpiresAt
		c.Stats.Passive.DiscountExpiresAt = &t
	}
	c.XP.EarnedBadges = slices.Clone(r.XP.EarnedBadges)
	return &c
}

// ─────────────────────────────────────────────────────────────────────────────
// Balance
// ─────────────────────────────────────────────────────────────────────────────

// AddBalance применяет изменение баланса с ограничением снизу нулём
// и возвращает новый баланс.
func (r *Record) AddBalance(delta int64) int64 {
	next := r.Stats.Balance + delta
	if delta > 0 && next < r.Stats.Balance {
		next = math.MaxInt64
	}
	if next < 0 {
		next = 0
	}
	r.Stats.Balance = next
	return next
}

// ─────────────────────────────────────────────────────────────────────────────
// Passive attributes
// ─────────────────────────────────────────────────────────────────────────────

// AddMultiplier прибавляет к пассивному множителю, не опуская его ниже нуля.
func (r *Record) AddMultiplier(delta float64) {
	r.Stats.Passive.Multiplier = clampNonNegative(r.Stats.Passive.Multiplier + sanitize(delta))
}

// AddLuck прибавляет к удаче, не опуская её ниже нуля.
func (r *Record) AddLuck(delta float64) {
	r.Stats.Passive.Luck = clampNonNegative(r.Stats.Passive.Luck + sanitize(delta))
}

// AddDiscount прибавляет к скидке в пределах [0, 100].
// Срок действия текущей скидки не меняется.
func (r *Record) AddDiscount(delta float64) {
	r.Stats.Passive.Discount = ClampDiscount(r.Stats.Passive.Discount + sanitize(delta))
}

// SetDiscount устанавливает скидку. expiresAt == nil делает её постоянной.
func (r *Record) SetDiscount(value float64, expiresAt *time.Time) {
	r.Stats.Passive.Discount = ClampDiscount(sanitize(value))
	r.Stats.Passive.DiscountExpiresAt = expiresAt
}

// EffectiveDiscount возвращает скидку с учётом срока действия.
func (r *Record) EffectiveDiscount(now time.Time) float64 {
	p := r.Stats.Passive
	if p.DiscountExpiresAt != nil && !now.Before(*p.DiscountExpiresAt) {
		return 0
	}
	return p.Discount
}

// ExpireEffects сбрасывает истёкшие временные эффекты.
// Возвращает true, если запись изменилась.
func (r *Record) ExpireEffects(now time.Time) bool {
	p := &r.Stats.Passive
	if p.DiscountExpiresAt == nil || now.Before(*p.DiscountExpiresAt) {
		return false
	}
	p.Discount = 0
	p.DiscountExpiresAt = nil
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Shields
// ─────────────────────────────────────────────────────────────────────────────

// ShieldActive возвращает true, если есть хотя бы один щит.
func (r *Record) ShieldActive() bool {
	return r.Stats.ShieldCount > 0
}

// AddShields изменяет число щитов, не опуская его ниже нуля.
func (r *Record) AddShields(n int) {
	r.Stats.ShieldCount = max(0, r.Stats.ShieldCount+n)
}

// ConsumeShield тратит один щит.
func (r *Record) ConsumeShield() error {
	if !r.ShieldActive() {
		return shared.ErrNoShieldToSpend
	}
	r.Stats.ShieldCount--
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// XP and badges
// ─────────────────────────────────────────────────────────────────────────────

// AddXP прибавляет XP и сразу пересчитывает уровень.
// Неположительное значение игнорируется: XP никогда не уменьшается.
func (r *Record) AddXP(amount int64, level LevelFunc) (oldXP, newXP int64) {
	oldXP = r.XP.XP
	if amount <= 0 {
		return oldXP, oldXP
	}
	newXP = oldXP + amount
	if newXP < oldXP {
		newXP = math.MaxInt64
	}
	r.XP.XP = newXP
	r.RecomputeLevel(level)
	return oldXP, newXP
}

// RecomputeLevel выставляет уровень как функцию текущего XP.
func (r *Record) RecomputeLevel(level LevelFunc) {
	r.XP.Level = max(InitialLevel, level(r.XP.XP))
}

// HasBadge проверяет, получен ли бейдж.
func (r *Record) HasBadge(badgeID string) bool {
	return slices.ContainsFunc(r.XP.EarnedBadges, func(b EarnedBadge) bool {
		return b.BadgeID == badgeID
	})
}

// AddBadge добавляет бейдж, если его ещё нет. Возвращает false для повтора.
func (r *Record) AddBadge(badgeID string, at time.Time) bool {
	if r.HasBadge(badgeID) {
		return false
	}
	r.XP.EarnedBadges = append(r.XP.EarnedBadges, EarnedBadge{BadgeID: badgeID, EarnedAt: at})
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - набор отслеживаемых полей, который сравнивает журнал изменений.
type Snapshot struct {
	Multiplier      float64
	Luck            float64
	Discount        float64
	Shield          int
	GroupMultiplier float64
	XP              int64
}

// Snapshot снимает отслеживаемые поля записи.
func (r *Record) Snapshot(groupMultiplier float64, now time.Time) Snapshot {
	return Snapshot{
		Multiplier:      r.Stats.Passive.Multiplier,
		Luck:            r.Stats.Passive.Luck,
		Discount:        r.EffectiveDiscount(now),
		Shield:          r.Stats.ShieldCount,
		GroupMultiplier: groupMultiplier,
		XP:              r.XP.XP,
	}
}

// Field - одно отслеживаемое поле снимка в каноническом строковом виде.
type Field struct {
	Name  string
	Value string
}

// Fields возвращает поля снимка в фиксированном порядке.
// Числа приводятся к кратчайшему десятичному виду, так что 1 и 1.0 совпадают.
func (s Snapshot) Fields() []Field {
	return []Field{
		{Name: "multiplier", Value: formatFloat(s.Multiplier)},
		{Name: "luck", Value: formatFloat(s.Luck)},
		{Name: "discount", Value: formatFloat(s.Discount)},
		{Name: "shield", Value: strconv.Itoa(s.Shield)},
		{Name: "groupMultiplier", Value: formatFloat(s.GroupMultiplier)},
		{Name: "xp", Value: strconv.FormatInt(s.XP, 10)},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// ClampDiscount ограничивает скидку диапазоном [0, 100].
func ClampDiscount(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > MaxDiscount {
		return MaxDiscount
	}
	return v
}

func clampNonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
