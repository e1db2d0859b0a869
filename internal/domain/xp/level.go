package xp

import "math"

// Formula - формула роста порога уровня.
type Formula string

const (
	// FormulaExponential - прирост порога каждого следующего уровня в 1.5 раза больше.
	FormulaExponential Formula = "exponential"
	// FormulaLinear - постоянный прирост порога.
	FormulaLinear Formula = "linear"
	// FormulaLogarithmic - порог растёт медленнее линейного.
	FormulaLogarithmic Formula = "logarithmic"
)

const (
	// DefaultBaseXPForLevel2 - порог второго уровня по умолчанию.
	DefaultBaseXPForLevel2 int64 = 100
	// MaxLevel - верхняя граница уровня.
	MaxLevel = 1000

	exponentialGrowth = 1.5
)

// IsValid проверяет формулу.
func (f Formula) IsValid() bool {
	switch f {
	case FormulaExponential, FormulaLinear, FormulaLogarithmic:
		return true
	default:
		return false
	}
}

// LevelFromXP возвращает уровень для XP.
//
// Для всех формул уровень при нуле равен 1, не убывает с ростом XP,
// а при xp == base ровно 2. Неизвестная формула считается экспоненциальной,
// base <= 0 заменяется на DefaultBaseXPForLevel2.
func LevelFromXP(xp int64, formula Formula, base int64) int {
	if xp <= 0 {
		return 1
	}
	l := newLadder(formula, base)
	for l.level < MaxLevel {
		next, ok := l.peek()
		if !ok || next > xp {
			break
		}
		l.advance(next)
	}
	return l.level
}

// ThresholdForLevel возвращает минимальный XP уровня. Для уровня выше
// достижимого возвращает math.MaxInt64.
func ThresholdForLevel(level int, formula Formula, base int64) int64 {
	if level <= 1 {
		return 0
	}
	if level > MaxLevel {
		return math.MaxInt64
	}
	l := newLadder(formula, base)
	for l.level < level {
		next, ok := l.peek()
		if !ok {
			return math.MaxInt64
		}
		l.advance(next)
	}
	return l.threshold
}

// ladder перебирает пороги уровней по возрастанию.
type ladder struct {
	formula   Formula
	base      int64
	level     int
	threshold int64
}

func newLadder(formula Formula, base int64) *ladder {
	if !formula.IsValid() {
		formula = FormulaExponential
	}
	if base <= 0 {
		base = DefaultBaseXPForLevel2
	}
	return &ladder{formula: formula, base: base, level: 1}
}

// peek возвращает порог следующего уровня. false при переполнении.
func (l *ladder) peek() (int64, bool) {
	b := float64(l.base)
	var next float64

	switch l.formula {
	case FormulaLinear:
		next = float64(l.threshold) + b
	case FormulaLogarithmic:
		// порог уровня n: base * m / (1 + ln m), m = n-1
		m := float64(l.level)
		next = math.Ceil(b * m / (1 + math.Log(m)))
	default:
		// прирост от уровня L к L+1: base * 1.5^(L-1)
		inc := math.Floor(b * math.Pow(exponentialGrowth, float64(l.level-1)))
		next = float64(l.threshold) + inc
	}

	if next >= math.MaxInt64 || math.IsInf(next, 0) {
		return 0, false
	}
	n := int64(next)
	if n <= l.threshold {
		n = l.threshold + 1
	}
	return n, true
}

func (l *ladder) advance(next int64) {
	l.threshold = next
	l.level++
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Progress - положение студента внутри текущего уровня.
type Progress struct {
	XP             int64   `json:"xp"`
	Level          int     `json:"level"`
	LevelStartXP   int64   `json:"levelStartXP"`
	NextLevelXP    int64   `json:"nextLevelXP"`
	XPIntoLevel    int64   `json:"xpIntoLevel"`
	XPToNextLevel  int64   `json:"xpToNextLevel"`
	PercentToNext  float64 `json:"percentToNext"`
	AtMaximumLevel bool    `json:"atMaximumLevel"`
}

// ComputeProgress вычисляет прогресс для XP по формуле.
func ComputeProgress(xp int64, formula Formula, base int64) Progress {
	xp = max(0, xp)
	level := LevelFromXP(xp, formula, base)
	start := ThresholdForLevel(level, formula, base)

	p := Progress{
		XP:           xp,
		Level:        level,
		LevelStartXP: start,
		XPIntoLevel:  xp - start,
	}
	if level >= MaxLevel {
		p.AtMaximumLevel = true
		p.PercentToNext = 100
		p.NextLevelXP = start
		return p
	}

	next := ThresholdForLevel(level+1, formula, base)
	p.NextLevelXP = next
	if next == math.MaxInt64 {
		p.AtMaximumLevel = true
		p.PercentToNext = 100
		return p
	}
	p.XPToNextLevel = next - xp
	span := next - start
	if span > 0 {
		p.PercentToNext = math.Floor(float64(p.XPIntoLevel)/float64(span)*10000) / 100
	}
	return p
}
