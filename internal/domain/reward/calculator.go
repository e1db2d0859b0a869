// Package reward computes reward amounts from a base amount and the
// personal and group multipliers that apply to it.
package reward

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/classhub/progression-engine/internal/domain/ledger"
)

// Input is the set of values a reward is computed from.
type Input struct {
	BaseAmount    int64
	ApplyPersonal bool
	ApplyGroup    bool
	Personal      float64
	Group         float64
}

// Calculate applies additive multiplier stacking:
//
//	total = 1 + (P-1 if personal applies) + (G-1 if group applies)
//	final = round(base * total)
//
// Debits and zero amounts are returned unchanged with a total of 1.
// Rounding is half away from zero.
func Calculate(in Input) ledger.Calculation {
	p := SanitizeMultiplier(in.Personal)
	g := SanitizeMultiplier(in.Group)

	calc := ledger.Calculation{
		BaseAmount:         in.BaseAmount,
		PersonalMultiplier: p,
		GroupMultiplier:    g,
		TotalMultiplier:    1,
		FinalAmount:        in.BaseAmount,
	}
	if in.BaseAmount <= 0 {
		return calc
	}

	one := decimal.NewFromInt(1)
	total := one
	if in.ApplyPersonal {
		total = total.Add(decimal.NewFromFloat(p).Sub(one))
	}
	if in.ApplyGroup {
		total = total.Add(decimal.NewFromFloat(g).Sub(one))
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	final := decimal.NewFromInt(in.BaseAmount).Mul(total).Round(0)
	calc.TotalMultiplier = total.InexactFloat64()
	calc.FinalAmount = clampInt64(final)
	return calc
}

// SanitizeMultiplier returns 1 for non-finite, zero or negative values.
func SanitizeMultiplier(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 1
	}
	return v
}

func clampInt64(d decimal.Decimal) int64 {
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return math.MaxInt64
	}
	return d.IntPart()
}
