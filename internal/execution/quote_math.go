package execution

import (
	"math"

	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"github.com/shopspring/decimal"
)

// ParsePriceImpactBps converts an aggregator priceImpactPct string (a fraction)
// into basis points. Unparseable or negative values are 0.
func ParsePriceImpactBps(raw string) float64 {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return 0
	}
	return float64(d.Mul(decimal.NewFromInt(10_000)).Round(0).IntPart())
}

// InstantLossBps is the relative loss in bps of buying with inSol and selling straight back for outSol.
func InstantLossBps(inSol, outSol float64) float64 {
	if !(inSol > 0) {
		return 0
	}
	loss := (inSol - outSol) / inSol
	if !utils.IsFinite(loss) || loss <= 0 {
		return 0
	}
	return math.Round(loss * 10_000)
}

// PnlPct is the fractional gain of currentSol over costSol, 0 without a cost basis.
func PnlPct(currentSol, costSol float64) float64 {
	if !(costSol > 0) {
		return 0
	}
	return (currentSol - costSol) / costSol
}

// PnlSol is the absolute gain of currentSol over costSol.
func PnlSol(currentSol, costSol float64) float64 {
	return currentSol - costSol
}

// EscalatedValue grows base by step per attempt and clamps the result to [0, max].
func EscalatedValue(base, step, max float64, attempt int) float64 {
	raw := base + step*float64(attempt)
	return math.Round(math.Min(math.Max(0, raw), math.Max(0, max)))
}
