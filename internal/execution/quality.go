package execution

import (
	"math"

	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
)

// Execution quality weights. They sum to 100.
const (
	impactWeight    = 35
	latencyWeight   = 20
	hopWeight       = 15
	liquidityWeight = 20
	spreadWeight    = 10
)

// QualityInput is everything the execution quality score looks at.
type QualityInput struct {
	PriceImpactBps       float64
	MaxPriceImpactBps    float64
	LatencyMs            float64
	MaxLatencyMs         float64
	RouteHops            int
	LiquidityUSD         float64
	MinRouteLiquidityUSD float64
	SpreadBps            float64
	MaxSpreadBps         float64
}

// ScoreExecutionQuality rates a route from 0 to 100, rounded to two decimals.
// The score never increases with impact, latency, hop count or spread.
func ScoreExecutionQuality(in QualityInput) float64 {
	impact := utils.Clamp(1-in.PriceImpactBps/math.Max(1, in.MaxPriceImpactBps), 0, 1) * impactWeight
	latency := utils.Clamp(1-in.LatencyMs/math.Max(1, in.MaxLatencyMs), 0, 1) * latencyWeight
	hops := utils.Clamp(1-float64(in.RouteHops-1)/4, 0, 1) * hopWeight
	liquidity := utils.Clamp(in.LiquidityUSD/math.Max(1, in.MinRouteLiquidityUSD), 0, 2) / 2 * liquidityWeight
	spread := utils.Clamp(1-in.SpreadBps/math.Max(1, in.MaxSpreadBps), 0, 1) * spreadWeight

	return utils.RoundTo(impact+latency+hops+liquidity+spread, 2)
}
