package strategy

import (
	"math"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
)

// LiquidityAwareConservative buys only deep, active, tight-spread markets.
type LiquidityAwareConservative struct {
	cfg               config.StrategyConfig
	minLiquidityUSD   float64
	minVolume24hUSD   float64
	maxSpreadBps      float64
	liquidityMultiple float64
	volumeMultiple    float64
	spreadFraction    float64
}

// NewLiquidityAwareConservative creates the conservative liquidity-gated strategy.
func NewLiquidityAwareConservative(cfg config.StrategyConfig, watchlist config.WatchlistConfig) *LiquidityAwareConservative {
	return &LiquidityAwareConservative{
		cfg:               cfg,
		minLiquidityUSD:   watchlist.MinLiquidityUSD,
		minVolume24hUSD:   watchlist.MinVolume24hUSD,
		maxSpreadBps:      watchlist.MaxSpreadBps,
		liquidityMultiple: cfg.Param("liquidityMultiple", 1.4),
		volumeMultiple:    cfg.Param("volumeMultiple", 1.2),
		spreadFraction:    cfg.Param("spreadFraction", 0.75),
	}
}

func (s *LiquidityAwareConservative) ID() string { return config.StrategyLiquidityAwareConservative }
func (s *LiquidityAwareConservative) Description() string {
	return "Buys when liquidity, volume and spread clear the watchlist floors with margin"
}

func (s *LiquidityAwareConservative) Parameters() map[string]Parameter {
	return map[string]Parameter{
		"liquidityMultiple": param(s.cfg, "liquidityMultiple", "Required multiple of the liquidity floor", 1.4),
		"volumeMultiple":    param(s.cfg, "volumeMultiple", "Required multiple of the volume floor", 1.2),
		"spreadFraction":    param(s.cfg, "spreadFraction", "Allowed fraction of the spread ceiling", 0.75),
	}
}

func (s *LiquidityAwareConservative) Evaluate(candidate types.Candidate, regime types.Regime) *types.Signal {
	if !s.cfg.Enabled {
		return nil
	}

	liquidity := finite(candidate.LiquidityUSD)
	volume := finite(candidate.Volume24hUSD)
	spreadBps := spreadOrWorst(candidate.SpreadBps)

	liqRatio := liquidity / math.Max(1, s.minLiquidityUSD)
	volRatio := volume / math.Max(1, s.minVolume24hUSD)
	spreadScore := 0.0
	if spreadBps <= s.maxSpreadBps {
		spreadScore = 1
	}
	lowLiquidity := regime.Name == types.RegimeLowLiquidity
	regimeFit := 0.1
	if lowLiquidity {
		regimeFit = -0.25
	}

	confidence := utils.Clamp01(math.Min(0.5, liqRatio*0.2) + math.Min(0.3, volRatio*0.1) + spreadScore*0.2 + regimeFit)

	actionable := liquidity >= s.minLiquidityUSD*s.liquidityMultiple &&
		volume >= s.minVolume24hUSD*s.volumeMultiple &&
		spreadBps <= s.maxSpreadBps*s.spreadFraction &&
		!lowLiquidity

	return newSignal(s.ID(), s.cfg, actionable, confidence,
		"conservative_liquidity_pass", "conservative_filters_not_met",
		map[string]interface{}{"liquidity": liquidity, "volume": volume, "spreadBps": spreadBps},
	)
}
