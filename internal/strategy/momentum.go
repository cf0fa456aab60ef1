package strategy

import (
	"math"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
)

// TrendBreakoutMomentum buys short-horizon breakouts backed by buy-side flow.
type TrendBreakoutMomentum struct {
	cfg          config.StrategyConfig
	minH1        float64
	minFlowRatio float64
}

// NewTrendBreakoutMomentum creates the momentum breakout strategy.
func NewTrendBreakoutMomentum(cfg config.StrategyConfig) *TrendBreakoutMomentum {
	return &TrendBreakoutMomentum{
		cfg:          cfg,
		minH1:        cfg.Param("minH1", 0.02),
		minFlowRatio: cfg.Param("minFlowRatio", 1.05),
	}
}

func (s *TrendBreakoutMomentum) ID() string { return config.StrategyTrendBreakoutMomentum }
func (s *TrendBreakoutMomentum) Description() string {
	return "Buys 1h breakouts with a non-negative 5m move and buy-dominated flow"
}

func (s *TrendBreakoutMomentum) Parameters() map[string]Parameter {
	return map[string]Parameter{
		"minH1":        param(s.cfg, "minH1", "Minimum 1h price change", 0.02),
		"minFlowRatio": param(s.cfg, "minFlowRatio", "Minimum buy/sell transaction ratio", 1.05),
	}
}

func (s *TrendBreakoutMomentum) Evaluate(candidate types.Candidate, regime types.Regime) *types.Signal {
	if !s.cfg.Enabled {
		return nil
	}

	m5 := finite(candidate.PriceChange.M5)
	h1 := finite(candidate.PriceChange.H1)
	flowRatio := float64(candidate.BuyTx24h) / math.Max(1, float64(candidate.SellTx24h))

	regimeBoost := 0.6
	if regimeIn(regime, types.RegimeTrending, types.RegimeVolatileTrend) {
		regimeBoost = 1
	}
	confidence := utils.Clamp01(h1*3 + m5*1.5 + (flowRatio-1)*0.2 + regimeBoost*0.35)

	actionable := h1 > s.minH1 && m5 >= 0 && flowRatio >= s.minFlowRatio

	return newSignal(s.ID(), s.cfg, actionable, confidence,
		"momentum_breakout_confirmed", "momentum_not_confirmed",
		map[string]interface{}{"m5": m5, "h1": h1, "flowRatio": flowRatio},
	)
}
