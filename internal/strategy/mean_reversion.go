package strategy

import (
	"math"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
)

// MeanReversionRange buys oversold dips that are stabilising inside a range.
type MeanReversionRange struct {
	cfg             config.StrategyConfig
	maxSpreadBps    float64
	oversoldFloor   float64
	oversoldCeiling float64
	stabilizationM5 float64
}

// NewMeanReversionRange creates the range reversion strategy.
func NewMeanReversionRange(cfg config.StrategyConfig, watchlist config.WatchlistConfig) *MeanReversionRange {
	return &MeanReversionRange{
		cfg:             cfg,
		maxSpreadBps:    watchlist.MaxSpreadBps,
		oversoldFloor:   cfg.Param("oversoldFloor", -0.14),
		oversoldCeiling: cfg.Param("oversoldCeiling", -0.015),
		stabilizationM5: cfg.Param("stabilizationM5", -0.012),
	}
}

func (s *MeanReversionRange) ID() string { return config.StrategyMeanReversionRange }
func (s *MeanReversionRange) Description() string {
	return "Buys oversold 1h moves once the 5m move stabilises in ranging or neutral markets"
}

func (s *MeanReversionRange) Parameters() map[string]Parameter {
	return map[string]Parameter{
		"oversoldFloor":   param(s.cfg, "oversoldFloor", "Lower bound of the oversold 1h band", -0.14),
		"oversoldCeiling": param(s.cfg, "oversoldCeiling", "Upper bound of the oversold 1h band", -0.015),
		"stabilizationM5": param(s.cfg, "stabilizationM5", "5m change above which the dip counts as stabilised", -0.012),
	}
}

func (s *MeanReversionRange) Evaluate(candidate types.Candidate, regime types.Regime) *types.Signal {
	if !s.cfg.Enabled {
		return nil
	}

	h1 := finite(candidate.PriceChange.H1)
	m5 := finite(candidate.PriceChange.M5)
	spreadBps := spreadOrWorst(candidate.SpreadBps)

	inRange := regimeIn(regime, types.RegimeRanging, types.RegimeNeutral)
	oversold := h1 < s.oversoldCeiling && h1 > s.oversoldFloor
	stabilized := m5 > s.stabilizationM5
	tradableSpread := spreadBps <= s.maxSpreadBps

	confidence := 0.1
	if inRange {
		confidence = 0.35
	}
	confidence += math.Min(0.35, math.Abs(h1)*2.5)
	if stabilized {
		confidence += 0.2
	}
	if tradableSpread {
		confidence += 0.1
	}

	actionable := inRange && oversold && stabilized && tradableSpread

	return newSignal(s.ID(), s.cfg, actionable, utils.Clamp01(confidence),
		"range_reversion_setup", "range_reversion_not_ready",
		map[string]interface{}{"h1": h1, "m5": m5, "spreadBps": spreadBps},
	)
}
