package strategy

import (
	"math"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
)

// VolatilityCompression buys quiet short-horizon tape on top of a 24h uptrend.
type VolatilityCompression struct {
	cfg    config.StrategyConfig
	maxM5  float64
	maxH1  float64
	minH24 float64
}

// NewVolatilityCompression creates the compression breakout strategy.
func NewVolatilityCompression(cfg config.StrategyConfig) *VolatilityCompression {
	return &VolatilityCompression{
		cfg:    cfg,
		maxM5:  cfg.Param("maxM5", 0.006),
		maxH1:  cfg.Param("maxH1", 0.025),
		minH24: cfg.Param("minH24", 0.02),
	}
}

func (s *VolatilityCompression) ID() string { return config.StrategyVolatilityCompression }
func (s *VolatilityCompression) Description() string {
	return "Buys compressed 5m/1h ranges when the 24h move shows a latent trend"
}

func (s *VolatilityCompression) Parameters() map[string]Parameter {
	return map[string]Parameter{
		"maxM5":  param(s.cfg, "maxM5", "Largest absolute 5m move counted as compressed", 0.006),
		"maxH1":  param(s.cfg, "maxH1", "Largest absolute 1h move counted as compressed", 0.025),
		"minH24": param(s.cfg, "minH24", "Minimum 24h change for a latent trend", 0.02),
	}
}

func (s *VolatilityCompression) Evaluate(candidate types.Candidate, regime types.Regime) *types.Signal {
	if !s.cfg.Enabled {
		return nil
	}

	m5 := finite(candidate.PriceChange.M5)
	h1 := finite(candidate.PriceChange.H1)
	h24 := finite(candidate.PriceChange.H24)

	compression := math.Abs(m5) <= s.maxM5 && math.Abs(h1) <= s.maxH1
	latentTrend := h24 > s.minH24
	regimeSupports := regimeIn(regime, types.RegimeNeutral, types.RegimeRanging, types.RegimeTrending)

	confidence := 0.1
	if compression {
		confidence = 0.45
	}
	if latentTrend {
		confidence += 0.25
	}
	if regimeSupports {
		confidence += 0.15
	}
	confidence += math.Min(0.15, math.Max(0, 0.02-math.Abs(m5))*4)

	actionable := compression && latentTrend && regimeSupports

	return newSignal(s.ID(), s.cfg, actionable, utils.Clamp01(confidence),
		"compression_breakout_setup", "compression_not_ready",
		map[string]interface{}{"m5": m5, "h1": h1, "h24": h24},
	)
}
