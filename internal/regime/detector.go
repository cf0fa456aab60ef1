// Package regime classifies the aggregate market state of a candidate batch.
// Detects: low liquidity, volatile trend, volatile chop, trending, ranging, neutral.
package regime

import (
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// minHistory is the smallest history ring the detector keeps.
const minHistory = 5

// Snapshot is the per-cycle aggregate of a candidate batch.
type Snapshot struct {
	MedianPrice        float64   `json:"medianPrice"`
	MedianLiquidityUSD float64   `json:"medianLiquidityUsd"`
	MeanH1Move         float64   `json:"meanH1Move"`
	PriceReturn        float64   `json:"priceReturn"`
	Timestamp          time.Time `json:"timestamp"`
}

// RegimeDetector classifies market regimes from a rolling history of batch snapshots.
type RegimeDetector struct {
	logger *zap.Logger
	config config.RegimeConfig

	mu              sync.RWMutex
	history         []Snapshot
	lastMedianPrice float64
	current         *types.Regime
}

// NewRegimeDetector creates a new regime detector.
func NewRegimeDetector(logger *zap.Logger, cfg config.RegimeConfig) *RegimeDetector {
	return &RegimeDetector{
		logger:  logger.Named("regime"),
		config:  cfg,
		history: make([]Snapshot, 0, historySize(cfg)),
	}
}

func historySize(cfg config.RegimeConfig) int {
	if cfg.LookbackTicks > minHistory {
		return cfg.LookbackTicks
	}
	return minHistory
}

// Detect appends a snapshot of candidates to the history and classifies the regime.
// An empty batch leaves the history untouched and reports NEUTRAL.
func (rd *RegimeDetector) Detect(candidates []types.Candidate, now time.Time) types.Regime {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if len(candidates) == 0 {
		return types.Regime{Name: types.RegimeNeutral, SampleSize: len(rd.history), Timestamp: now}
	}

	snap := rd.snapshot(candidates, now)
	rd.history = append(rd.history, snap)
	if max := historySize(rd.config); len(rd.history) > max {
		rd.history = rd.history[len(rd.history)-max:]
	}

	returns := make([]float64, len(rd.history))
	for i, h := range rd.history {
		returns[i] = h.PriceReturn
	}
	trend := utils.Mean(returns)
	volatility := utils.StdDev(returns)
	liquidity := rd.history[len(rd.history)-1].MedianLiquidityUSD

	name := rd.classify(trend, volatility, liquidity)

	liquidityBonus := 0.0
	if liquidity >= rd.config.LowLiquidityUSD {
		liquidityBonus = 0.1
	}
	confidence := utils.Clamp(math.Abs(trend)*12+volatility*8+liquidityBonus, 0, 1)

	result := types.Regime{
		Name:               name,
		Confidence:         confidence,
		Trend:              trend,
		Volatility:         volatility,
		SampleSize:         len(rd.history),
		MedianLiquidityUSD: liquidity,
		Timestamp:          now,
	}

	if rd.current == nil || rd.current.Name != name {
		rd.logger.Info("Regime changed",
			zap.String("regime", string(name)),
			zap.Float64("confidence", confidence),
			zap.Float64("trend", trend),
			zap.Float64("volatility", volatility),
		)
	}
	rd.current = &result
	return result
}

// snapshot aggregates one candidate batch. The price return is 0 on the first cycle.
func (rd *RegimeDetector) snapshot(candidates []types.Candidate, now time.Time) Snapshot {
	prices := make([]float64, 0, len(candidates))
	liquidity := make([]float64, 0, len(candidates))
	moves := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		if utils.IsFinite(c.PriceUSD) && c.PriceUSD > 0 {
			prices = append(prices, c.PriceUSD)
		}
		if utils.IsFinite(c.LiquidityUSD) {
			liquidity = append(liquidity, c.LiquidityUSD)
		}
		if utils.IsFinite(c.PriceChange.H1) {
			moves = append(moves, c.PriceChange.H1)
		}
	}

	medianPrice := utils.Median(prices)
	priceReturn := 0.0
	if rd.lastMedianPrice > 0 {
		priceReturn = utils.PercentChange(medianPrice, rd.lastMedianPrice)
	}
	if medianPrice > 0 {
		rd.lastMedianPrice = medianPrice
	}

	return Snapshot{
		MedianPrice:        medianPrice,
		MedianLiquidityUSD: utils.Median(liquidity),
		MeanH1Move:         utils.Mean(moves),
		PriceReturn:        priceReturn,
		Timestamp:          now,
	}
}

// classify applies the fixed decision order.
func (rd *RegimeDetector) classify(trend, volatility, liquidity float64) types.RegimeName {
	absTrend := math.Abs(trend)
	switch {
	case liquidity < rd.config.LowLiquidityUSD:
		return types.RegimeLowLiquidity
	case volatility >= rd.config.HighVolatilityThreshold:
		if absTrend >= rd.config.TrendThreshold {
			return types.RegimeVolatileTrend
		}
		return types.RegimeVolatileChop
	case absTrend >= rd.config.TrendThreshold:
		return types.RegimeTrending
	case volatility <= rd.config.RangeVolatilityThreshold:
		return types.RegimeRanging
	default:
		return types.RegimeNeutral
	}
}

// Current returns the most recent classification.
func (rd *RegimeDetector) Current() *types.Regime {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	if rd.current == nil {
		return nil
	}
	r := *rd.current
	return &r
}

// History returns a copy of the snapshot ring.
func (rd *RegimeDetector) History() []Snapshot {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	out := make([]Snapshot, len(rd.history))
	copy(out, rd.history)
	return out
}
