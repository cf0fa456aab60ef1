package strategy_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/strategy"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func regimeOf(name types.RegimeName) types.Regime {
	return types.Regime{Name: name}
}

func TestTrendBreakoutMomentum(t *testing.T) {
	cfg := config.Default().Strategies.TrendBreakoutMomentum
	s := strategy.NewTrendBreakoutMomentum(cfg)

	c := types.Candidate{
		Mint:        "MintM",
		BuyTx24h:    120,
		SellTx24h:   100,
		PriceChange: types.PriceChange{M5: 0.01, H1: 0.05},
	}

	sig := s.Evaluate(c, regimeOf(types.RegimeTrending))
	require.NotNil(t, sig)
	assert.Equal(t, types.ActionBuy, sig.Action)
	assert.Equal(t, "momentum_breakout_confirmed", sig.Reason)
	assert.InDelta(t, 0.555, sig.Confidence, 1e-9)
	assert.False(t, sig.Shadow)
	assert.InDelta(t, 1.2, sig.Metadata["flowRatio"], 1e-9)

	sig = s.Evaluate(c, regimeOf(types.RegimeRanging))
	assert.InDelta(t, 0.415, sig.Confidence, 1e-9)

	c.PriceChange.H1 = 0.01
	sig = s.Evaluate(c, regimeOf(types.RegimeTrending))
	assert.Equal(t, types.ActionHold, sig.Action)
	assert.Equal(t, "momentum_not_confirmed", sig.Reason)

	cfg.Params = map[string]float64{"minh1": 0.1}
	tight := strategy.NewTrendBreakoutMomentum(cfg)
	c.PriceChange.H1 = 0.05
	assert.Equal(t, types.ActionHold, tight.Evaluate(c, regimeOf(types.RegimeTrending)).Action)
	assert.Equal(t, 0.1, tight.Parameters()["minH1"].Current)
}

func TestDisabledStrategyReturnsNil(t *testing.T) {
	cfg := config.Default().Strategies.TrendBreakoutMomentum
	cfg.Enabled = false
	s := strategy.NewTrendBreakoutMomentum(cfg)
	assert.Nil(t, s.Evaluate(types.Candidate{Mint: "X"}, regimeOf(types.RegimeTrending)))
}

func TestMeanReversionRange(t *testing.T) {
	defaults := config.Default()
	s := strategy.NewMeanReversionRange(defaults.Strategies.MeanReversionRange, defaults.Watchlist)

	c := types.Candidate{SpreadBps: 100, PriceChange: types.PriceChange{M5: 0, H1: -0.05}}

	sig := s.Evaluate(c, regimeOf(types.RegimeRanging))
	require.NotNil(t, sig)
	assert.Equal(t, types.ActionBuy, sig.Action)
	assert.Equal(t, "range_reversion_setup", sig.Reason)
	assert.InDelta(t, 0.775, sig.Confidence, 1e-9)
	assert.True(t, sig.Shadow)

	sig = s.Evaluate(c, regimeOf(types.RegimeTrending))
	assert.Equal(t, types.ActionHold, sig.Action)
	assert.Equal(t, "range_reversion_not_ready", sig.Reason)
	assert.InDelta(t, 0.525, sig.Confidence, 1e-9)

	c.SpreadBps = 0
	sig = s.Evaluate(c, regimeOf(types.RegimeRanging))
	assert.Equal(t, types.ActionHold, sig.Action)
	assert.Equal(t, 9_999.0, sig.Metadata["spreadBps"])

	c.SpreadBps = 100
	c.PriceChange.H1 = -0.2
	assert.Equal(t, types.ActionHold, s.Evaluate(c, regimeOf(types.RegimeNeutral)).Action)
}

func TestVolatilityCompression(t *testing.T) {
	s := strategy.NewVolatilityCompression(config.Default().Strategies.VolatilityCompression)

	c := types.Candidate{PriceChange: types.PriceChange{M5: 0.002, H1: 0.01, H24: 0.05}}

	sig := s.Evaluate(c, regimeOf(types.RegimeNeutral))
	require.NotNil(t, sig)
	assert.Equal(t, types.ActionBuy, sig.Action)
	assert.Equal(t, "compression_breakout_setup", sig.Reason)
	assert.InDelta(t, 0.922, sig.Confidence, 1e-9)

	sig = s.Evaluate(c, regimeOf(types.RegimeVolatileChop))
	assert.Equal(t, types.ActionHold, sig.Action)
	assert.Equal(t, "compression_not_ready", sig.Reason)

	c.PriceChange.H24 = 0.01
	assert.Equal(t, types.ActionHold, s.Evaluate(c, regimeOf(types.RegimeNeutral)).Action)
}

func TestLiquidityAwareConservative(t *testing.T) {
	defaults := config.Default()
	s := strategy.NewLiquidityAwareConservative(defaults.Strategies.LiquidityAwareConservative, defaults.Watchlist)

	c := types.Candidate{LiquidityUSD: 50_000, Volume24hUSD: 100_000, SpreadBps: 100}

	sig := s.Evaluate(c, regimeOf(types.RegimeTrending))
	require.NotNil(t, sig)
	assert.Equal(t, types.ActionBuy, sig.Action)
	assert.Equal(t, "conservative_liquidity_pass", sig.Reason)
	assert.InDelta(t, 0.9, sig.Confidence, 1e-9)

	sig = s.Evaluate(c, regimeOf(types.RegimeLowLiquidity))
	assert.Equal(t, types.ActionHold, sig.Action)
	assert.Equal(t, "conservative_filters_not_met", sig.Reason)
	assert.InDelta(t, 0.55, sig.Confidence, 1e-9)

	c.LiquidityUSD = 30_000
	assert.Equal(t, types.ActionHold, s.Evaluate(c, regimeOf(types.RegimeTrending)).Action)
}

func TestNonFiniteInputsAreZeroed(t *testing.T) {
	s := strategy.NewTrendBreakoutMomentum(config.Default().Strategies.TrendBreakoutMomentum)
	c := types.Candidate{PriceChange: types.PriceChange{M5: math.NaN(), H1: math.Inf(1)}}

	sig := s.Evaluate(c, regimeOf(types.RegimeTrending))
	require.NotNil(t, sig)
	assert.Equal(t, types.ActionHold, sig.Action)
	assert.False(t, math.IsNaN(sig.Confidence))
	assert.GreaterOrEqual(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestSetEvaluatesInOrderAndSkipsDisabled(t *testing.T) {
	defaults := config.Default()
	cfg := defaults.Strategies
	cfg.VolatilityCompression.Enabled = false

	set := strategy.NewSet(zap.NewNop(), cfg, defaults.Watchlist)
	assert.Equal(t, []string{
		config.StrategyTrendBreakoutMomentum,
		config.StrategyMeanReversionRange,
		config.StrategyVolatilityCompression,
		config.StrategyLiquidityAwareConservative,
	}, set.IDs())

	signals := set.Evaluate(types.Candidate{LiquidityUSD: 50_000, Volume24hUSD: 100_000, SpreadBps: 100}, regimeOf(types.RegimeNeutral))
	require.Len(t, signals, 3)
	assert.Equal(t, config.StrategyTrendBreakoutMomentum, signals[0].StrategyID)
	assert.Equal(t, config.StrategyLiquidityAwareConservative, signals[2].StrategyID)

	sc, ok := set.Config(config.StrategyLiquidityAwareConservative)
	require.True(t, ok)
	assert.Equal(t, 1.2, sc.BaseWeight)
}

func TestRegistryCreate(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	defaults := config.Default()

	for _, id := range defaults.Strategies.IDs() {
		sc, _ := defaults.Strategies.Get(id)
		s, ok := r.Create(id, sc, defaults.Watchlist)
		require.True(t, ok, id)
		assert.Equal(t, id, s.ID())
		assert.NotEmpty(t, s.Description())
	}

	_, ok := r.Create("unknown", config.StrategyConfig{}, config.WatchlistConfig{})
	assert.False(t, ok)
}
