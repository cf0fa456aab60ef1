package governance_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/governance"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	momentum     = config.StrategyTrendBreakoutMomentum
	meanRevert   = config.StrategyMeanReversionRange
	compression  = config.StrategyVolatilityCompression
	conservative = config.StrategyLiquidityAwareConservative
)

type recorder struct{ payloads []map[string]any }

func (r *recorder) Record(ctx context.Context, eventType string, payload map[string]any) error {
	r.payloads = append(r.payloads, payload)
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.System.ShadowMode = false
	cfg.Strategies.TrendBreakoutMomentum.Enabled = true
	cfg.Strategies.TrendBreakoutMomentum.Shadow = true
	cfg.Strategies.MeanReversionRange.Enabled = true
	cfg.Strategies.MeanReversionRange.Shadow = false
	cfg.Strategies.VolatilityCompression.Enabled = false
	cfg.Strategies.LiquidityAwareConservative.Enabled = true
	cfg.Strategies.LiquidityAwareConservative.Shadow = true
	cfg.Governance = config.GovernanceConfig{
		ShadowDurationHours:    24,
		PromotionMinTrades:     20,
		PromotionMinWinRate:    0.55,
		PromotionMinPnlSol:     0.05,
		RollbackMaxDrawdownPct: 0.25,
		RollbackMinWinRate:     0.4,
	}
	cfg.Risk.MaxConsecutiveLosses = 4
	return &cfg
}

func newGovernance(t *testing.T, cfg *config.Config, now time.Time) (*governance.Governance, *recorder, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	rec := &recorder{}
	g := governance.New(zap.NewNop(), cfg, store, rec)
	require.NoError(t, g.Load(context.Background(), now))
	return g, rec, store
}

func goodStats(trades int) types.StrategyStat {
	return types.StrategyStat{TotalTrades: trades, Wins: trades - 3, Losses: 3, PnlSol: 0.5}
}

func TestInitialModes(t *testing.T) {
	g, _, _ := newGovernance(t, testConfig(), time.Now())

	assert.Equal(t, types.GovernanceShadow, g.StrategyState(momentum).Mode)
	assert.Equal(t, types.GovernanceLive, g.StrategyState(meanRevert).Mode)
	assert.Equal(t, types.GovernanceDisabled, g.StrategyState(compression).Mode)
	assert.Equal(t, types.GovernanceShadow, g.StrategyState(conservative).Mode)
	assert.Equal(t, types.GovernanceDisabled, g.StrategyState("unknown").Mode)
}

func TestPromotionRequiresMinimumTrades(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	g, _, _ := newGovernance(t, testConfig(), start)
	later := start.Add(48 * time.Hour)

	stats := map[string]types.StrategyStat{
		momentum: {TotalTrades: 19, Wins: 19, PnlSol: 5},
	}
	transitions, err := g.ApplyEvaluation(context.Background(), stats, later)
	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.Equal(t, types.GovernanceShadow, g.StrategyState(momentum).Mode)
}

func TestPromotionRequiresShadowDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	g, _, _ := newGovernance(t, testConfig(), start)

	stats := map[string]types.StrategyStat{momentum: goodStats(30)}
	transitions, err := g.ApplyEvaluation(context.Background(), stats, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	transitions, err = g.ApplyEvaluation(context.Background(), stats, start.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, types.GovernanceLive, transitions[0].To)
	assert.Equal(t, types.GovernanceLive, g.StrategyState(momentum).Mode)
}

func TestRollbackOnDrawdownResetsShadowClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	g, rec, _ := newGovernance(t, testConfig(), start)
	now := start.Add(72 * time.Hour)

	stat := goodStats(10)
	stat.MaxDrawdownPct = 0.25
	transitions, err := g.ApplyEvaluation(context.Background(), map[string]types.StrategyStat{meanRevert: stat}, now)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, types.GovernanceShadow, transitions[0].To)

	state := g.StrategyState(meanRevert)
	assert.Equal(t, types.GovernanceShadow, state.Mode)
	assert.Equal(t, now.UnixMilli(), state.ShadowSinceMs)

	require.Len(t, rec.payloads, 1)
	assert.Equal(t, meanRevert, rec.payloads[0]["strategyId"])
}

func TestRollbackNeedsTenTrades(t *testing.T) {
	g, _, _ := newGovernance(t, testConfig(), time.Now())

	stat := types.StrategyStat{TotalTrades: 9, Losses: 9, PnlSol: -1, MaxDrawdownPct: 1}
	transitions, err := g.ApplyEvaluation(context.Background(), map[string]types.StrategyStat{meanRevert: stat}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.Equal(t, types.GovernanceLive, g.StrategyState(meanRevert).Mode)
}

func TestRollbackOnLossCount(t *testing.T) {
	g, _, _ := newGovernance(t, testConfig(), time.Now())

	stat := types.StrategyStat{TotalTrades: 12, Wins: 8, Losses: 4, PnlSol: 1}
	transitions, err := g.ApplyEvaluation(context.Background(), map[string]types.StrategyStat{meanRevert: stat}, time.Now())
	require.NoError(t, err)
	require.Len(t, transitions, 1)
}

func TestGlobalShadowOverride(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	g, _, _ := newGovernance(t, testConfig(), start)

	require.NoError(t, g.SetGlobalShadow(ctx, true, start))
	assert.Equal(t, types.GovernanceShadow, g.StrategyState(meanRevert).Mode)
	assert.Equal(t, types.GovernanceDisabled, g.StrategyState(compression).Mode)

	// No promotion while the override is on.
	transitions, err := g.ApplyEvaluation(ctx, map[string]types.StrategyStat{momentum: goodStats(40)}, start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	require.NoError(t, g.SetGlobalShadow(ctx, false, start))
	assert.Equal(t, types.GovernanceShadow, g.StrategyState(meanRevert).Mode, "override stamps shadow")
}

func TestStatePersistsAcrossLoad(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	cfg := testConfig()
	g, _, store := newGovernance(t, cfg, start)

	_, err := g.ApplyEvaluation(ctx, map[string]types.StrategyStat{momentum: goodStats(30)}, start.Add(25*time.Hour))
	require.NoError(t, err)

	reloaded := governance.New(zap.NewNop(), cfg, store, nil)
	require.NoError(t, reloaded.Load(ctx, start.Add(26*time.Hour)))
	assert.Equal(t, types.GovernanceLive, reloaded.StrategyState(momentum).Mode)
	assert.Len(t, reloaded.Snapshot().Strategies, 4)
}
