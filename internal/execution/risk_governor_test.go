package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/execution"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cleanInput(now time.Time) execution.RiskInput {
	return execution.RiskInput{
		Now:       now,
		Mint:      testMint,
		AmountSol: 0.1,
		Portfolio: types.PortfolioState{
			OpenPositions: 1,
			ExposureSol:   0.2,
			EquitySol:     5,
		},
		PriceImpactBps: 10,
		InstantLossBps: 50,
	}
}

func TestRiskGovernorAllowsCleanRequest(t *testing.T) {
	rg := execution.NewRiskGovernor(zap.NewNop(), config.Default().Risk, storage.NewMemoryStore())

	decision := rg.Evaluate(cleanInput(time.Now()))
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reasons)
}

func TestRiskGovernorDailyLossAtLimitBlocks(t *testing.T) {
	cfg := config.Default().Risk
	rg := execution.NewRiskGovernor(zap.NewNop(), cfg, storage.NewMemoryStore())

	in := cleanInput(time.Now())
	in.Performance.DailyPnlSol = -cfg.MaxDailyLossSol

	decision := rg.Evaluate(in)
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{execution.RuleDailyLoss}, decision.Reasons)
}

func TestRiskGovernorAccumulatesReasonsInOrder(t *testing.T) {
	cfg := config.Default().Risk
	rg := execution.NewRiskGovernor(zap.NewNop(), cfg, storage.NewMemoryStore())
	now := time.Now()

	in := execution.RiskInput{
		Now:      now,
		Controls: execution.Controls{EmergencyStop: true, PauseUntil: now.Add(time.Hour)},
		Mint:     testMint,
		Portfolio: types.PortfolioState{
			OpenPositions: cfg.MaxOpenPositions,
			EquitySol:     1,
		},
		Performance: execution.PerformanceView{
			DailyPnlSol:       -10,
			DrawdownPct:       cfg.MaxDrawdownPct,
			ConsecutiveLosses: cfg.MaxConsecutiveLosses,
		},
		PriceImpactBps: cfg.MaxPriceImpactBps + 1,
		InstantLossBps: cfg.MaxInstantLossBps + 1,
	}

	decision := rg.Evaluate(in)
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{
		execution.RuleEmergencyStop,
		execution.RulePaused,
		execution.RuleMaxOpenPositions,
		execution.RuleAllocationZero,
		execution.RuleDailyLoss,
		execution.RuleDrawdown,
		execution.RuleConsecutiveLosses,
		execution.RulePriceImpact,
		execution.RuleInstantLoss,
	}, decision.Reasons)
	assert.Len(t, decision.Violations, len(decision.Reasons))

	in = cleanInput(now)
	in.AmountSol = cfg.MaxTradeSol * 20
	decision = rg.Evaluate(in)
	assert.Equal(t, []string{execution.RuleTradeSize, execution.RuleExposure}, decision.Reasons)
}

func TestRiskGovernorCooldownAlwaysBlocks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	rg := execution.NewRiskGovernor(zap.NewNop(), config.Default().Risk, store)
	now := time.Now()

	require.NoError(t, rg.OnTradeClosed(ctx, testMint, 0.05, now))
	assert.Empty(t, rg.ActiveCooldowns(now))

	require.NoError(t, rg.OnTradeClosed(ctx, testMint, -0.01, now))
	active := rg.ActiveCooldowns(now)
	require.Contains(t, active, testMint)
	assert.Equal(t, execution.CooldownReasonLoss, active[testMint].Reason)

	decision := rg.Evaluate(cleanInput(now.Add(time.Minute)))
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{execution.RuleTokenCooldown}, decision.Reasons)

	// Expires after the configured duration.
	later := now.Add(121 * time.Minute)
	assert.True(t, rg.Evaluate(cleanInput(later)).Allowed)
	assert.Empty(t, rg.ActiveCooldowns(later))

	// Survives a restart through the state store.
	restored := execution.NewRiskGovernor(zap.NewNop(), config.Default().Risk, store)
	require.NoError(t, restored.Load(ctx))
	assert.Contains(t, restored.ActiveCooldowns(now), testMint)
}

func TestRiskGovernorLoadsNullCooldowns(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetState(ctx, execution.CooldownStateKey, nil))

	rg := execution.NewRiskGovernor(zap.NewNop(), config.Default().Risk, store)
	require.NoError(t, rg.Load(ctx))

	now := time.Now()
	require.NotPanics(t, func() {
		require.NoError(t, rg.OnTradeClosed(ctx, testMint, -0.01, now))
	})
	assert.Contains(t, rg.ActiveCooldowns(now), testMint)
}
