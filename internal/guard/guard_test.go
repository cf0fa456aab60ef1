package guard_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/guard"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func guardConfig() config.PerformanceGuardConfig {
	return config.PerformanceGuardConfig{
		Enabled:                      true,
		MaxDrawdownPct:               0.15,
		FailureWindowMinutes:         30,
		MaxOrderFailuresInWindow:     3,
		PauseMinutesOnDrawdownBreach: 60,
		MaxMedianLatencyMs:           2000,
		MinRollingEqs:                60,
	}
}

func TestDrawdownBreachPauses(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := guard.New(zap.NewNop(), guardConfig(), storage.NewMemoryStore())

	require.NoError(t, g.UpdateEquity(ctx, 10, now))
	require.NoError(t, g.UpdateEquity(ctx, 8, now))

	status, err := g.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.True(t, status.Paused)
	assert.Equal(t, guard.ReasonDrawdownBreach, status.Reason)
	assert.InDelta(t, 0.2, status.DrawdownPct, 1e-9)
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), status.PauseUntilMs)

	status, err = g.Evaluate(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, status.Paused, "breach persists so the pause is extended")
}

func TestEquityRecoveryKeepsPeak(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	g := guard.New(zap.NewNop(), guardConfig(), storage.NewMemoryStore())

	require.NoError(t, g.UpdateEquity(ctx, 10, now))
	require.NoError(t, g.UpdateEquity(ctx, 9.5, now))
	require.NoError(t, g.UpdateEquity(ctx, 12, now))

	s := g.Snapshot()
	assert.Equal(t, 12.0, s.EquityPeakSol)
	assert.Zero(t, s.DrawdownPct)
}

func TestConsecutiveLosses(t *testing.T) {
	ctx := context.Background()
	g := guard.New(zap.NewNop(), guardConfig(), storage.NewMemoryStore())

	require.NoError(t, g.RegisterTradeResult(ctx, -0.1))
	require.NoError(t, g.RegisterTradeResult(ctx, -0.2))
	require.NoError(t, g.RegisterTradeResult(ctx, 0))
	assert.Equal(t, 2, g.Snapshot().ConsecutiveLosses)

	require.NoError(t, g.RegisterTradeResult(ctx, 0.05))
	assert.Zero(t, g.Snapshot().ConsecutiveLosses)
}

func TestOrderFailureWindow(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := guard.New(zap.NewNop(), guardConfig(), storage.NewMemoryStore())

	require.NoError(t, g.RegisterOrderFailure(ctx, start))
	require.NoError(t, g.RegisterOrderFailure(ctx, start.Add(time.Minute)))
	require.NoError(t, g.RegisterOrderFailure(ctx, start.Add(45*time.Minute)))
	assert.Len(t, g.Snapshot().OrderFailureTimestamps, 1)

	status, err := g.Evaluate(ctx, start.Add(45*time.Minute))
	require.NoError(t, err)
	assert.False(t, status.Paused)

	require.NoError(t, g.RegisterOrderFailure(ctx, start.Add(46*time.Minute)))
	require.NoError(t, g.RegisterOrderFailure(ctx, start.Add(47*time.Minute)))
	status, err = g.Evaluate(ctx, start.Add(47*time.Minute))
	require.NoError(t, err)
	assert.True(t, status.Paused)
	assert.Equal(t, guard.ReasonOrderFailuresBreach, status.Reason)
}

func TestStaleFailuresExpireAfterClear(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := guard.New(zap.NewNop(), guardConfig(), storage.NewMemoryStore())

	for i := 0; i < 3; i++ {
		require.NoError(t, g.RegisterOrderFailure(ctx, start.Add(time.Duration(i)*time.Minute)))
	}
	status, err := g.Evaluate(ctx, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, status.Paused)

	require.NoError(t, g.ClearPause(ctx))
	later := start.Add(5 * time.Hour)
	status, err = g.Evaluate(ctx, later)
	require.NoError(t, err)
	assert.False(t, status.Paused)
	assert.Empty(t, status.Reason)
	assert.Empty(t, g.Snapshot().OrderFailureTimestamps)
}

func TestTriggerPauseOnlyExtends(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	g := guard.New(zap.NewNop(), guardConfig(), storage.NewMemoryStore())

	require.NoError(t, g.TriggerPause(ctx, "first", time.Hour, now))
	until := g.Snapshot().PauseUntilMs

	require.NoError(t, g.TriggerPause(ctx, "shorter", time.Minute, now))
	require.NoError(t, g.TriggerPause(ctx, "equal", time.Hour, now))
	assert.Equal(t, until, g.Snapshot().PauseUntilMs)
	assert.Equal(t, "first", g.Snapshot().CircuitBreakerReason)

	require.NoError(t, g.TriggerPause(ctx, "longer", 2*time.Hour, now))
	assert.Greater(t, g.Snapshot().PauseUntilMs, until)

	require.NoError(t, g.ClearPause(ctx))
	status, err := g.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.False(t, status.Paused)
	assert.Empty(t, status.Reason)
}

func TestTelemetryWarnings(t *testing.T) {
	ctx := context.Background()
	g := guard.New(zap.NewNop(), guardConfig(), storage.NewMemoryStore())

	for i := 0; i < 250; i++ {
		require.NoError(t, g.RegisterExecutionTelemetry(ctx, 2500, 40))
	}
	s := g.Snapshot()
	assert.Len(t, s.LatencyMsWindow, 200)
	assert.Len(t, s.EQSWindow, 200)

	status, err := g.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, status.Paused)
	assert.ElementsMatch(t, []string{guard.WarningLatency, guard.WarningRollingEQS}, status.Warnings)
}

func TestDisabledGuardNeverPauses(t *testing.T) {
	ctx := context.Background()
	cfg := guardConfig()
	cfg.Enabled = false
	g := guard.New(zap.NewNop(), cfg, storage.NewMemoryStore())

	require.NoError(t, g.UpdateEquity(ctx, 10, time.Now()))
	require.NoError(t, g.UpdateEquity(ctx, 1, time.Now()))
	status, err := g.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, status.Paused)
}

func TestStateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	g := guard.New(zap.NewNop(), guardConfig(), store)
	require.NoError(t, g.RegisterTradeResult(ctx, -1))
	require.NoError(t, g.TriggerPause(ctx, guard.ReasonDrawdownBreach, time.Hour, now))

	reloaded := guard.New(zap.NewNop(), guardConfig(), store)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 1, reloaded.Snapshot().ConsecutiveLosses)
	assert.Equal(t, g.Snapshot().PauseUntilMs, reloaded.Snapshot().PauseUntilMs)
}
