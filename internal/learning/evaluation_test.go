package learning_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/learning"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sell(t *testing.T, store *storage.MemoryStore, at time.Time, pnl float64, mode types.TradeMode, strategies ...string) {
	t.Helper()
	require.NoError(t, store.RecordTrade(context.Background(), &types.Trade{
		Mint:       "MintA",
		Side:       types.SideSell,
		AmountSol:  1,
		PnlSol:     &pnl,
		Mode:       mode,
		Strategies: strategies,
		Status:     "shadow_filled",
		CreatedAt:  at,
	}))
}

func TestRunComputesStats(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	sell(t, store, start, 0.2, types.ModeShadow, "a", "b")
	sell(t, store, start.Add(time.Minute), -0.1, types.ModeLive, "a")
	sell(t, store, start.Add(2*time.Minute), 0, types.ModeShadow, "a")
	sell(t, store, start.Add(3*time.Minute), 0.05, types.ModeShadow, "b")

	// Entries and open trades are ignored.
	require.NoError(t, store.RecordTrade(ctx, &types.Trade{
		Mint: "MintA", Side: types.SideBuy, AmountSol: 1, Strategies: []string{"a"}, CreatedAt: start,
	}))

	stats, err := learning.NewEvaluator(zap.NewNop(), store).Run(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)

	a := stats["a"]
	assert.Equal(t, 3, a.TotalTrades)
	assert.Equal(t, 1, a.Wins)
	assert.Equal(t, 1, a.Losses)
	assert.InDelta(t, 0.1, a.PnlSol, 1e-12)
	assert.Equal(t, types.ModeLive, a.Mode, "live is sticky once observed")
	assert.Equal(t, 1, a.LiveTrades)
	assert.Equal(t, 2, a.ShadowTrades)
	assert.InDelta(t, 0.5, a.MaxDrawdownPct, 1e-12)
	assert.Equal(t, start, a.FirstTradeAt)
	assert.Equal(t, start.Add(2*time.Minute), a.LastTradeAt)

	b := stats["b"]
	assert.Equal(t, 2, b.TotalTrades)
	assert.Equal(t, types.ModeShadow, b.Mode)
	assert.Zero(t, b.MaxDrawdownPct)

	persisted, err := store.ListStrategyStats(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestMaxDrawdownIgnoresNonPositivePeak(t *testing.T) {
	series := func(vals ...float64) []decimal.Decimal {
		out := make([]decimal.Decimal, len(vals))
		for i, v := range vals {
			out[i] = decimal.NewFromFloat(v)
		}
		return out
	}

	assert.Zero(t, learning.MaxDrawdown(series(-1, -2, -3)))
	assert.InDelta(t, 0.75, learning.MaxDrawdown(series(-1, 2, 1, 0.5, 3)), 1e-12)
	assert.Zero(t, learning.MaxDrawdown(nil))
}
