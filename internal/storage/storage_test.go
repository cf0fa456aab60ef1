package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pnl(v float64) *float64 { return &v }

type guardState struct {
	PauseUntilMs int64   `json:"pauseUntilMs"`
	Latencies    []int64 `json:"latencies"`
}

func runStoreSuite(t *testing.T, store storage.Store) {
	ctx := context.Background()

	t.Run("state round trip", func(t *testing.T) {
		var missing guardState
		found, err := store.GetState(ctx, "performanceGuardState", &missing)
		require.NoError(t, err)
		assert.False(t, found)

		in := guardState{PauseUntilMs: 1234, Latencies: []int64{10, 20}}
		require.NoError(t, store.SetState(ctx, "performanceGuardState", in))
		in.PauseUntilMs = 5678
		require.NoError(t, store.SetState(ctx, "performanceGuardState", in))

		var out guardState
		found, err = store.GetState(ctx, "performanceGuardState", &out)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, in, out)
	})

	t.Run("trades newest first and pnl sums", func(t *testing.T) {
		base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
		trades := []*types.Trade{
			{Mint: "MintA", Side: types.SideBuy, AmountSol: 0.2, Mode: types.ModeShadow, Status: "filled", Strategies: []string{"a"}, CreatedAt: base},
			{Mint: "MintA", Side: types.SideSell, AmountSol: 0.25, PnlSol: pnl(0.05), Mode: types.ModeShadow, Status: "filled", Strategies: []string{"a"}, CreatedAt: base.Add(time.Minute)},
			{Mint: "MintB", Side: types.SideSell, AmountSol: 0.1, PnlSol: pnl(-0.02), Mode: types.ModeLive, Status: "filled", Strategies: []string{"a", "b"}, Metadata: map[string]interface{}{"exitReason": "stop_loss_hit"}, CreatedAt: base.Add(2 * time.Minute)},
		}
		for _, tr := range trades {
			require.NoError(t, store.RecordTrade(ctx, tr))
			assert.NotEmpty(t, tr.ID)
		}

		recent, err := store.RecentTrades(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "MintB", recent[0].Mint)
		assert.Equal(t, []string{"a", "b"}, recent[0].Strategies)
		require.NotNil(t, recent[0].PnlSol)
		assert.InDelta(t, -0.02, *recent[0].PnlSol, 1e-12)
		assert.Equal(t, "stop_loss_hit", recent[0].Metadata["exitReason"])

		total, err := store.RealizedPnL(ctx, time.Time{})
		require.NoError(t, err)
		assert.InDelta(t, 0.03, total, 1e-12)

		later, err := store.RealizedPnL(ctx, base.Add(90*time.Second))
		require.NoError(t, err)
		assert.InDelta(t, -0.02, later, 1e-12)
	})

	t.Run("invalid trade rejected", func(t *testing.T) {
		err := store.RecordTrade(ctx, &types.Trade{Side: types.SideBuy})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("positions crud", func(t *testing.T) {
		opened := time.Now().UTC().Truncate(time.Millisecond)
		p := &types.Position{
			Mint: "MintP", Symbol: "PPP", QtyRaw: "1000", AmountSol: 0.2,
			Strategies: []string{"trendBreakoutMomentum"}, OpenedAt: opened,
			HighestValueSol: 0.2, StopLossSol: 0.184, TakeProfitSol: 0.236, TrailingStopSol: 0.186,
			Mode: types.ModeShadow,
		}
		require.NoError(t, store.UpsertPosition(ctx, p))

		p.HighestValueSol = 0.22
		require.NoError(t, store.UpsertPosition(ctx, p))

		got, err := store.GetPosition(ctx, "MintP")
		require.NoError(t, err)
		assert.Equal(t, 0.22, got.HighestValueSol)
		assert.True(t, opened.Equal(got.OpenedAt))

		list, err := store.ListPositions(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, store.DeletePosition(ctx, "MintP"))
		_, err = store.GetPosition(ctx, "MintP")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("events and stats", func(t *testing.T) {
		require.NoError(t, store.RecordEvent(ctx, &types.Event{Type: "tick_summary", Payload: map[string]any{"intents": 2.0}}))
		require.NoError(t, store.RecordEvent(ctx, &types.Event{Type: "exit_failed", Payload: map[string]any{"mint": "MintA"}}))

		events, err := store.RecentEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "exit_failed", events[0].Type)
		assert.Equal(t, "MintA", events[0].Payload["mint"])

		require.NoError(t, store.UpsertStrategyStat(ctx, types.StrategyStat{StrategyID: "b", TotalTrades: 3}))
		require.NoError(t, store.UpsertStrategyStat(ctx, types.StrategyStat{StrategyID: "a", TotalTrades: 1}))
		require.NoError(t, store.UpsertStrategyStat(ctx, types.StrategyStat{StrategyID: "a", TotalTrades: 2}))
		stats, err := store.ListStrategyStats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 2)
		assert.Equal(t, "a", stats[0].StrategyID)
		assert.Equal(t, 2, stats[0].TotalTrades)

		require.NoError(t, store.RecordEquitySnapshot(ctx, types.EquitySnapshot{EquitySol: 5.1, PnlSol: 0.1}))
	})

	require.NoError(t, store.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, storage.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	store, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	runStoreSuite(t, store)
}

func TestSQLiteStoreReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")

	store, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SetState(ctx, "controlPlane", map[string]any{"emergencyStop": true}))
	require.NoError(t, store.Close())

	reopened, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	var out map[string]any
	found, err := reopened.GetState(ctx, "controlPlane", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, true, out["emergencyStop"])
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping postgres test in short mode")
	}
	// The suite expects an empty database.
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := storage.NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	runStoreSuite(t, store)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	mem, err := storage.Open(ctx, logger, config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, mem)

	sq, err := storage.Open(ctx, logger, config.StorageConfig{Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer sq.Close()
	assert.IsType(t, &storage.SQLiteStore{}, sq)

	_, err = storage.Open(ctx, logger, config.StorageConfig{Driver: "mongo"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
