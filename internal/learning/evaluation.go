// Package learning recomputes per-strategy statistics from closed trades.
package learning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultWindow is the number of most recent trades evaluated.
const DefaultWindow = 3000

// Store is the slice of the durable store the evaluator uses.
type Store interface {
	storage.TradeStore
	storage.StatsStore
}

// Evaluator turns the recent closed-trade history into strategy statistics.
type Evaluator struct {
	logger *zap.Logger
	store  Store
	window int
}

// NewEvaluator creates a new self-evaluation loop.
func NewEvaluator(logger *zap.Logger, store Store) *Evaluator {
	return &Evaluator{
		logger: logger.Named("self-evaluation"),
		store:  store,
		window: DefaultWindow,
	}
}

type accumulator struct {
	stat       types.StrategyStat
	pnl        decimal.Decimal
	cumulative []decimal.Decimal
}

// Run recomputes and upserts statistics for every strategy seen in the window.
func (e *Evaluator) Run(ctx context.Context, now time.Time) (map[string]types.StrategyStat, error) {
	recent, err := e.store.RecentTrades(ctx, e.window)
	if err != nil {
		return nil, fmt.Errorf("load recent trades: %w", err)
	}

	// RecentTrades is newest first; process oldest first.
	closed := make([]types.Trade, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		t := recent[i]
		if t.Side == types.SideSell && t.PnlSol != nil {
			closed = append(closed, t)
		}
	}

	acc := make(map[string]*accumulator)
	for _, trade := range closed {
		pnl := decimal.NewFromFloat(*trade.PnlSol)
		for _, id := range trade.Strategies {
			a, ok := acc[id]
			if !ok {
				a = &accumulator{stat: types.StrategyStat{
					StrategyID:   id,
					Mode:         types.ModeShadow,
					FirstTradeAt: trade.CreatedAt,
				}}
				acc[id] = a
			}

			a.stat.TotalTrades++
			switch {
			case pnl.IsPositive():
				a.stat.Wins++
			case pnl.IsNegative():
				a.stat.Losses++
			}
			a.pnl = a.pnl.Add(pnl)
			a.cumulative = append(a.cumulative, a.pnl)
			a.stat.LastTradeAt = trade.CreatedAt

			if trade.Mode == types.ModeLive {
				a.stat.Mode = types.ModeLive
				a.stat.LiveTrades++
			} else {
				a.stat.ShadowTrades++
			}
		}
	}

	out := make(map[string]types.StrategyStat, len(acc))
	for _, id := range sortedKeys(acc) {
		a := acc[id]
		a.stat.PnlSol = a.pnl.InexactFloat64()
		a.stat.MaxDrawdownPct = MaxDrawdown(a.cumulative)
		if a.stat.TotalTrades > 0 {
			a.stat.WinRate = float64(a.stat.Wins) / float64(a.stat.TotalTrades)
		}
		a.stat.UpdatedAt = now

		if err := e.store.UpsertStrategyStat(ctx, a.stat); err != nil {
			return nil, fmt.Errorf("upsert stats for %s: %w", id, err)
		}
		out[id] = a.stat
	}

	e.logger.Info("Strategy stats updated",
		zap.Int("strategies", len(out)),
		zap.Int("evaluatedTrades", len(closed)),
	)
	return out, nil
}

// MaxDrawdown is the largest peak-to-trough fall of a cumulative PnL series as
// a fraction of the peak. The peak starts at zero, so nothing counts until the
// series has been positive.
func MaxDrawdown(series []decimal.Decimal) float64 {
	peak := decimal.Zero
	maxDD := decimal.Zero
	for _, v := range series {
		peak = decimal.Max(peak, v)
		if peak.IsPositive() {
			maxDD = decimal.Max(maxDD, peak.Sub(v).Div(peak))
		}
	}
	return maxDD.InexactFloat64()
}

func sortedKeys(m map[string]*accumulator) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
