package data

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/blockchain"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/workers"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"go.uber.org/zap"
)

// Candidate sources.
const (
	SourceDexScreener = "dexscreener"
	SourceManual      = "manual"
)

// MintInspector reads on-chain mint accounts. Satisfied by blockchain.RPCManager.
type MintInspector interface {
	MintAccount(ctx context.Context, mint string) (*blockchain.MintAccount, error)
}

// MarketSource returns the market snapshot for a mint, nil when unknown.
type MarketSource interface {
	TokenSnapshot(ctx context.Context, mint string) (*MarketSnapshot, error)
}

// SpreadEstimator estimates a round-trip spread in bps. ok is false when
// there is nothing to estimate from.
type SpreadEstimator interface {
	EstimateSpreadBps(snapshot *MarketSnapshot) (bps float64, ok bool)
}

// FlowSpreadEstimator guesses spread from 24h transaction count: thin flow
// means a wide spread.
type FlowSpreadEstimator struct {
	FloorBps  float64
	BaseBps   float64
	FlowScale float64
}

// NewFlowSpreadEstimator builds the estimator from watchlist settings.
func NewFlowSpreadEstimator(cfg config.WatchlistConfig) FlowSpreadEstimator {
	return FlowSpreadEstimator{
		FloorBps:  cfg.SpreadFloorBps,
		BaseBps:   cfg.SpreadBaseBps,
		FlowScale: cfg.SpreadFlowScale,
	}
}

// EstimateSpreadBps implements SpreadEstimator.
func (e FlowSpreadEstimator) EstimateSpreadBps(s *MarketSnapshot) (float64, bool) {
	if s == nil {
		return 0, false
	}
	txns := s.BuyTx24h + s.SellTx24h
	if txns <= 0 {
		return 0, false
	}
	est := math.Round(e.BaseBps + e.FlowScale/math.Max(1, float64(txns)))
	return math.Max(e.FloorBps, est), true
}

// ScanResult is one watchlist pass.
type ScanResult struct {
	Scanned  []types.Candidate `json:"scanned"`
	Tradable []types.Candidate `json:"tradable"`
}

// Watchlist turns the configured mint list into gated candidates.
type Watchlist struct {
	logger        *zap.Logger
	config        config.WatchlistConfig
	maxCandidates int

	inspector MintInspector
	market    MarketSource
	gate      *Gate
	spread    SpreadEstimator
	pool      *workers.Pool
	now       func() time.Time
}

// NewWatchlist creates a new watchlist scanner. pool may be nil, in which
// case lookups run one after another.
func NewWatchlist(
	logger *zap.Logger,
	cfg *config.Config,
	inspector MintInspector,
	market MarketSource,
	pool *workers.Pool,
) *Watchlist {
	return &Watchlist{
		logger:        logger.Named("watchlist"),
		config:        cfg.Watchlist,
		maxCandidates: cfg.Portfolio.MaxCandidatesPerLoop,
		inspector:     inspector,
		market:        market,
		gate:          NewGate(logger, cfg.Watchlist),
		spread:        NewFlowSpreadEstimator(cfg.Watchlist),
		pool:          pool,
		now:           time.Now,
	}
}

// SetSpreadEstimator replaces the default spread heuristic.
func (w *Watchlist) SetSpreadEstimator(e SpreadEstimator) {
	if e != nil {
		w.spread = e
	}
}

// SetClock overrides the wall clock used for token age.
func (w *Watchlist) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// CandidateMints returns the deduplicated manual file and config mints, capped at the scan limit.
func (w *Watchlist) CandidateMints() ([]string, error) {
	manual, err := ReadManualWatchlist(w.config.ManualFile)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	mints := make([]string, 0, len(manual)+len(w.config.Mints))
	for _, m := range append(manual, w.config.Mints...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		mints = append(mints, m)
	}
	if w.config.ScanLimit > 0 && len(mints) > w.config.ScanLimit {
		mints = mints[:w.config.ScanLimit]
	}
	return mints, nil
}

// Scan enriches and gates every candidate mint. Lookup failures count as
// unknown data and are left to the gate to reject.
func (w *Watchlist) Scan(ctx context.Context) (*ScanResult, error) {
	mints, err := w.CandidateMints()
	if err != nil {
		return nil, err
	}

	scanned := make([]types.Candidate, len(mints))
	enrich := func(ctx context.Context, i int) error {
		scanned[i] = w.enrich(ctx, mints[i])
		return nil
	}

	if w.pool != nil && w.pool.IsRunning() {
		w.pool.ForEach(ctx, len(mints), enrich)
	} else {
		for i := range mints {
			_ = enrich(ctx, i)
		}
	}

	tradable := make([]types.Candidate, 0, len(scanned))
	for _, c := range scanned {
		if !c.Gate.Allowed {
			w.logger.Info("Candidate rejected",
				zap.String("mint", c.Mint),
				zap.String("symbol", c.Symbol),
				zap.Strings("reasons", c.Gate.Reasons),
			)
			continue
		}
		tradable = append(tradable, c)
	}

	sort.SliceStable(tradable, func(i, j int) bool {
		return tradable[i].LiquidityUSD > tradable[j].LiquidityUSD
	})
	if w.maxCandidates > 0 && len(tradable) > w.maxCandidates {
		tradable = tradable[:w.maxCandidates]
	}

	w.logger.Debug("Watchlist scanned",
		zap.Int("scanned", len(scanned)),
		zap.Int("tradable", len(tradable)),
	)
	return &ScanResult{Scanned: scanned, Tradable: tradable}, nil
}

func (w *Watchlist) enrich(ctx context.Context, mint string) types.Candidate {
	var account *blockchain.MintAccount
	if w.inspector != nil && ValidMint(mint) {
		a, err := w.inspector.MintAccount(ctx, mint)
		if err != nil {
			w.logger.Warn("Mint lookup failed", zap.String("mint", mint), zap.Error(err))
		} else {
			account = a
		}
	}

	var snapshot *MarketSnapshot
	if w.market != nil {
		s, err := w.market.TokenSnapshot(ctx, mint)
		if err != nil {
			w.logger.Warn("Market data lookup failed", zap.String("mint", mint), zap.Error(err))
		} else {
			snapshot = s
		}
	}

	c := types.Candidate{
		Mint:   mint,
		Symbol: "UNKNOWN",
		Source: SourceManual,
	}
	input := GateInput{
		Mint:     mint,
		Account:  account,
		Verified: w.gate.IsVerified(mint, snapshot),
	}

	if snapshot != nil {
		c.Symbol = snapshot.Symbol
		c.Name = snapshot.Name
		c.PairAddress = snapshot.PairAddress
		c.DexID = snapshot.DexID
		c.PriceUSD = snapshot.PriceUSD
		c.LiquidityUSD = snapshot.LiquidityUSD
		c.Volume24hUSD = snapshot.Volume24hUSD
		c.BuyTx24h = snapshot.BuyTx24h
		c.SellTx24h = snapshot.SellTx24h
		c.PriceChange = types.PriceChange{
			M5:  snapshot.PriceChangeM5,
			H1:  snapshot.PriceChangeH1,
			H6:  snapshot.PriceChangeH6,
			H24: snapshot.PriceChangeH24,
		}
		c.Source = SourceDexScreener

		liq, vol := snapshot.LiquidityUSD, snapshot.Volume24hUSD
		input.LiquidityUSD = &liq
		input.Volume24hUSD = &vol

		if snapshot.PairCreatedAtMs > 0 {
			age := float64(w.now().UnixMilli()-snapshot.PairCreatedAtMs) / 60_000
			c.AgeMinutes = age
			input.AgeMinutes = &age
		}
	}

	if bps, ok := w.spread.EstimateSpreadBps(snapshot); ok {
		c.SpreadBps = bps
		input.SpreadBps = &bps
	}

	c.Gate = w.gate.Evaluate(input)
	return c
}
