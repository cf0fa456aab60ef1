package orchestrator

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/sol-autotrader/internal/blockchain"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/data"
	"github.com/atlas-desktop/sol-autotrader/internal/execution"
	"github.com/atlas-desktop/sol-autotrader/internal/execution/adapters"
	"github.com/atlas-desktop/sol-autotrader/internal/metrics"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/internal/wallet"
	"github.com/atlas-desktop/sol-autotrader/internal/workers"
	"go.uber.org/zap"
)

// walletKeys adapts the wallet loader to execution.KeyLoader. The key is read
// on the first live entry, never in shadow mode.
type walletKeys struct {
	loader *wallet.Loader
}

func (w walletKeys) LoadSigner() (execution.Signer, error) {
	kp, err := w.loader.Load()
	if err != nil {
		return nil, err
	}
	return kp, nil
}

// Bootstrap opens storage and builds the production collaborators: RPC
// failover, the Jupiter client, the wallet loader and the gated watchlist.
func Bootstrap(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*TradingSystem, error) {
	if want := cfg.Wallet.ExpectedPublicKey; want != "" {
		if err := wallet.ValidatePublicKey(want); err != nil {
			return nil, fmt.Errorf("wallet.expectedPublicKey: %w", err)
		}
	}

	store, err := storage.Open(ctx, logger, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rpc, err := blockchain.NewRPCManager(logger, cfg.Network)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("rpc manager: %w", err)
	}

	m := metrics.New("")
	jupiter := adapters.NewJupiterClient(logger, cfg.Network, cfg.Execution)
	jupiter.OnLatency(m.ObserveQuoteLatency)

	pool := workers.NewPool(logger, workers.DefaultPoolConfig("gate", cfg.Watchlist.GateWorkers))
	pool.Start()

	market := data.NewMarketDataClient(logger, cfg.Watchlist, cfg.Network)
	watchlist := data.NewWatchlist(logger, cfg, rpc, market, pool)

	s := New(logger, cfg, Dependencies{
		Store:     store,
		Scanner:   watchlist,
		Quoter:    jupiter,
		Submitter: rpc,
		Keys:      walletKeys{loader: wallet.NewLoader(logger, cfg.Wallet)},
		RPC:       rpc,
		Metrics:   m,
	})
	s.OnClose(store.Close)
	s.OnClose(pool.Stop)
	return s, nil
}
