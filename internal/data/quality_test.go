package data_test

import (
	"testing"

	"github.com/atlas-desktop/sol-autotrader/internal/blockchain"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/data"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func f64(v float64) *float64 { return &v }

func cleanAccount() *blockchain.MintAccount {
	return &blockchain.MintAccount{Exists: true, Decimals: 6, Supply: "1000000000"}
}

func TestGateAllowsCleanToken(t *testing.T) {
	gate := data.NewGate(zap.NewNop(), config.Default().Watchlist)

	res := gate.Evaluate(data.GateInput{
		Mint:         usdcMint,
		Account:      cleanAccount(),
		Verified:     true,
		LiquidityUSD: f64(100_000),
		Volume24hUSD: f64(200_000),
		SpreadBps:    f64(120),
	})

	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reasons)
	assert.InDelta(t, 1.0, res.Score, 1e-12)
}

func TestGateReportsEveryFailure(t *testing.T) {
	cfg := config.Default().Watchlist
	cfg.MinHolders = 500
	cfg.MaxAgeMinutes = 60
	gate := data.NewGate(zap.NewNop(), cfg)

	authority := "Auth111111111111111111111111111111111111111"
	holders := 10
	res := gate.Evaluate(data.GateInput{
		Mint: usdcMint,
		Account: &blockchain.MintAccount{
			Exists:          true,
			Token2022:       true,
			MintAuthority:   &authority,
			FreezeAuthority: &authority,
		},
		LiquidityUSD: f64(1_000),
		Volume24hUSD: f64(2_000),
		Holders:      &holders,
		AgeMinutes:   f64(600),
		SpreadBps:    f64(900),
	})

	assert.False(t, res.Allowed)
	assert.Equal(t, []string{
		data.ReasonToken2022Blocked,
		data.ReasonFreezeAuthority,
		data.ReasonMintAuthority,
		data.ReasonNotVerified,
		data.ReasonLiquidityTooLow,
		data.ReasonVolumeTooLow,
		data.ReasonHoldersTooLow,
		data.ReasonTokenTooOld,
		data.ReasonSpreadTooWide,
	}, res.Reasons)
	// exists=1, token2022=0, freeze=0, liquidity 1000/25000, volume 2000/50000
	assert.InDelta(t, (1+0+0+0.02+0.02)/5.0, res.Score, 1e-9)
}

func TestGateUnknownMetrics(t *testing.T) {
	cfg := config.Default().Watchlist
	gate := data.NewGate(zap.NewNop(), cfg)

	res := gate.Evaluate(data.GateInput{Mint: "not a mint"})
	assert.Equal(t, []string{
		data.ReasonMissingMint,
		data.ReasonMintNotFound,
		data.ReasonNotVerified,
		data.ReasonUnknownLiquidity,
		data.ReasonUnknownVolume,
	}, res.Reasons)
	assert.InDelta(t, 0.4, res.Score, 1e-12)

	cfg.AllowUnknownMetrics = true
	cfg.RequireVerified = false
	gate = data.NewGate(zap.NewNop(), cfg)
	res = gate.Evaluate(data.GateInput{Mint: usdcMint, Account: cleanAccount()})
	assert.True(t, res.Allowed)
}

func TestGatePermissiveConfig(t *testing.T) {
	cfg := config.Default().Watchlist
	cfg.BlockToken2022 = false
	cfg.DenyFreezeAuthority = false
	cfg.RequireMintAuthorityRenounced = false
	cfg.RequireVerified = false
	gate := data.NewGate(zap.NewNop(), cfg)

	authority := "Auth111111111111111111111111111111111111111"
	res := gate.Evaluate(data.GateInput{
		Mint: usdcMint,
		Account: &blockchain.MintAccount{
			Exists:          true,
			Token2022:       true,
			FreezeAuthority: &authority,
		},
		LiquidityUSD: f64(50_000),
		Volume24hUSD: f64(100_000),
	})
	assert.True(t, res.Allowed)
	assert.InDelta(t, 0.6, res.Score, 1e-12)
}

func TestIsVerified(t *testing.T) {
	cfg := config.Default().Watchlist
	cfg.VerifiedMints = []string{wsolMint}
	gate := data.NewGate(zap.NewNop(), cfg)

	assert.True(t, gate.IsVerified(wsolMint, nil))
	assert.False(t, gate.IsVerified(usdcMint, nil))
	assert.False(t, gate.IsVerified(usdcMint, &data.MarketSnapshot{DexID: "unknown"}))
	assert.True(t, gate.IsVerified(usdcMint, &data.MarketSnapshot{DexID: "raydium"}))
}

func TestFlowSpreadEstimator(t *testing.T) {
	est := data.NewFlowSpreadEstimator(config.Default().Watchlist)

	_, ok := est.EstimateSpreadBps(nil)
	assert.False(t, ok)
	_, ok = est.EstimateSpreadBps(&data.MarketSnapshot{})
	assert.False(t, ok)

	bps, ok := est.EstimateSpreadBps(&data.MarketSnapshot{BuyTx24h: 120, SellTx24h: 80})
	assert.True(t, ok)
	assert.Equal(t, 130.0, bps)

	bps, _ = est.EstimateSpreadBps(&data.MarketSnapshot{BuyTx24h: 1})
	assert.Equal(t, 10080.0, bps)

	floor := data.FlowSpreadEstimator{FloorBps: 20, BaseBps: 0, FlowScale: 100}
	bps, _ = floor.EstimateSpreadBps(&data.MarketSnapshot{BuyTx24h: 1000})
	assert.Equal(t, 20.0, bps)
}
