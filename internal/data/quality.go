package data

import (
	"github.com/atlas-desktop/sol-autotrader/internal/blockchain"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// Gate rejection reasons.
const (
	ReasonMissingMint      = "missing_mint"
	ReasonMintNotFound     = "mint_not_found"
	ReasonToken2022Blocked = "token2022_blocked"
	ReasonFreezeAuthority  = "freeze_authority_present"
	ReasonMintAuthority    = "mint_authority_present"
	ReasonNotVerified      = "token_not_verified"
	ReasonUnknownLiquidity = "unknown_liquidity"
	ReasonUnknownVolume    = "unknown_volume"
	ReasonLiquidityTooLow  = "liquidity_too_low"
	ReasonVolumeTooLow     = "volume_too_low"
	ReasonHoldersTooLow    = "holders_too_low"
	ReasonTokenTooOld      = "token_too_old"
	ReasonSpreadTooWide    = "spread_too_wide"
)

// GateInput is everything the gate looks at. Nil metrics are unknown.
type GateInput struct {
	Mint         string
	Account      *blockchain.MintAccount
	Verified     bool
	LiquidityUSD *float64
	Volume24hUSD *float64
	Holders      *int
	AgeMinutes   *float64
	SpreadBps    *float64
}

// Gate screens tokens before any strategy sees them. Every failing check
// is reported, not just the first.
type Gate struct {
	logger *zap.Logger
	config config.WatchlistConfig
}

// NewGate creates a new anti-scam gate.
func NewGate(logger *zap.Logger, cfg config.WatchlistConfig) *Gate {
	return &Gate{
		logger: logger.Named("anti-scam-gate"),
		config: cfg,
	}
}

// ValidMint reports whether mint decodes to a 32-byte address.
func ValidMint(mint string) bool {
	if mint == "" {
		return false
	}
	b, err := base58.Decode(mint)
	return err == nil && len(b) == 32
}

// Evaluate returns the gate verdict for one token.
func (g *Gate) Evaluate(in GateInput) types.GateResult {
	cfg := g.config
	reasons := make([]string, 0)

	if !ValidMint(in.Mint) {
		reasons = append(reasons, ReasonMissingMint)
	}

	exists := in.Account != nil && in.Account.Exists
	token2022 := exists && in.Account.Token2022
	hasFreeze := exists && in.Account.FreezeAuthority != nil
	hasMintAuth := exists && in.Account.MintAuthority != nil

	if !exists {
		reasons = append(reasons, ReasonMintNotFound)
	}
	if cfg.BlockToken2022 && token2022 {
		reasons = append(reasons, ReasonToken2022Blocked)
	}
	if cfg.DenyFreezeAuthority && hasFreeze {
		reasons = append(reasons, ReasonFreezeAuthority)
	}
	if cfg.RequireMintAuthorityRenounced && hasMintAuth {
		reasons = append(reasons, ReasonMintAuthority)
	}
	if cfg.RequireVerified && !in.Verified {
		reasons = append(reasons, ReasonNotVerified)
	}

	if in.LiquidityUSD == nil && !cfg.AllowUnknownMetrics {
		reasons = append(reasons, ReasonUnknownLiquidity)
	}
	if in.Volume24hUSD == nil && !cfg.AllowUnknownMetrics {
		reasons = append(reasons, ReasonUnknownVolume)
	}
	if in.LiquidityUSD != nil && *in.LiquidityUSD < cfg.MinLiquidityUSD {
		reasons = append(reasons, ReasonLiquidityTooLow)
	}
	if in.Volume24hUSD != nil && *in.Volume24hUSD < cfg.MinVolume24hUSD {
		reasons = append(reasons, ReasonVolumeTooLow)
	}
	if cfg.MinHolders > 0 && in.Holders != nil && *in.Holders < cfg.MinHolders {
		reasons = append(reasons, ReasonHoldersTooLow)
	}
	if cfg.MaxAgeMinutes > 0 && in.AgeMinutes != nil && *in.AgeMinutes > cfg.MaxAgeMinutes {
		reasons = append(reasons, ReasonTokenTooOld)
	}
	if in.SpreadBps != nil && *in.SpreadBps > cfg.MaxSpreadBps {
		reasons = append(reasons, ReasonSpreadTooWide)
	}

	signals := []float64{
		boolScore(exists),
		boolScore(!token2022),
		boolScore(!hasFreeze),
		ratioScore(in.LiquidityUSD, cfg.MinLiquidityUSD),
		ratioScore(in.Volume24hUSD, cfg.MinVolume24hUSD),
	}

	return types.GateResult{
		Allowed: len(reasons) == 0,
		Reasons: reasons,
		Score:   utils.Clamp01(utils.Mean(signals)),
	}
}

// IsVerified treats a token as verified when it trades on a known dex or is
// on the configured allowlist.
func (g *Gate) IsVerified(mint string, snapshot *MarketSnapshot) bool {
	for _, m := range g.config.VerifiedMints {
		if m == mint {
			return true
		}
	}
	return snapshot != nil && snapshot.DexID != "" && snapshot.DexID != "unknown"
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// ratioScore maps value/min into [0, 1], saturating at twice the minimum.
func ratioScore(value *float64, min float64) float64 {
	if value == nil {
		return 0
	}
	denom := min
	if denom < 1 {
		denom = 1
	}
	return utils.Clamp(*value/denom, 0, 2) / 2
}
