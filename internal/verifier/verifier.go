// Package verifier is the last sanity gate an intent passes before sizing.
package verifier

import (
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// MinQualityScore is the lowest anti-scam gate score an intent may carry.
const MinQualityScore = 0.55

// Verifier rejects intents whose inputs or consensus cannot be trusted.
type Verifier struct {
	logger *zap.Logger
	config config.PortfolioConfig
}

// NewVerifier creates a new verifier.
func NewVerifier(logger *zap.Logger, cfg config.PortfolioConfig) *Verifier {
	return &Verifier{
		logger: logger.Named("verifier"),
		config: cfg,
	}
}

// Verify checks one intent. Every failing condition is reported.
// globalShadow is the current system-wide shadow flag.
func (v *Verifier) Verify(intent types.Intent, globalShadow bool) types.VerificationResult {
	reasons := make([]string, 0)
	candidate := intent.Candidate

	if !candidate.Gate.Allowed {
		reasons = append(reasons, "candidate_not_whitelisted")
	}
	if !(candidate.Gate.Score >= MinQualityScore) {
		reasons = append(reasons, "candidate_quality_score_low")
	}
	if !utils.IsFinite(candidate.PriceUSD) || candidate.PriceUSD <= 0 {
		reasons = append(reasons, "price_data_invalid")
	}

	ids := intent.StrategyIDs()
	hasConservative := false
	for _, id := range ids {
		if id == config.StrategyLiquidityAwareConservative {
			hasConservative = true
			break
		}
	}
	if intent.Regime.Name == types.RegimeLowLiquidity && !hasConservative {
		reasons = append(reasons, "low_liquidity_without_conservative_signal")
	}
	if len(ids) < v.config.MinConsensusStrategies {
		reasons = append(reasons, "insufficient_strategy_consensus")
	}

	live := 0
	for _, s := range intent.Signals {
		if s.EnabledForLive {
			live++
		}
	}
	if live == 0 && !globalShadow {
		reasons = append(reasons, "no_live_enabled_strategy_signal")
	}

	mode := types.ModeLive
	if intent.AllShadow || globalShadow {
		mode = types.ModeShadow
	}

	result := types.VerificationResult{
		Approved:       len(reasons) == 0,
		Reasons:        reasons,
		Confidence:     intent.AggregateConfidence,
		ConsensusCount: len(ids),
		TradeMode:      mode,
	}
	if !result.Approved {
		v.logger.Debug("Intent rejected",
			zap.String("mint", intent.Mint),
			zap.Strings("reasons", reasons),
		)
	}
	return result
}
