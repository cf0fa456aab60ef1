// Package sizing converts trade intents into bounded capital allocations.
package sizing

import (
	"math"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"go.uber.org/zap"
)

// minConfidenceBase keeps the confidence exponentiation away from zero and negative bases.
const minConfidenceBase = 0.01

// CapitalAllocator converts an intent into a bounded SOL amount.
type CapitalAllocator struct {
	logger      *zap.Logger
	config      config.AllocationConfig
	maxTradeSol float64
	strategies  config.StrategiesConfig
}

// NewCapitalAllocator creates a new allocator. maxTradeSol is the absolute risk ceiling.
func NewCapitalAllocator(logger *zap.Logger, cfg config.AllocationConfig, maxTradeSol float64, strategies config.StrategiesConfig) *CapitalAllocator {
	return &CapitalAllocator{
		logger:      logger.Named("allocator"),
		config:      cfg,
		maxTradeSol: maxTradeSol,
		strategies:  strategies,
	}
}

// Allocate sizes an intent against the current portfolio.
// The result satisfies 0 <= AmountSol <= min(perTrade, perStrategy, riskMax, available).
func (ca *CapitalAllocator) Allocate(intent types.Intent, portfolio types.PortfolioState) types.Allocation {
	base := ca.config.BaseCapitalSol
	reserve := base * ca.config.ReservePct
	deployable := math.Max(0, base-reserve)
	available := math.Max(0, deployable-portfolio.ExposureSol)

	strength := 0.0
	for _, sig := range intent.Signals {
		sc, _ := ca.strategies.Get(sig.StrategyID)
		strength += sig.Confidence * sc.BaseWeight
	}

	confidenceFactor := math.Pow(math.Max(minConfidenceBase, intent.AggregateConfidence), ca.config.ConfidenceExponent)
	raw := deployable * strength * confidenceFactor

	caps := types.AllocationCaps{
		PerTradeSol:    base * ca.config.MaxPerTradePct,
		PerStrategySol: base * ca.config.MaxPerStrategyPct,
		RiskMaxSol:     ca.maxTradeSol,
		AvailableSol:   available,
	}

	amount, limiting := raw, "signal_strength"
	for _, c := range []struct {
		name  string
		value float64
	}{
		{"per_trade_cap", caps.PerTradeSol},
		{"per_strategy_cap", caps.PerStrategySol},
		{"risk_max_trade", caps.RiskMaxSol},
		{"available_capital", caps.AvailableSol},
	} {
		if c.value < amount {
			amount, limiting = c.value, c.name
		}
	}
	// NaN inputs collapse to zero.
	if !(amount > 0) {
		amount = 0
	}

	alloc := types.Allocation{
		AmountSol:        amount,
		ReserveSol:       reserve,
		DeployableSol:    deployable,
		AvailableSol:     available,
		WeightedStrength: strength,
		ConfidenceFactor: confidenceFactor,
		RawAmountSol:     raw,
		Caps:             caps,
		LimitingFactor:   limiting,
	}

	ca.logger.Debug("Allocation computed",
		zap.String("mint", intent.Mint),
		zap.Float64("amountSol", amount),
		zap.Float64("rawAmountSol", raw),
		zap.String("limitingFactor", limiting),
	)
	return alloc
}
