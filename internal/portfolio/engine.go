// Package portfolio aggregates strategy signals into ranked trade intents.
package portfolio

import (
	"sort"
	"sync"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/strategy"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// consensusBonus rewards each additional agreeing strategy in the ranking score.
const consensusBonus = 0.1

// GovernanceView resolves the effective governance state of a strategy.
type GovernanceView interface {
	StrategyState(strategyID string) types.StrategyState
}

// Engine combines the strategy set's opinions per candidate.
type Engine struct {
	logger     *zap.Logger
	config     config.PortfolioConfig
	strategies *strategy.Set

	mu     sync.RWMutex
	latest []types.Intent
}

// NewEngine creates a new portfolio engine.
func NewEngine(logger *zap.Logger, cfg config.PortfolioConfig, strategies *strategy.Set) *Engine {
	return &Engine{
		logger:     logger.Named("portfolio"),
		config:     cfg,
		strategies: strategies,
	}
}

// EvaluateCandidate returns the intent for one candidate, or nil when no
// strategy produced a qualifying BUY signal.
func (e *Engine) EvaluateCandidate(candidate types.Candidate, regime types.Regime, governance GovernanceView) *types.Intent {
	raw := e.strategies.Evaluate(candidate, regime)

	buys := make([]types.Signal, 0, len(raw))
	for _, sig := range raw {
		state := governance.StrategyState(sig.StrategyID)
		sig.GovernanceMode = state.Mode
		sig.EnabledForLive = state.Mode == types.GovernanceLive

		if sig.Action != types.ActionBuy {
			continue
		}
		cfg, _ := e.strategies.Config(sig.StrategyID)
		if sig.Confidence < cfg.MinConfidence {
			continue
		}
		buys = append(buys, sig)
	}
	if len(buys) == 0 {
		return nil
	}

	weightedScore := 0.0
	totalWeight := 0.0
	liveCount := 0
	for _, sig := range buys {
		cfg, _ := e.strategies.Config(sig.StrategyID)
		weightedScore += sig.Confidence * cfg.BaseWeight
		totalWeight += cfg.BaseWeight
		if sig.EnabledForLive {
			liveCount++
		}
	}
	aggregate := 0.0
	if totalWeight > 0 {
		aggregate = weightedScore / totalWeight
	}

	intent := &types.Intent{
		Mint:                candidate.Mint,
		Candidate:           candidate,
		Regime:              regime,
		Signals:             buys,
		AggregateConfidence: utils.Clamp01(aggregate),
		LiveSignalCount:     liveCount,
		AllShadow:           liveCount == 0,
	}
	intent.ConsensusCount = len(intent.StrategyIDs())
	intent.Score = aggregate * (1 + consensusBonus*float64(len(buys)))
	return intent
}

// BuildIntents evaluates every candidate, filters on consensus and
// confidence floors, ranks by score and caps the result.
func (e *Engine) BuildIntents(candidates []types.Candidate, regime types.Regime, governance GovernanceView) []types.Intent {
	intents := make([]types.Intent, 0, len(candidates))
	for _, c := range candidates {
		intent := e.EvaluateCandidate(c, regime, governance)
		if intent == nil {
			continue
		}
		if intent.ConsensusCount < e.config.MinConsensusStrategies {
			continue
		}
		if intent.AggregateConfidence < e.config.MinAggregateConfidence {
			continue
		}
		intents = append(intents, *intent)
	}

	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].Score > intents[j].Score
	})
	if e.config.MaxIntentsPerLoop >= 0 && len(intents) > e.config.MaxIntentsPerLoop {
		intents = intents[:e.config.MaxIntentsPerLoop]
	}

	e.mu.Lock()
	e.latest = intents
	e.mu.Unlock()

	if len(intents) > 0 {
		e.logger.Debug("Intents built",
			zap.Int("candidates", len(candidates)),
			zap.Int("intents", len(intents)),
			zap.String("top", intents[0].Mint),
			zap.Float64("topScore", intents[0].Score),
		)
	}
	return intents
}

// LatestIntents returns the intents of the most recent BuildIntents call.
func (e *Engine) LatestIntents() []types.Intent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Intent, len(e.latest))
	copy(out, e.latest)
	return out
}
