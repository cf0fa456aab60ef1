// Package strategy provides the candidate signal generators.
package strategy

import (
	"sync"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// worstSpreadBps stands in for a missing spread estimate.
const worstSpreadBps = 9_999

// Strategy is the interface all strategies must implement.
// Evaluate must not touch shared mutable state; it returns nil when the strategy is disabled.
type Strategy interface {
	ID() string
	Description() string
	Parameters() map[string]Parameter
	Evaluate(candidate types.Candidate, regime types.Regime) *types.Signal
}

// Parameter describes one tunable threshold of a strategy.
type Parameter struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Default     float64 `json:"default"`
	Current     float64 `json:"current"`
}

// Factory builds a strategy from its configuration.
type Factory func(cfg config.StrategyConfig, watchlist config.WatchlistConfig) Strategy

// Registry maps strategy ids to factories.
type Registry struct {
	logger    *zap.Logger
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a registry holding the built-in strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger.Named("strategy-registry"),
		factories: make(map[string]Factory),
	}

	r.Register(config.StrategyTrendBreakoutMomentum, func(cfg config.StrategyConfig, wl config.WatchlistConfig) Strategy {
		return NewTrendBreakoutMomentum(cfg)
	})
	r.Register(config.StrategyMeanReversionRange, func(cfg config.StrategyConfig, wl config.WatchlistConfig) Strategy {
		return NewMeanReversionRange(cfg, wl)
	})
	r.Register(config.StrategyVolatilityCompression, func(cfg config.StrategyConfig, wl config.WatchlistConfig) Strategy {
		return NewVolatilityCompression(cfg)
	})
	r.Register(config.StrategyLiquidityAwareConservative, func(cfg config.StrategyConfig, wl config.WatchlistConfig) Strategy {
		return NewLiquidityAwareConservative(cfg, wl)
	})

	return r
}

// Register registers a strategy factory under id.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Create builds the strategy registered under id.
func (r *Registry) Create(id string, cfg config.StrategyConfig, watchlist config.WatchlistConfig) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[id]
	if !ok {
		return nil, false
	}
	return factory(cfg, watchlist), true
}

// Set is the ordered list of strategies evaluated for every candidate.
type Set struct {
	strategies []Strategy
	configs    map[string]config.StrategyConfig
}

// NewSet builds the configured strategies in their canonical order.
func NewSet(logger *zap.Logger, cfg config.StrategiesConfig, watchlist config.WatchlistConfig) *Set {
	registry := NewRegistry(logger)
	set := &Set{configs: make(map[string]config.StrategyConfig)}

	for _, id := range cfg.IDs() {
		sc, _ := cfg.Get(id)
		s, ok := registry.Create(id, sc, watchlist)
		if !ok {
			continue
		}
		set.strategies = append(set.strategies, s)
		set.configs[id] = sc
		registry.logger.Debug("Strategy registered",
			zap.String("strategy", id),
			zap.Bool("enabled", sc.Enabled),
			zap.Bool("shadow", sc.Shadow),
		)
	}
	return set
}

// NewSetFrom wraps an explicit strategy list. Configs are looked up by strategy id.
func NewSetFrom(configs map[string]config.StrategyConfig, strategies ...Strategy) *Set {
	set := &Set{strategies: strategies, configs: make(map[string]config.StrategyConfig, len(configs))}
	for id, c := range configs {
		set.configs[id] = c
	}
	return set
}

// Strategies returns the strategies in evaluation order.
func (s *Set) Strategies() []Strategy {
	out := make([]Strategy, len(s.strategies))
	copy(out, s.strategies)
	return out
}

// Config returns the configuration of the strategy with id.
func (s *Set) Config(id string) (config.StrategyConfig, bool) {
	c, ok := s.configs[id]
	return c, ok
}

// IDs returns the strategy ids in evaluation order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		ids[i] = st.ID()
	}
	return ids
}

// Evaluate runs every strategy on one candidate and drops nil results.
func (s *Set) Evaluate(candidate types.Candidate, regime types.Regime) []types.Signal {
	signals := make([]types.Signal, 0, len(s.strategies))
	for _, st := range s.strategies {
		if sig := st.Evaluate(candidate, regime); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

func newSignal(id string, cfg config.StrategyConfig, actionable bool, confidence float64, pass, fail string, metadata map[string]interface{}) *types.Signal {
	sig := &types.Signal{
		StrategyID: id,
		Action:     types.ActionHold,
		Confidence: confidence,
		Shadow:     cfg.Shadow,
		Reason:     fail,
		Metadata:   metadata,
	}
	if actionable {
		sig.Action = types.ActionBuy
		sig.Reason = pass
	}
	return sig
}

func param(cfg config.StrategyConfig, name, description string, def float64) Parameter {
	return Parameter{Name: name, Description: description, Default: def, Current: cfg.Param(name, def)}
}

func spreadOrWorst(spread float64) float64 {
	if spread > 0 {
		return spread
	}
	return worstSpreadBps
}

func regimeIn(r types.Regime, names ...types.RegimeName) bool {
	for _, n := range names {
		if r.Name == n {
			return true
		}
	}
	return false
}

func finite(v float64) float64 {
	if utils.IsFinite(v) {
		return v
	}
	return 0
}
