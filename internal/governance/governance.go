// Package governance moves strategies between shadow and live trading based on
// their measured performance.
package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"go.uber.org/zap"
)

// StateKey is the state key holding strategy modes.
const StateKey = "strategyGovernanceModes"

// rollbackMinTrades is the sample size below which a live strategy is never rolled back.
const rollbackMinTrades = 10

// EventRecorder records diagnostic events.
type EventRecorder interface {
	Record(ctx context.Context, eventType string, payload map[string]any) error
}

// State is the persisted governance state.
type State struct {
	GlobalShadow bool                           `json:"globalShadow"`
	Strategies   map[string]types.StrategyState `json:"strategies"`
	UpdatedAt    time.Time                      `json:"updatedAt"`
}

// Transition is one promotion or rollback.
type Transition struct {
	StrategyID string               `json:"strategyId"`
	From       types.GovernanceMode `json:"from"`
	To         types.GovernanceMode `json:"to"`
	Trades     int                  `json:"trades"`
	WinRate    float64              `json:"winRate"`
	PnlSol     float64              `json:"pnlSol"`
	Drawdown   float64              `json:"drawdownPct"`
}

// Governance owns the per-strategy shadow/live state machine.
type Governance struct {
	logger     *zap.Logger
	config     config.GovernanceConfig
	risk       config.RiskConfig
	system     config.SystemConfig
	strategies config.StrategiesConfig
	store      storage.StateStore
	events     EventRecorder

	mu    sync.RWMutex
	state State
}

// New creates governance for the configured strategies. recorder may be nil.
func New(logger *zap.Logger, cfg *config.Config, store storage.StateStore, recorder EventRecorder) *Governance {
	return &Governance{
		logger:     logger.Named("governance"),
		config:     cfg.Governance,
		risk:       cfg.Risk,
		system:     cfg.System,
		strategies: cfg.Strategies,
		store:      store,
		events:     recorder,
		state:      State{Strategies: make(map[string]types.StrategyState)},
	}
}

// Load restores persisted modes, or seeds them from configuration on first run.
// A strategy disabled in configuration is always disabled.
func (g *Governance) Load(ctx context.Context, now time.Time) error {
	var persisted State
	found, err := g.store.GetState(ctx, StateKey, &persisted)
	if err != nil {
		return fmt.Errorf("load governance state: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !found || persisted.Strategies == nil {
		persisted = State{
			GlobalShadow: g.system.ShadowMode,
			Strategies:   make(map[string]types.StrategyState),
		}
	}

	for _, id := range g.strategies.IDs() {
		cfg, _ := g.strategies.Get(id)
		existing, ok := persisted.Strategies[id]
		switch {
		case !cfg.Enabled:
			persisted.Strategies[id] = types.StrategyState{Mode: types.GovernanceDisabled, UpdatedAt: now}
		case !ok:
			persisted.Strategies[id] = types.StrategyState{
				Mode:          g.initialMode(cfg),
				UpdatedAt:     now,
				ShadowSinceMs: now.UnixMilli(),
			}
		default:
			persisted.Strategies[id] = existing
		}
	}

	g.state = persisted
	return g.persist(ctx)
}

func (g *Governance) initialMode(cfg config.StrategyConfig) types.GovernanceMode {
	if g.system.ShadowMode || cfg.Shadow {
		return types.GovernanceShadow
	}
	return types.GovernanceLive
}

func (g *Governance) persist(ctx context.Context) error {
	if err := g.store.SetState(ctx, StateKey, g.state); err != nil {
		return fmt.Errorf("persist governance state: %w", err)
	}
	return nil
}

// SetGlobalShadow toggles the global shadow override. Turning it on moves every
// non-disabled strategy to shadow and restarts its shadow clock.
func (g *Governance) SetGlobalShadow(ctx context.Context, enabled bool, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.GlobalShadow = enabled
	g.state.UpdatedAt = now
	if enabled {
		for id, s := range g.state.Strategies {
			if s.Mode == types.GovernanceDisabled {
				continue
			}
			s.Mode = types.GovernanceShadow
			s.ShadowSinceMs = now.UnixMilli()
			s.UpdatedAt = now
			g.state.Strategies[id] = s
		}
	}

	g.logger.Info("Global shadow updated", zap.Bool("enabled", enabled))
	return g.persist(ctx)
}

// GlobalShadow reports whether the global shadow override is on.
func (g *Governance) GlobalShadow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.GlobalShadow
}

// StrategyState returns the effective state of a strategy. Unknown strategies
// are disabled; the global shadow override applies to the rest.
func (g *Governance) StrategyState(strategyID string) types.StrategyState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s, ok := g.state.Strategies[strategyID]
	if !ok {
		return types.StrategyState{Mode: types.GovernanceDisabled}
	}
	if g.state.GlobalShadow && s.Mode != types.GovernanceDisabled {
		s.Mode = types.GovernanceShadow
	}
	return s
}

// ApplyEvaluation promotes and rolls back strategies from their latest statistics.
// Strategies without statistics are left alone.
func (g *Governance) ApplyEvaluation(ctx context.Context, stats map[string]types.StrategyStat, now time.Time) ([]Transition, error) {
	g.mu.Lock()
	minShadow := time.Duration(g.config.ShadowDurationHours * float64(time.Hour))

	var transitions []Transition
	for _, id := range g.sortedIDs() {
		s := g.state.Strategies[id]
		if s.Mode == types.GovernanceDisabled {
			continue
		}
		stat, ok := stats[id]
		if !ok {
			continue
		}

		winRate := 0.0
		if stat.TotalTrades > 0 {
			winRate = float64(stat.Wins) / float64(stat.TotalTrades)
		}
		t := Transition{
			StrategyID: id,
			Trades:     stat.TotalTrades,
			WinRate:    winRate,
			PnlSol:     stat.PnlSol,
			Drawdown:   stat.MaxDrawdownPct,
		}

		if s.Mode == types.GovernanceShadow {
			shadowSince := now.UnixMilli()
			if s.ShadowSinceMs > 0 {
				shadowSince = s.ShadowSinceMs
			}
			shadowAge := time.Duration(now.UnixMilli()-shadowSince) * time.Millisecond

			if !g.state.GlobalShadow &&
				shadowAge >= minShadow &&
				stat.TotalTrades >= g.config.PromotionMinTrades &&
				winRate >= g.config.PromotionMinWinRate &&
				stat.PnlSol >= g.config.PromotionMinPnlSol {
				s.Mode = types.GovernanceLive
				s.UpdatedAt = now
				t.From, t.To = types.GovernanceShadow, types.GovernanceLive
				transitions = append(transitions, t)
				g.logger.Info("Strategy promoted",
					zap.String("strategy", id),
					zap.Int("trades", stat.TotalTrades),
					zap.Float64("winRate", winRate),
					zap.Float64("pnlSol", stat.PnlSol),
				)
			}
		}

		if s.Mode == types.GovernanceLive {
			rollback := stat.TotalTrades >= rollbackMinTrades &&
				(stat.MaxDrawdownPct >= g.config.RollbackMaxDrawdownPct ||
					winRate <= g.config.RollbackMinWinRate ||
					stat.Losses >= g.risk.MaxConsecutiveLosses)
			if rollback {
				s.Mode = types.GovernanceShadow
				s.ShadowSinceMs = now.UnixMilli()
				s.UpdatedAt = now
				t.From, t.To = types.GovernanceLive, types.GovernanceShadow
				transitions = append(transitions, t)
				g.logger.Warn("Strategy rolled back",
					zap.String("strategy", id),
					zap.Int("trades", stat.TotalTrades),
					zap.Float64("winRate", winRate),
					zap.Float64("drawdownPct", stat.MaxDrawdownPct),
				)
			}
		}

		g.state.Strategies[id] = s
	}

	err := g.persist(ctx)
	g.mu.Unlock()
	if err != nil {
		return transitions, err
	}

	for _, t := range transitions {
		g.record(ctx, t)
	}
	return transitions, nil
}

func (g *Governance) sortedIDs() []string {
	ids := make([]string, 0, len(g.state.Strategies))
	for id := range g.state.Strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Governance) record(ctx context.Context, t Transition) {
	if g.events == nil {
		return
	}
	err := g.events.Record(ctx, events.TypeGovernanceTransition, map[string]any{
		"strategyId":  t.StrategyID,
		"from":        string(t.From),
		"to":          string(t.To),
		"trades":      t.Trades,
		"winRate":     t.WinRate,
		"pnlSol":      t.PnlSol,
		"drawdownPct": t.Drawdown,
	})
	if err != nil {
		g.logger.Warn("Event record failed", zap.Error(err))
	}
}

// Snapshot returns a copy of the persisted state.
func (g *Governance) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := State{
		GlobalShadow: g.state.GlobalShadow,
		UpdatedAt:    g.state.UpdatedAt,
		Strategies:   make(map[string]types.StrategyState, len(g.state.Strategies)),
	}
	for id, s := range g.state.Strategies {
		out.Strategies[id] = s
	}
	return out
}
