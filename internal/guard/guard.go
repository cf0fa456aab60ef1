// Package guard implements the performance circuit breaker.
package guard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// StateKey is the state key holding the guard state.
const StateKey = "performanceGuardState"

// Breaker reasons and warnings.
const (
	ReasonDrawdownBreach      = "drawdown_breach"
	ReasonOrderFailuresBreach = "order_failures_breach"

	WarningLatency    = "latency_above_threshold"
	WarningRollingEQS = "rolling_eqs_below_threshold"
)

const telemetryWindow = 200

// State is the persisted guard state.
type State struct {
	EquityPeakSol          float64   `json:"equityPeakSol"`
	CurrentEquitySol       float64   `json:"currentEquitySol"`
	DrawdownPct            float64   `json:"drawdownPct"`
	ConsecutiveLosses      int       `json:"consecutiveLosses"`
	OrderFailureTimestamps []int64   `json:"orderFailureTimestamps"`
	LatencyMsWindow        []float64 `json:"latencyMsWindow"`
	EQSWindow              []float64 `json:"eqsWindow"`
	PauseUntilMs           int64     `json:"pauseUntilMs"`
	CircuitBreakerReason   string    `json:"circuitBreakerReason,omitempty"`
	LastUpdateMs           int64     `json:"lastUpdateMs"`
}

// Status is the result of an evaluation.
type Status struct {
	Paused            bool     `json:"paused"`
	PauseUntilMs      int64    `json:"pauseUntilMs"`
	Reason            string   `json:"reason,omitempty"`
	Warnings          []string `json:"warnings"`
	DrawdownPct       float64  `json:"drawdownPct"`
	ConsecutiveLosses int      `json:"consecutiveLosses"`
	MedianLatencyMs   float64  `json:"medianLatencyMs"`
	RollingEQS        float64  `json:"rollingEqs"`
}

// PauseUntil returns the pause deadline, zero when not paused.
func (s Status) PauseUntil() time.Time {
	if !s.Paused {
		return time.Time{}
	}
	return utils.FromMillis(s.PauseUntilMs)
}

// Guard tracks equity, losses, order failures and execution telemetry and
// pauses new entries on systemic breaches.
type Guard struct {
	logger *zap.Logger
	config config.PerformanceGuardConfig
	store  storage.StateStore

	mu    sync.Mutex
	state State
}

// New creates a new performance guard.
func New(logger *zap.Logger, cfg config.PerformanceGuardConfig, store storage.StateStore) *Guard {
	return &Guard{
		logger: logger.Named("performance-guard"),
		config: cfg,
		store:  store,
	}
}

// Load restores the persisted state.
func (g *Guard) Load(ctx context.Context) error {
	var state State
	if _, err := g.store.GetState(ctx, StateKey, &state); err != nil {
		return fmt.Errorf("load guard state: %w", err)
	}
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
	return nil
}

func (g *Guard) persist(ctx context.Context) error {
	if err := g.store.SetState(ctx, StateKey, g.state); err != nil {
		return fmt.Errorf("persist guard state: %w", err)
	}
	return nil
}

// UpdateEquity records the current equity and recomputes drawdown from the peak.
func (g *Guard) UpdateEquity(ctx context.Context, equitySol float64, now time.Time) error {
	if !utils.IsFinite(equitySol) {
		equitySol = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.EquityPeakSol <= 0 {
		g.state.EquityPeakSol = equitySol
	}
	g.state.EquityPeakSol = math.Max(g.state.EquityPeakSol, equitySol)
	g.state.CurrentEquitySol = equitySol
	if g.state.EquityPeakSol > 0 {
		g.state.DrawdownPct = (g.state.EquityPeakSol - equitySol) / g.state.EquityPeakSol
	} else {
		g.state.DrawdownPct = 0
	}
	g.state.LastUpdateMs = now.UnixMilli()
	return g.persist(ctx)
}

// RegisterTradeResult counts consecutive losses. A win resets the count; a flat trade does not.
func (g *Guard) RegisterTradeResult(ctx context.Context, pnlSol float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case pnlSol < 0:
		g.state.ConsecutiveLosses++
	case pnlSol > 0:
		g.state.ConsecutiveLosses = 0
	}
	return g.persist(ctx)
}

// RegisterOrderFailure records a failed order and prunes failures outside the window.
func (g *Guard) RegisterOrderFailure(ctx context.Context, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.OrderFailureTimestamps = append(g.state.OrderFailureTimestamps, now.UnixMilli())
	g.pruneFailures(now)
	return g.persist(ctx)
}

// pruneFailures drops failures older than the window. Caller holds g.mu.
func (g *Guard) pruneFailures(now time.Time) bool {
	windowStart := now.UnixMilli() - int64(g.config.FailureWindowMinutes)*time.Minute.Milliseconds()

	before := len(g.state.OrderFailureTimestamps)
	kept := g.state.OrderFailureTimestamps[:0]
	for _, ts := range g.state.OrderFailureTimestamps {
		if ts >= windowStart {
			kept = append(kept, ts)
		}
	}
	g.state.OrderFailureTimestamps = kept
	return len(kept) != before
}

// RegisterExecutionTelemetry appends to the rolling latency and EQS windows.
// Non-finite values are skipped.
func (g *Guard) RegisterExecutionTelemetry(ctx context.Context, latencyMs, eqs float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if utils.IsFinite(latencyMs) {
		g.state.LatencyMsWindow = pushBounded(g.state.LatencyMsWindow, latencyMs)
	}
	if utils.IsFinite(eqs) {
		g.state.EQSWindow = pushBounded(g.state.EQSWindow, eqs)
	}
	return g.persist(ctx)
}

func pushBounded(window []float64, v float64) []float64 {
	window = append(window, v)
	if len(window) > telemetryWindow {
		window = window[len(window)-telemetryWindow:]
	}
	return window
}

// TriggerPause pauses new entries for d. The deadline only ever moves later.
func (g *Guard) TriggerPause(ctx context.Context, reason string, d time.Duration, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.triggerPause(ctx, reason, d, now)
}

func (g *Guard) triggerPause(ctx context.Context, reason string, d time.Duration, now time.Time) error {
	untilMs := now.Add(d).UnixMilli()
	if untilMs <= g.state.PauseUntilMs {
		return nil
	}
	g.state.PauseUntilMs = untilMs
	g.state.CircuitBreakerReason = reason
	g.logger.Error("Circuit breaker triggered",
		zap.String("reason", reason),
		zap.Time("pauseUntil", utils.FromMillis(untilMs)),
	)
	return g.persist(ctx)
}

// ClearPause lifts any active pause.
func (g *Guard) ClearPause(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.PauseUntilMs = 0
	g.state.CircuitBreakerReason = ""
	g.logger.Info("Circuit breaker cleared")
	return g.persist(ctx)
}

// Evaluate checks the breach ceilings, extending the pause on a breach, and
// reports soft warnings. A disabled guard is never paused.
func (g *Guard) Evaluate(ctx context.Context, now time.Time) (Status, error) {
	if !g.config.Enabled {
		return Status{Warnings: []string{}}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pruneFailures(now) {
		if err := g.persist(ctx); err != nil {
			return Status{}, err
		}
	}

	pause := time.Duration(g.config.PauseMinutesOnDrawdownBreach) * time.Minute
	if g.state.DrawdownPct >= g.config.MaxDrawdownPct {
		if err := g.triggerPause(ctx, ReasonDrawdownBreach, pause, now); err != nil {
			return Status{}, err
		}
	}
	if len(g.state.OrderFailureTimestamps) >= g.config.MaxOrderFailuresInWindow {
		if err := g.triggerPause(ctx, ReasonOrderFailuresBreach, pause, now); err != nil {
			return Status{}, err
		}
	}

	warnings := []string{}
	medianLatency := utils.Median(g.state.LatencyMsWindow)
	if medianLatency > g.config.MaxMedianLatencyMs {
		warnings = append(warnings, WarningLatency)
	}
	rollingEQS := utils.Median(g.state.EQSWindow)
	if rollingEQS > 0 && rollingEQS < g.config.MinRollingEqs {
		warnings = append(warnings, WarningRollingEQS)
	}

	return Status{
		Paused:            now.UnixMilli() < g.state.PauseUntilMs,
		PauseUntilMs:      g.state.PauseUntilMs,
		Reason:            g.state.CircuitBreakerReason,
		Warnings:          warnings,
		DrawdownPct:       g.state.DrawdownPct,
		ConsecutiveLosses: g.state.ConsecutiveLosses,
		MedianLatencyMs:   medianLatency,
		RollingEQS:        rollingEQS,
	}, nil
}

// Snapshot returns a copy of the current state.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	s.OrderFailureTimestamps = append([]int64(nil), g.state.OrderFailureTimestamps...)
	s.LatencyMsWindow = append([]float64(nil), g.state.LatencyMsWindow...)
	s.EQSWindow = append([]float64(nil), g.state.EQSWindow...)
	return s
}
