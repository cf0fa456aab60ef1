// Package orchestrator runs the trading loop: it scans, decides, executes and
// learns once per tick, and owns the components that do each step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/blockchain"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/control"
	"github.com/atlas-desktop/sol-autotrader/internal/data"
	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/execution"
	"github.com/atlas-desktop/sol-autotrader/internal/governance"
	"github.com/atlas-desktop/sol-autotrader/internal/guard"
	"github.com/atlas-desktop/sol-autotrader/internal/learning"
	"github.com/atlas-desktop/sol-autotrader/internal/metrics"
	"github.com/atlas-desktop/sol-autotrader/internal/portfolio"
	"github.com/atlas-desktop/sol-autotrader/internal/positions"
	"github.com/atlas-desktop/sol-autotrader/internal/regime"
	"github.com/atlas-desktop/sol-autotrader/internal/sizing"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/internal/strategy"
	"github.com/atlas-desktop/sol-autotrader/internal/verifier"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// minLoopWait is the shortest sleep between ticks.
const minLoopWait = 250 * time.Millisecond

// Block reasons reported when new entries are not attempted.
const (
	BlockEmergencyStop = "emergency_stop"
	BlockPaused        = "paused"
	BlockGuard         = "performance_guard"
)

// CandidateScanner produces the gated candidates for one tick.
type CandidateScanner interface {
	Scan(ctx context.Context) (*data.ScanResult, error)
}

// RPCHealth reports RPC failover state. Satisfied by blockchain.RPCManager.
type RPCHealth interface {
	HealthCheck(ctx context.Context) blockchain.HealthStatus
	Status() blockchain.ManagerStatus
}

// Dependencies are the external collaborators of the trading system.
// Submitter, Keys and RPC may be nil when live trading is off.
type Dependencies struct {
	Store     storage.Store
	Scanner   CandidateScanner
	Quoter    execution.Quoter
	Submitter execution.Submitter
	Keys      execution.KeyLoader
	RPC       RPCHealth
	Metrics   *metrics.Metrics
}

// Entry is one position opened during a tick.
type Entry struct {
	Mint      string          `json:"mint"`
	Symbol    string          `json:"symbol"`
	AmountSol float64         `json:"amountSol"`
	Mode      types.TradeMode `json:"mode"`
	EQS       float64         `json:"eqs"`
}

// TickSummary is what one tick did.
type TickSummary struct {
	StartedAt          time.Time                 `json:"startedAt"`
	DurationMs         int64                     `json:"durationMs"`
	Regime             types.Regime              `json:"regime"`
	Portfolio          types.PortfolioState      `json:"portfolio"`
	Guard              guard.Status              `json:"guard"`
	Controls           control.State             `json:"controls"`
	ScannedCandidates  int                       `json:"scannedCandidates"`
	TradableCandidates int                       `json:"tradableCandidates"`
	Intents            int                       `json:"intents"`
	EntryBlocked       bool                      `json:"entryBlocked"`
	BlockReason        string                    `json:"blockReason,omitempty"`
	Entries            []Entry                   `json:"entries"`
	Closes             []positions.Close         `json:"closes"`
	Transitions        []governance.Transition   `json:"transitions"`
	RPC                *blockchain.ManagerStatus `json:"rpc,omitempty"`
}

// TradingSystem wires every component of the controller and runs the tick loop.
type TradingSystem struct {
	logger *zap.Logger
	config *config.Config

	store      storage.Store
	scanner    CandidateScanner
	rpc        RPCHealth
	metrics    *metrics.Metrics
	bus        *events.Bus
	control    *control.Plane
	guard      *guard.Guard
	gov        *governance.Governance
	regime     *regime.RegimeDetector
	strategies *strategy.Set
	portfolio  *portfolio.Engine
	verifier   *verifier.Verifier
	allocator  *sizing.CapitalAllocator
	risk       *execution.RiskGovernor
	execution  *execution.Intelligence
	positions  *positions.Manager
	evaluator  *learning.Evaluator

	now     func() time.Time
	closers []func() error

	mu       sync.RWMutex
	running  bool
	lastTick *TickSummary
}

// New builds the trading system on top of deps. Call Init before Tick or Run.
func New(logger *zap.Logger, cfg *config.Config, deps Dependencies) *TradingSystem {
	m := deps.Metrics
	if m == nil {
		m = metrics.New("")
	}

	bus := events.NewBus(logger, deps.Store, events.DefaultConfig())
	gov := governance.New(logger, cfg, deps.Store, bus)
	strategies := strategy.NewSet(logger, cfg.Strategies, cfg.Watchlist)

	s := &TradingSystem{
		logger:     logger.Named("orchestrator"),
		config:     cfg,
		store:      deps.Store,
		scanner:    deps.Scanner,
		rpc:        deps.RPC,
		metrics:    m,
		bus:        bus,
		control:    control.New(logger, deps.Store),
		guard:      guard.New(logger, cfg.PerformanceGuard, deps.Store),
		gov:        gov,
		regime:     regime.NewRegimeDetector(logger, cfg.MRD),
		strategies: strategies,
		portfolio:  portfolio.NewEngine(logger, cfg.Portfolio, strategies),
		verifier:   verifier.NewVerifier(logger, cfg.Portfolio),
		allocator:  sizing.NewCapitalAllocator(logger, cfg.Allocation, cfg.Risk.MaxTradeSol, cfg.Strategies),
		risk:       execution.NewRiskGovernor(logger, cfg.Risk, deps.Store),
		evaluator:  learning.NewEvaluator(logger, deps.Store),
		now:        time.Now,
	}

	s.execution = execution.NewIntelligence(logger, cfg, deps.Quoter, deps.Submitter, deps.Keys, systemModes{config: cfg, gov: gov})
	s.positions = positions.NewManager(logger, cfg.Risk, deps.Store, s.execution, bus)
	return s
}

// SetClock overrides the wall clock. Used by tests.
func (s *TradingSystem) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OnClose registers cleanup to run in Close, in reverse order.
func (s *TradingSystem) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Init restores persisted control, guard, governance and cooldown state.
func (s *TradingSystem) Init(ctx context.Context) error {
	now := s.now()
	if err := s.control.Load(ctx); err != nil {
		return err
	}
	if err := s.guard.Load(ctx); err != nil {
		return err
	}
	if err := s.gov.Load(ctx, now); err != nil {
		return err
	}
	if err := s.risk.Load(ctx); err != nil {
		return err
	}

	s.logger.Info("Trading system initialized",
		zap.String("name", s.config.System.Name),
		zap.Bool("globalShadow", s.gov.GlobalShadow()),
		zap.Bool("liveTradingEnabled", s.config.System.LiveTradingEnabled),
		zap.Int("rpcEndpoints", len(s.config.Network.RPCEndpoints)),
	)
	return nil
}

// Run ticks until ctx is cancelled. A failing tick is logged and recorded;
// the loop keeps going.
func (s *TradingSystem) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("trading system already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	interval := s.config.System.LoopInterval()
	s.logger.Info("Trading loop started", zap.Duration("interval", interval))

	for {
		started := time.Now()
		if _, err := s.safeTick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Tick failed", zap.Error(err))
			s.metrics.RecordCycle("error", time.Since(started))
			_ = s.bus.Record(ctx, events.TypeLoopError, map[string]any{"error": err.Error()})
		}

		wait := interval - time.Since(started)
		if wait < minLoopWait {
			wait = minLoopWait
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Trading loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// safeTick turns a panicking tick into an error.
func (s *TradingSystem) safeTick(ctx context.Context) (summary *TickSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Tick panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return s.Tick(ctx)
}

// Tick runs one full cycle. Open positions are always evaluated, even when
// new entries are blocked.
func (s *TradingSystem) Tick(ctx context.Context) (*TickSummary, error) {
	started := s.now()
	now := started

	portfolioState, err := s.portfolioState(ctx, now)
	if err != nil {
		return nil, err
	}
	if err := s.guard.UpdateEquity(ctx, portfolioState.EquitySol, now); err != nil {
		s.logger.Warn("Guard equity update failed", zap.Error(err))
	}
	if err := s.store.RecordEquitySnapshot(ctx, types.EquitySnapshot{
		EquitySol:   portfolioState.EquitySol,
		PnlSol:      portfolioState.TotalPnlSol,
		DrawdownPct: s.guard.Snapshot().DrawdownPct,
		CreatedAt:   now,
	}); err != nil {
		s.logger.Warn("Equity snapshot failed", zap.Error(err))
	}

	guardStatus, err := s.guard.Evaluate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate guard: %w", err)
	}
	s.syncGuardPause(ctx, guardStatus, now)

	closes, err := s.positions.EvaluateOpen(ctx, s.guard, s.risk, now)
	if err != nil {
		s.logger.Warn("Position evaluation failed", zap.Error(err))
	}
	for _, c := range closes {
		s.metrics.RecordExit(c.Reason)
	}

	scan, err := s.scanner.Scan(ctx)
	if err != nil {
		s.logger.Warn("Watchlist scan failed", zap.Error(err))
		scan = &data.ScanResult{}
	}
	currentRegime := s.regime.Detect(scan.Tradable, now)

	guardStatus, err = s.guard.Evaluate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate guard: %w", err)
	}
	entries := s.processEntries(ctx, s.control.Snapshot(), guardStatus, currentRegime, scan.Tradable, now)

	stats, err := s.evaluator.Run(ctx, now)
	var transitions []governance.Transition
	if err != nil {
		s.logger.Warn("Self-evaluation failed", zap.Error(err))
	} else if transitions, err = s.gov.ApplyEvaluation(ctx, stats, now); err != nil {
		s.logger.Warn("Governance update failed", zap.Error(err))
	}

	portfolioState, err = s.portfolioState(ctx, now)
	if err != nil {
		return nil, err
	}
	guardStatus, err = s.guard.Evaluate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate guard: %w", err)
	}

	summary := &TickSummary{
		StartedAt:          started,
		DurationMs:         s.now().Sub(started).Milliseconds(),
		Regime:             currentRegime,
		Portfolio:          portfolioState,
		Guard:              guardStatus,
		Controls:           s.control.Snapshot(),
		ScannedCandidates:  len(scan.Scanned),
		TradableCandidates: len(scan.Tradable),
		Intents:            entries.intents,
		EntryBlocked:       entries.blockReason != "",
		BlockReason:        entries.blockReason,
		Entries:            entries.opened,
		Closes:             closes,
		Transitions:        transitions,
	}
	if s.rpc != nil {
		status := s.rpc.Status()
		summary.RPC = &status
	}

	s.mu.Lock()
	s.lastTick = summary
	s.mu.Unlock()

	if err := s.bus.Record(ctx, events.TypeTickSummary, tickPayload(summary)); err != nil {
		s.logger.Warn("Tick summary not persisted", zap.Error(err))
	}
	if err := s.writeHealth(ctx, summary); err != nil {
		s.logger.Warn("Health file not written", zap.Error(err))
	}

	s.metrics.RecordCycle("ok", time.Duration(summary.DurationMs)*time.Millisecond)
	s.metrics.UpdateState(portfolioState.EquitySol, guardStatus.DrawdownPct, guardStatus.Paused, portfolioState.OpenPositions)

	s.logger.Debug("Tick complete",
		zap.String("regime", string(currentRegime.Name)),
		zap.Int("tradable", summary.TradableCandidates),
		zap.Int("entries", len(summary.Entries)),
		zap.Int("closes", len(summary.Closes)),
		zap.Bool("entryBlocked", summary.EntryBlocked),
	)
	return summary, nil
}

// syncGuardPause extends the control pause to cover an active guard pause.
func (s *TradingSystem) syncGuardPause(ctx context.Context, status guard.Status, now time.Time) {
	if !status.Paused || s.control.Snapshot().PauseUntilMs >= status.PauseUntilMs {
		return
	}
	if err := s.control.ExtendPause(ctx, status.PauseUntil(), now); err != nil {
		s.logger.Warn("Control pause not extended", zap.Error(err))
		return
	}
	s.logger.Warn("Performance guard paused entries",
		zap.String("reason", status.Reason),
		zap.Time("until", status.PauseUntil()),
	)
	_ = s.bus.Record(ctx, events.TypeGuardPause, map[string]any{
		"reason":       status.Reason,
		"pauseUntilMs": status.PauseUntilMs,
		"drawdownPct":  status.DrawdownPct,
	})
}

// portfolioState reads open exposure and realized PnL from the store.
func (s *TradingSystem) portfolioState(ctx context.Context, now time.Time) (types.PortfolioState, error) {
	open, err := s.store.ListPositions(ctx)
	if err != nil {
		return types.PortfolioState{}, fmt.Errorf("list positions: %w", err)
	}
	total, err := s.store.RealizedPnL(ctx, time.Time{})
	if err != nil {
		return types.PortfolioState{}, fmt.Errorf("total pnl: %w", err)
	}
	daily, err := s.store.RealizedPnL(ctx, utils.StartOfUTCDay(now))
	if err != nil {
		return types.PortfolioState{}, fmt.Errorf("daily pnl: %w", err)
	}

	exposure := 0.0
	for _, p := range open {
		exposure += p.AmountSol
	}
	return types.PortfolioState{
		OpenPositions: len(open),
		ExposureSol:   exposure,
		EquitySol:     s.config.Allocation.BaseCapitalSol + total,
		TotalPnlSol:   total,
		DailyPnlSol:   daily,
	}, nil
}

func tickPayload(t *TickSummary) map[string]any {
	return map[string]any{
		"regime":             string(t.Regime.Name),
		"regimeConfidence":   t.Regime.Confidence,
		"equitySol":          t.Portfolio.EquitySol,
		"exposureSol":        t.Portfolio.ExposureSol,
		"openPositions":      t.Portfolio.OpenPositions,
		"dailyPnlSol":        t.Portfolio.DailyPnlSol,
		"drawdownPct":        t.Guard.DrawdownPct,
		"guardPaused":        t.Guard.Paused,
		"emergencyStop":      t.Controls.EmergencyStop,
		"scannedCandidates":  t.ScannedCandidates,
		"tradableCandidates": t.TradableCandidates,
		"intents":            t.Intents,
		"entryBlocked":       t.EntryBlocked,
		"blockReason":        t.BlockReason,
		"entries":            len(t.Entries),
		"closes":             len(t.Closes),
		"transitions":        len(t.Transitions),
		"durationMs":         t.DurationMs,
	}
}

// Events returns the event bus.
func (s *TradingSystem) Events() *events.Bus {
	return s.bus
}

// Metrics returns the metrics collectors.
func (s *TradingSystem) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close stops the event bus and runs registered cleanups.
func (s *TradingSystem) Close() error {
	s.bus.Close()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
