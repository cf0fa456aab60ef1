// Package positions owns open positions and their exits.
package positions

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/execution"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// Exit reasons in priority order.
const (
	ExitStopLoss          = "stop_loss_hit"
	ExitTrailingStop      = "trailing_stop_hit"
	ExitTakeProfit        = "take_profit_hit"
	ExitMaxUnrealizedLoss = "max_unrealized_loss_hit"
)

// Store is the slice of the durable store the manager uses.
type Store interface {
	storage.PositionStore
	storage.TradeStore
}

// ExitExecutor quotes and settles exits.
type ExitExecutor interface {
	PlanExit(ctx context.Context, position types.Position) (*types.ExitPlan, error)
	ExecuteExit(ctx context.Context, plan *types.ExitPlan) (types.ExecutionOutcome, error)
}

// EventRecorder records diagnostic events.
type EventRecorder interface {
	Record(ctx context.Context, eventType string, payload map[string]any) error
}

// TradeResultRecorder receives realized PnL of closed trades.
type TradeResultRecorder interface {
	RegisterTradeResult(ctx context.Context, pnlSol float64) error
}

// CloseListener is notified when a position closes.
type CloseListener interface {
	OnTradeClosed(ctx context.Context, mint string, pnlSol float64, now time.Time) error
}

// Close describes one closed position.
type Close struct {
	Mint   string          `json:"mint"`
	Symbol string          `json:"symbol"`
	PnlSol float64         `json:"pnlSol"`
	Reason string          `json:"reason"`
	Mode   types.TradeMode `json:"mode"`
}

// Manager opens positions from fills and runs the exit state machine every cycle.
type Manager struct {
	logger    *zap.Logger
	config    config.RiskConfig
	store     Store
	execution ExitExecutor
	events    EventRecorder
}

// NewManager creates a new position manager.
func NewManager(logger *zap.Logger, cfg config.RiskConfig, store Store, exec ExitExecutor, recorder EventRecorder) *Manager {
	return &Manager{
		logger:    logger.Named("positions"),
		config:    cfg,
		store:     store,
		execution: exec,
		events:    recorder,
	}
}

// OpenFromEntry persists a position and its BUY trade. Thresholds are fixed
// fractions of the allocated amount.
func (m *Manager) OpenFromEntry(ctx context.Context, plan *types.Plan, outcome types.ExecutionOutcome, now time.Time) (*types.Position, error) {
	qtyRaw := outcome.OutAmountRaw
	if qtyRaw == "" {
		qtyRaw = plan.RoundTrip.BuyOutRaw
	}
	amountSol := plan.Allocation.AmountSol
	mode := types.ModeShadow
	if outcome.Status == types.ExecutionLiveFilled {
		mode = types.ModeLive
	}

	position := &types.Position{
		Mint:            plan.Intent.Mint,
		Symbol:          plan.Intent.Candidate.Symbol,
		QtyRaw:          qtyRaw,
		AmountSol:       amountSol,
		Strategies:      plan.Intent.StrategyIDs(),
		OpenedAt:        now,
		HighestValueSol: amountSol,
		StopLossSol:     amountSol * (1 - m.config.StopLossPct),
		TakeProfitSol:   amountSol * (1 + m.config.TakeProfitPct),
		TrailingStopSol: amountSol * (1 - m.config.TrailingStopPct),
		Mode:            mode,
		Metadata: map[string]interface{}{
			"regime": string(plan.Intent.Regime.Name),
			"eqs":    plan.EQS,
		},
		UpdatedAt: now,
	}

	if err := m.store.UpsertPosition(ctx, position); err != nil {
		return nil, fmt.Errorf("persist position %s: %w", position.Mint, err)
	}

	reason := outcome.Reason
	if reason == "" {
		reason = "entry_filled"
	}
	trade := &types.Trade{
		Mint:       position.Mint,
		Symbol:     position.Symbol,
		Side:       types.SideBuy,
		AmountSol:  amountSol,
		QtyRaw:     qtyRaw,
		Mode:       mode,
		Strategies: position.Strategies,
		Status:     string(outcome.Status),
		Reason:     reason,
		TxSig:      outcome.TxSig,
		Metadata: map[string]interface{}{
			"confidence":     plan.Intent.AggregateConfidence,
			"priceImpactBps": plan.RoundTrip.PriceImpactBps,
			"instantLossBps": plan.RoundTrip.InstantLossBps,
			"eqs":            plan.EQS,
			"regime":         string(plan.Intent.Regime.Name),
			"limitingFactor": plan.Allocation.LimitingFactor,
		},
		CreatedAt: now,
	}
	if err := m.store.RecordTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record entry trade %s: %w", position.Mint, err)
	}

	m.logger.Info("Position opened",
		zap.String("mint", position.Mint),
		zap.String("symbol", position.Symbol),
		zap.Float64("amountSol", amountSol),
		zap.String("mode", string(mode)),
		zap.String("qtyRaw", qtyRaw),
	)
	m.record(ctx, events.TypePositionOpened, map[string]any{
		"mint":      position.Mint,
		"amountSol": amountSol,
		"mode":      string(mode),
	})
	return position, nil
}

// EvaluateOpen marks every open position to market and exits those that hit a
// threshold. A failure on one position never stops the others.
func (m *Manager) EvaluateOpen(ctx context.Context, guard TradeResultRecorder, risk CloseListener, now time.Time) ([]Close, error) {
	positions, err := m.store.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	var closes []Close
	for _, position := range positions {
		closed, err := m.evaluate(ctx, position, guard, risk, now)
		if err != nil {
			m.logger.Warn("Position evaluation failed",
				zap.String("mint", position.Mint),
				zap.Error(err),
			)
			continue
		}
		if closed != nil {
			closes = append(closes, *closed)
		}
	}
	return closes, nil
}

// ExitDecision is the mark-to-market state of a position.
type ExitDecision struct {
	CurrentValueSol float64
	HighestValueSol float64
	TrailingStopSol float64
	PnlPct          float64
	Reason          string
}

// DecideExit ratchets the high-water mark and trailing stop and picks an exit reason, if any.
func DecideExit(position types.Position, currentValueSol float64, cfg config.RiskConfig) ExitDecision {
	highest := position.HighestValueSol
	if currentValueSol > highest {
		highest = currentValueSol
	}
	trailing := position.TrailingStopSol
	if candidate := highest * (1 - cfg.TrailingStopPct); candidate > trailing {
		trailing = candidate
	}

	d := ExitDecision{
		CurrentValueSol: currentValueSol,
		HighestValueSol: highest,
		TrailingStopSol: trailing,
		PnlPct:          execution.PnlPct(currentValueSol, position.AmountSol),
	}

	switch {
	case currentValueSol <= position.StopLossSol:
		d.Reason = ExitStopLoss
	case currentValueSol <= trailing && highest > position.AmountSol:
		d.Reason = ExitTrailingStop
	case currentValueSol >= position.TakeProfitSol:
		d.Reason = ExitTakeProfit
	case d.PnlPct <= -cfg.MaxUnrealizedLossPct:
		d.Reason = ExitMaxUnrealizedLoss
	}
	return d
}

func (m *Manager) evaluate(ctx context.Context, position types.Position, guard TradeResultRecorder, risk CloseListener, now time.Time) (*Close, error) {
	plan, err := m.execution.PlanExit(ctx, position)
	if err != nil {
		return nil, err
	}

	d := DecideExit(position, plan.ExpectedOutSol, m.config)
	if d.Reason == "" {
		position.HighestValueSol = d.HighestValueSol
		position.TrailingStopSol = d.TrailingStopSol
		position.UpdatedAt = now
		if err := m.store.UpsertPosition(ctx, &position); err != nil {
			return nil, fmt.Errorf("persist ratchet: %w", err)
		}
		return nil, nil
	}

	outcome, err := m.execution.ExecuteExit(ctx, plan)
	if err == nil && !outcome.Filled() {
		err = fmt.Errorf("%s: %s", outcome.Reason, outcome.Error)
	}
	if err != nil {
		m.record(ctx, events.TypeExitFailed, map[string]any{
			"mint":   position.Mint,
			"reason": d.Reason,
			"error":  err.Error(),
		})
		m.logger.Warn("Exit failed, retrying next cycle",
			zap.String("mint", position.Mint),
			zap.String("reason", d.Reason),
			zap.Error(err),
		)
		return nil, nil
	}

	out := outcome.OutAmountRaw
	if out == "" {
		out = plan.Quote.OutAmount
	}
	receivedSol := utils.RawLamportsToSol(out)
	pnlSol := execution.PnlSol(receivedSol, position.AmountSol)
	mode := plan.Mode

	trade := &types.Trade{
		Mint:       position.Mint,
		Symbol:     position.Symbol,
		Side:       types.SideSell,
		AmountSol:  receivedSol,
		QtyRaw:     position.QtyRaw,
		PnlSol:     &pnlSol,
		Mode:       mode,
		Strategies: position.Strategies,
		Status:     string(outcome.Status),
		Reason:     d.Reason,
		TxSig:      outcome.TxSig,
		Metadata: map[string]interface{}{
			"currentValueSol": d.CurrentValueSol,
			"costBasisSol":    position.AmountSol,
			"pnlPct":          d.PnlPct,
			"priceImpactBps":  plan.PriceImpactBps,
		},
		CreatedAt: now,
	}
	if err := m.store.RecordTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record exit trade: %w", err)
	}
	if err := m.store.DeletePosition(ctx, position.Mint); err != nil {
		return nil, fmt.Errorf("delete position: %w", err)
	}

	if guard != nil {
		if err := guard.RegisterTradeResult(ctx, pnlSol); err != nil {
			m.logger.Warn("Guard trade result failed", zap.Error(err))
		}
	}
	if risk != nil {
		if err := risk.OnTradeClosed(ctx, position.Mint, pnlSol, now); err != nil {
			m.logger.Warn("Cooldown update failed", zap.Error(err))
		}
	}

	m.record(ctx, events.TypePositionClosed, map[string]any{
		"mint":   position.Mint,
		"reason": d.Reason,
		"pnlSol": pnlSol,
		"mode":   string(mode),
	})
	m.logger.Info("Position closed",
		zap.String("mint", position.Mint),
		zap.String("symbol", position.Symbol),
		zap.Float64("pnlSol", pnlSol),
		zap.String("reason", d.Reason),
		zap.String("mode", string(mode)),
	)

	return &Close{
		Mint:   position.Mint,
		Symbol: position.Symbol,
		PnlSol: pnlSol,
		Reason: d.Reason,
		Mode:   mode,
	}, nil
}

func (m *Manager) record(ctx context.Context, eventType string, payload map[string]any) {
	if m.events == nil {
		return
	}
	if err := m.events.Record(ctx, eventType, payload); err != nil {
		m.logger.Warn("Event record failed", zap.String("type", eventType), zap.Error(err))
	}
}
