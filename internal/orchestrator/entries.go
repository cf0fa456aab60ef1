package orchestrator

import (
	"context"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/control"
	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/execution"
	"github.com/atlas-desktop/sol-autotrader/internal/governance"
	"github.com/atlas-desktop/sol-autotrader/internal/guard"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"go.uber.org/zap"
)

// Intent outcomes counted in metrics.
const (
	outcomeRejectedVerifier = "rejected_verifier"
	outcomeAllocationZero   = "allocation_zero"
	outcomePlanFailed       = "plan_failed"
	outcomeBlockedRisk      = "blocked_risk"
	outcomeExecuted         = "executed"
)

// systemModes reads the runtime switches: governance owns global shadow and
// config owns the live trading flag.
type systemModes struct {
	config *config.Config
	gov    *governance.Governance
}

func (m systemModes) ShadowMode() bool         { return m.gov.GlobalShadow() }
func (m systemModes) LiveTradingEnabled() bool { return m.config.System.LiveTradingEnabled }

type entryResult struct {
	blockReason string
	intents     int
	opened      []Entry
}

// blockReason returns why new entries are blocked, or "".
func blockReason(controls control.State, guardStatus guard.Status, now time.Time) string {
	switch {
	case controls.EmergencyStop:
		return BlockEmergencyStop
	case controls.Paused(now):
		return BlockPaused
	case guardStatus.Paused:
		return BlockGuard
	}
	return ""
}

// processEntries runs every intent through verify, allocate, plan, risk and
// execute. Each intent that falls out along the way leaves an event.
func (s *TradingSystem) processEntries(
	ctx context.Context,
	controls control.State,
	guardStatus guard.Status,
	regime types.Regime,
	candidates []types.Candidate,
	now time.Time,
) entryResult {
	if reason := blockReason(controls, guardStatus, now); reason != "" {
		return entryResult{blockReason: reason}
	}

	intents := s.portfolio.BuildIntents(candidates, regime, s.gov)
	result := entryResult{intents: len(intents)}

	for _, intent := range intents {
		verification := s.verifier.Verify(intent, s.gov.GlobalShadow())
		if !verification.Approved {
			s.metrics.RecordIntent(outcomeRejectedVerifier)
			s.record(ctx, events.TypeIntentRejected, map[string]any{
				"mint":    intent.Mint,
				"reasons": verification.Reasons,
			})
			continue
		}

		portfolioState, err := s.portfolioState(ctx, now)
		if err != nil {
			s.logger.Warn("Portfolio state unavailable", zap.Error(err))
			return result
		}
		if err := s.guard.UpdateEquity(ctx, portfolioState.EquitySol, now); err != nil {
			s.logger.Warn("Guard equity update failed", zap.Error(err))
		}

		allocation := s.allocator.Allocate(intent, portfolioState)
		if allocation.AmountSol <= 0 {
			s.metrics.RecordIntent(outcomeAllocationZero)
			continue
		}

		plan, err := s.execution.PlanEntry(ctx, intent, allocation)
		if err != nil {
			s.metrics.RecordIntent(outcomePlanFailed)
			s.registerOrderFailure(ctx, now)
			s.logger.Warn("Entry plan failed", zap.String("mint", intent.Mint), zap.Error(err))
			s.record(ctx, events.TypeEntryPlanFailed, map[string]any{
				"mint":  intent.Mint,
				"error": err.Error(),
			})
			continue
		}
		if verification.TradeMode == types.ModeShadow {
			plan.Mode = types.ModeShadow
		}
		s.metrics.RecordEQS(plan.EQS)

		decision := s.risk.Evaluate(execution.RiskInput{
			Now: now,
			Controls: execution.Controls{
				EmergencyStop: controls.EmergencyStop,
				PauseUntil:    controls.PauseUntil(),
			},
			Mint:      intent.Mint,
			AmountSol: allocation.AmountSol,
			Portfolio: portfolioState,
			Performance: execution.PerformanceView{
				DailyPnlSol:       portfolioState.DailyPnlSol,
				DrawdownPct:       guardStatus.DrawdownPct,
				ConsecutiveLosses: guardStatus.ConsecutiveLosses,
			},
			PriceImpactBps: plan.RoundTrip.PriceImpactBps,
			InstantLossBps: plan.RoundTrip.InstantLossBps,
		})
		if !decision.Allowed {
			s.metrics.RecordIntent(outcomeBlockedRisk)
			s.record(ctx, events.TypeIntentBlockedRisk, map[string]any{
				"mint":    intent.Mint,
				"reasons": decision.Reasons,
			})
			continue
		}

		s.metrics.RecordIntent(outcomeExecuted)
		outcome, err := s.execution.ExecuteEntry(ctx, plan)
		if err != nil {
			s.metrics.RecordEntry(string(types.ExecutionFailed))
			s.registerOrderFailure(ctx, now)
			s.logger.Error("Entry execution failed", zap.String("mint", intent.Mint), zap.Error(err))
			s.record(ctx, events.TypeEntryFailed, map[string]any{
				"mint":  intent.Mint,
				"error": err.Error(),
			})
			continue
		}
		s.metrics.RecordEntry(string(outcome.Status))

		if err := s.guard.RegisterExecutionTelemetry(ctx, float64(plan.RoundTrip.LatencyMs), plan.EQS); err != nil {
			s.logger.Warn("Execution telemetry not recorded", zap.Error(err))
		}

		if !outcome.Filled() {
			if outcome.Status == types.ExecutionFailed {
				s.registerOrderFailure(ctx, now)
			}
			s.recordFailedEntry(ctx, plan, outcome, verification, decision, now)
			continue
		}

		position, err := s.positions.OpenFromEntry(ctx, plan, outcome, now)
		if err != nil {
			s.logger.Error("Position not opened after fill",
				zap.String("mint", intent.Mint),
				zap.String("txSig", outcome.TxSig),
				zap.Error(err),
			)
			continue
		}
		result.opened = append(result.opened, Entry{
			Mint:      position.Mint,
			Symbol:    position.Symbol,
			AmountSol: position.AmountSol,
			Mode:      position.Mode,
			EQS:       plan.EQS,
		})
	}
	return result
}

// recordFailedEntry keeps an audit trail of entries that did not fill.
func (s *TradingSystem) recordFailedEntry(
	ctx context.Context,
	plan *types.Plan,
	outcome types.ExecutionOutcome,
	verification types.VerificationResult,
	decision execution.RiskDecision,
	now time.Time,
) {
	trade := &types.Trade{
		Mint:       plan.Intent.Mint,
		Symbol:     plan.Intent.Candidate.Symbol,
		Side:       types.SideBuy,
		AmountSol:  plan.Allocation.AmountSol,
		Mode:       plan.Mode,
		Strategies: plan.Intent.StrategyIDs(),
		Status:     string(outcome.Status),
		Reason:     outcome.Reason,
		Metadata: map[string]interface{}{
			"confidence":     plan.Intent.AggregateConfidence,
			"priceImpactBps": plan.RoundTrip.PriceImpactBps,
			"instantLossBps": plan.RoundTrip.InstantLossBps,
			"eqs":            plan.EQS,
			"attempts":       outcome.Attempts,
			"error":          outcome.Error,
			"verification":   verification.Reasons,
			"risk":           decision.Reasons,
		},
		CreatedAt: now,
	}
	if err := s.store.RecordTrade(ctx, trade); err != nil {
		s.logger.Warn("Failed entry not recorded", zap.String("mint", trade.Mint), zap.Error(err))
	}

	s.record(ctx, events.TypeEntryFailed, map[string]any{
		"mint":   plan.Intent.Mint,
		"status": string(outcome.Status),
		"reason": outcome.Reason,
		"error":  outcome.Error,
		"eqs":    plan.EQS,
	})
}

func (s *TradingSystem) registerOrderFailure(ctx context.Context, now time.Time) {
	if err := s.guard.RegisterOrderFailure(ctx, now); err != nil {
		s.logger.Warn("Order failure not recorded", zap.Error(err))
	}
}

func (s *TradingSystem) record(ctx context.Context, eventType string, payload map[string]any) {
	if err := s.bus.Record(ctx, eventType, payload); err != nil {
		s.logger.Warn("Event not persisted", zap.String("type", eventType), zap.Error(err))
	}
}
