package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"go.uber.org/zap"
)

// CooldownStateKey is the state key holding per-mint cooldowns.
const CooldownStateKey = "tokenCooldowns"

// CooldownReasonLoss is set when a position closes at a loss.
const CooldownReasonLoss = "loss_realized"

// Risk rules in evaluation order.
const (
	RuleEmergencyStop     = "emergency_stop_active"
	RulePaused            = "bot_paused"
	RuleMaxOpenPositions  = "max_open_positions_reached"
	RuleAllocationZero    = "allocation_zero"
	RuleTradeSize         = "trade_size_exceeds_max"
	RuleExposure          = "exposure_limit_exceeded"
	RuleDailyLoss         = "daily_loss_limit_breached"
	RuleDrawdown          = "drawdown_limit_breached"
	RuleConsecutiveLosses = "consecutive_losses_limit_breached"
	RuleTokenCooldown     = "token_cooldown_active"
	RulePriceImpact       = "price_impact_too_high"
	RuleInstantLoss       = "instant_loss_too_high"
)

// RiskViolation represents a risk rule violation.
type RiskViolation struct {
	Rule    string  `json:"rule"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

// RiskDecision is the verdict of a pre-trade risk check.
type RiskDecision struct {
	Allowed    bool            `json:"allowed"`
	Reasons    []string        `json:"reasons"`
	Violations []RiskViolation `json:"violations"`
}

// Controls are the operator switches relevant to risk.
type Controls struct {
	EmergencyStop bool
	PauseUntil    time.Time
}

// PerformanceView is the slice of guard state the risk check reads.
type PerformanceView struct {
	DailyPnlSol       float64
	DrawdownPct       float64
	ConsecutiveLosses int
}

// RiskInput is everything a risk check reads.
type RiskInput struct {
	Now            time.Time
	Controls       Controls
	Mint           string
	AmountSol      float64
	Portfolio      types.PortfolioState
	Performance    PerformanceView
	PriceImpactBps float64
	InstantLossBps float64
}

// Cooldown blocks new entries on a mint until UntilMs.
type Cooldown struct {
	Reason    string `json:"reason"`
	UntilMs   int64  `json:"untilMs"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Active reports whether the cooldown still applies at now.
func (c Cooldown) Active(now time.Time) bool {
	return now.UnixMilli() < c.UntilMs
}

// RiskGovernor checks hard limits before a trade and owns per-mint cooldowns.
type RiskGovernor struct {
	logger *zap.Logger
	config config.RiskConfig
	store  storage.StateStore

	mu        sync.RWMutex
	cooldowns map[string]Cooldown
}

// NewRiskGovernor creates a new risk governor.
func NewRiskGovernor(logger *zap.Logger, cfg config.RiskConfig, store storage.StateStore) *RiskGovernor {
	return &RiskGovernor{
		logger:    logger.Named("risk-governor"),
		config:    cfg,
		store:     store,
		cooldowns: make(map[string]Cooldown),
	}
}

// Load restores persisted cooldowns.
func (rg *RiskGovernor) Load(ctx context.Context) error {
	cooldowns := make(map[string]Cooldown)
	if _, err := rg.store.GetState(ctx, CooldownStateKey, &cooldowns); err != nil {
		return fmt.Errorf("load cooldowns: %w", err)
	}
	if cooldowns == nil {
		cooldowns = make(map[string]Cooldown)
	}

	rg.mu.Lock()
	rg.cooldowns = cooldowns
	rg.mu.Unlock()
	return nil
}

// Evaluate checks every rule and accumulates all violations.
func (rg *RiskGovernor) Evaluate(in RiskInput) RiskDecision {
	var violations []RiskViolation
	add := func(rule string, value, limit float64, msg string) {
		violations = append(violations, RiskViolation{Rule: rule, Value: value, Limit: limit, Message: msg})
	}

	if in.Controls.EmergencyStop {
		add(RuleEmergencyStop, 1, 0, "Emergency stop is active")
	}
	if !in.Controls.PauseUntil.IsZero() && in.Now.Before(in.Controls.PauseUntil) {
		add(RulePaused, float64(in.Controls.PauseUntil.UnixMilli()), float64(in.Now.UnixMilli()), "Trading paused")
	}
	if in.Portfolio.OpenPositions >= rg.config.MaxOpenPositions {
		add(RuleMaxOpenPositions, float64(in.Portfolio.OpenPositions), float64(rg.config.MaxOpenPositions), "Open position limit reached")
	}
	if !(in.AmountSol > 0) {
		add(RuleAllocationZero, in.AmountSol, 0, "Allocation is not positive")
	}
	if in.AmountSol > rg.config.MaxTradeSol {
		add(RuleTradeSize, in.AmountSol, rg.config.MaxTradeSol, "Trade size exceeds maximum")
	}
	exposureLimit := in.Portfolio.EquitySol * rg.config.MaxExposurePct
	if in.Portfolio.ExposureSol+in.AmountSol > exposureLimit {
		add(RuleExposure, in.Portfolio.ExposureSol+in.AmountSol, exposureLimit, "Exposure limit exceeded")
	}
	dailyFloor := -math.Abs(rg.config.MaxDailyLossSol)
	if in.Performance.DailyPnlSol <= dailyFloor {
		add(RuleDailyLoss, in.Performance.DailyPnlSol, dailyFloor, "Daily loss limit breached")
	}
	if in.Performance.DrawdownPct >= rg.config.MaxDrawdownPct {
		add(RuleDrawdown, in.Performance.DrawdownPct, rg.config.MaxDrawdownPct, "Drawdown limit breached")
	}
	if in.Performance.ConsecutiveLosses >= rg.config.MaxConsecutiveLosses {
		add(RuleConsecutiveLosses, float64(in.Performance.ConsecutiveLosses), float64(rg.config.MaxConsecutiveLosses), "Consecutive loss limit breached")
	}
	if cd, ok := rg.cooldown(in.Mint); ok && cd.Active(in.Now) {
		add(RuleTokenCooldown, float64(cd.UntilMs), float64(in.Now.UnixMilli()), "Token cooldown active: "+cd.Reason)
	}
	if in.PriceImpactBps > rg.config.MaxPriceImpactBps {
		add(RulePriceImpact, in.PriceImpactBps, rg.config.MaxPriceImpactBps, "Price impact too high")
	}
	if in.InstantLossBps > rg.config.MaxInstantLossBps {
		add(RuleInstantLoss, in.InstantLossBps, rg.config.MaxInstantLossBps, "Instant round-trip loss too high")
	}

	decision := RiskDecision{Allowed: len(violations) == 0, Reasons: make([]string, 0, len(violations)), Violations: violations}
	for _, v := range violations {
		decision.Reasons = append(decision.Reasons, v.Rule)
	}

	if !decision.Allowed {
		rg.logger.Warn("Risk violations detected",
			zap.String("mint", in.Mint),
			zap.Strings("reasons", decision.Reasons),
		)
	}
	return decision
}

// OnTradeClosed starts a loss cooldown when the realized PnL is negative.
func (rg *RiskGovernor) OnTradeClosed(ctx context.Context, mint string, pnlSol float64, now time.Time) error {
	if !(pnlSol < 0) {
		return nil
	}
	return rg.SetCooldown(ctx, mint, CooldownReasonLoss, time.Duration(rg.config.TokenCooldownMinutes)*time.Minute, now)
}

// SetCooldown blocks mint for duration and persists the cooldown map.
func (rg *RiskGovernor) SetCooldown(ctx context.Context, mint, reason string, duration time.Duration, now time.Time) error {
	rg.mu.Lock()
	rg.cooldowns[mint] = Cooldown{
		Reason:    reason,
		UntilMs:   now.Add(duration).UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
	snapshot := make(map[string]Cooldown, len(rg.cooldowns))
	for k, v := range rg.cooldowns {
		snapshot[k] = v
	}
	rg.mu.Unlock()

	rg.logger.Info("Token cooldown set",
		zap.String("mint", mint),
		zap.String("reason", reason),
		zap.Duration("duration", duration),
	)

	if err := rg.store.SetState(ctx, CooldownStateKey, snapshot); err != nil {
		return fmt.Errorf("persist cooldowns: %w", err)
	}
	return nil
}

// ActiveCooldowns returns the cooldowns still in force at now.
func (rg *RiskGovernor) ActiveCooldowns(now time.Time) map[string]Cooldown {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	active := make(map[string]Cooldown)
	for mint, cd := range rg.cooldowns {
		if cd.Active(now) {
			active[mint] = cd
		}
	}
	return active
}

func (rg *RiskGovernor) cooldown(mint string) (Cooldown, bool) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	cd, ok := rg.cooldowns[mint]
	return cd, ok
}
