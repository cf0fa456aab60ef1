// Package execution quotes, scores, gates and settles swaps.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// ErrMissingOutAmount is returned when a round trip quote carries no output amount.
var ErrMissingOutAmount = errors.New("quote missing outAmount")

// Failure and rejection reasons reported in outcomes.
const (
	ReasonEQSBelowThreshold = "eqs_below_threshold"
	ReasonLiveEntryFailed   = "live_entry_execution_failed"
	ReasonLiveExitFailed    = "live_exit_execution_failed"
)

// Quoter is the quoting and swap-building collaborator.
type Quoter interface {
	Quote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error)
	BuildSwap(ctx context.Context, req types.SwapRequest) (*types.SwapTransaction, error)
}

// Signer signs serialized swap transactions.
type Signer interface {
	PublicKey() string
	SignTransaction(base64Tx string) (string, error)
}

// KeyLoader loads the signing key on demand.
type KeyLoader interface {
	LoadSigner() (Signer, error)
}

// Submitter sends a signed transaction and waits for confirmation.
type Submitter interface {
	SubmitAndConfirm(ctx context.Context, signedBase64Tx string) (string, error)
}

// SystemModes exposes the runtime trading switches.
type SystemModes interface {
	ShadowMode() bool
	LiveTradingEnabled() bool
}

// Intelligence owns quoting and on-chain submission for entries and exits.
type Intelligence struct {
	logger    *zap.Logger
	config    config.ExecutionConfig
	risk      config.RiskConfig
	guard     config.PerformanceGuardConfig
	watchlist config.WatchlistConfig

	quoter    Quoter
	submitter Submitter
	keys      KeyLoader
	modes     SystemModes
}

// NewIntelligence creates a new execution intelligence.
func NewIntelligence(logger *zap.Logger, cfg *config.Config, quoter Quoter, submitter Submitter, keys KeyLoader, modes SystemModes) *Intelligence {
	return &Intelligence{
		logger:    logger.Named("execution"),
		config:    cfg.Execution,
		risk:      cfg.Risk,
		guard:     cfg.PerformanceGuard,
		watchlist: cfg.Watchlist,
		quoter:    quoter,
		submitter: submitter,
		keys:      keys,
		modes:     modes,
	}
}

// QuoteRoundTrip quotes SOL -> mint and then mint -> SOL sized from the buy output.
func (ei *Intelligence) QuoteRoundTrip(ctx context.Context, mint string, amountSol float64) (*types.RoundTrip, error) {
	amountLamports := utils.SolToLamports(amountSol)

	buy, err := ei.quoter.Quote(ctx, types.QuoteRequest{
		InputMint:   types.SOLMint,
		OutputMint:  mint,
		AmountRaw:   strconv.FormatUint(amountLamports, 10),
		SlippageBps: ei.config.BaseSlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("buy quote %s: %w", mint, err)
	}
	if buy == nil || buy.OutAmount == "" || buy.OutAmount == "0" {
		return nil, ErrMissingOutAmount
	}

	sell, err := ei.quoter.Quote(ctx, types.QuoteRequest{
		InputMint:   mint,
		OutputMint:  types.SOLMint,
		AmountRaw:   buy.OutAmount,
		SlippageBps: ei.config.BaseSlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("sell quote %s: %w", mint, err)
	}
	if sell == nil {
		return nil, fmt.Errorf("sell quote %s: %w", mint, ErrMissingOutAmount)
	}
	sellOut, ok := utils.ParseRawAmount(sell.OutAmount)
	if !ok {
		return nil, fmt.Errorf("sell quote %s: %w", mint, ErrMissingOutAmount)
	}
	hops := len(buy.RoutePlan)
	if hops == 0 {
		hops = 1
	}

	return &types.RoundTrip{
		BuyQuote:        *buy,
		SellQuote:       *sell,
		AmountLamports:  amountLamports,
		BuyOutRaw:       buy.OutAmount,
		SellOutLamports: sellOut,
		PriceImpactBps:  ParsePriceImpactBps(buy.PriceImpactPct),
		InstantLossBps:  InstantLossBps(amountSol, utils.LamportsToSol(sellOut)),
		RouteHops:       hops,
		LatencyMs:       buy.Meta.LatencyMs,
	}, nil
}

// ScoreEntryQuality applies the execution quality score to a round trip.
func (ei *Intelligence) ScoreEntryQuality(intent types.Intent, rt *types.RoundTrip) float64 {
	spread := intent.Candidate.SpreadBps
	if !(spread > 0) {
		spread = ei.watchlist.MaxSpreadBps
	}
	liquidity := intent.Candidate.LiquidityUSD
	if !utils.IsFinite(liquidity) {
		liquidity = 0
	}

	return ScoreExecutionQuality(QualityInput{
		PriceImpactBps:       rt.PriceImpactBps,
		MaxPriceImpactBps:    ei.risk.MaxPriceImpactBps,
		LatencyMs:            float64(rt.LatencyMs),
		MaxLatencyMs:         ei.guard.MaxMedianLatencyMs,
		RouteHops:            rt.RouteHops,
		LiquidityUSD:         liquidity,
		MinRouteLiquidityUSD: ei.config.MinRouteLiquidityUSD,
		SpreadBps:            spread,
		MaxSpreadBps:         ei.watchlist.MaxSpreadBps,
	})
}

// PlanEntry quotes and scores an allocation for an intent.
func (ei *Intelligence) PlanEntry(ctx context.Context, intent types.Intent, allocation types.Allocation) (*types.Plan, error) {
	rt, err := ei.QuoteRoundTrip(ctx, intent.Mint, allocation.AmountSol)
	if err != nil {
		return nil, err
	}

	mode := types.ModeLive
	if intent.AllShadow || ei.modes.ShadowMode() {
		mode = types.ModeShadow
	}

	return &types.Plan{
		Intent:     intent,
		Allocation: allocation,
		RoundTrip:  *rt,
		EQS:        ei.ScoreEntryQuality(intent, rt),
		Mode:       mode,
	}, nil
}

// ExecuteEntry settles a plan. Shadow plans fill from the quoted output without
// touching the network. Live plans retry with escalating slippage and fees.
// An error is returned only when the signing key cannot be loaded.
func (ei *Intelligence) ExecuteEntry(ctx context.Context, plan *types.Plan) (types.ExecutionOutcome, error) {
	if plan.EQS < ei.config.MinExecutionQualityScore {
		return types.ExecutionOutcome{
			Status: types.ExecutionRejected,
			Reason: ReasonEQSBelowThreshold,
		}, nil
	}

	if plan.Mode == types.ModeShadow || !ei.modes.LiveTradingEnabled() {
		return types.ExecutionOutcome{
			Status:       types.ExecutionShadowFilled,
			OutAmountRaw: plan.RoundTrip.BuyOutRaw,
			LatencyMs:    plan.RoundTrip.LatencyMs,
		}, nil
	}

	return ei.executeLive(ctx, swapLeg{
		inputMint:  types.SOLMint,
		outputMint: plan.Intent.Mint,
		amountRaw:  strconv.FormatUint(plan.RoundTrip.AmountLamports, 10),
		failReason: ReasonLiveEntryFailed,
		side:       "entry",
	})
}

// PlanExit quotes selling the whole position back to SOL.
func (ei *Intelligence) PlanExit(ctx context.Context, position types.Position) (*types.ExitPlan, error) {
	quote, err := ei.quoter.Quote(ctx, types.QuoteRequest{
		InputMint:   position.Mint,
		OutputMint:  types.SOLMint,
		AmountRaw:   position.QtyRaw,
		SlippageBps: ei.config.BaseSlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("exit quote %s: %w", position.Mint, err)
	}

	mode := types.ModeShadow
	if position.Mode == types.ModeLive && ei.modes.LiveTradingEnabled() {
		mode = types.ModeLive
	}

	return &types.ExitPlan{
		Position:       position,
		Quote:          *quote,
		ExpectedOutSol: utils.RawLamportsToSol(quote.OutAmount),
		PriceImpactBps: ParsePriceImpactBps(quote.PriceImpactPct),
		Mode:           mode,
	}, nil
}

// ExecuteExit settles an exit plan the same way ExecuteEntry settles entries.
func (ei *Intelligence) ExecuteExit(ctx context.Context, plan *types.ExitPlan) (types.ExecutionOutcome, error) {
	if plan.Mode == types.ModeShadow || !ei.modes.LiveTradingEnabled() {
		return types.ExecutionOutcome{
			Status:       types.ExecutionShadowFilled,
			OutAmountRaw: plan.Quote.OutAmount,
			LatencyMs:    plan.Quote.Meta.LatencyMs,
		}, nil
	}

	return ei.executeLive(ctx, swapLeg{
		inputMint:  plan.Position.Mint,
		outputMint: types.SOLMint,
		amountRaw:  plan.Position.QtyRaw,
		failReason: ReasonLiveExitFailed,
		side:       "exit",
	})
}

type swapLeg struct {
	inputMint  string
	outputMint string
	amountRaw  string
	failReason string
	side       string
}

// executeLive runs attempts 0..MaxRetries inclusive, sleeping base*2^attempt between them.
func (ei *Intelligence) executeLive(ctx context.Context, leg swapLeg) (types.ExecutionOutcome, error) {
	signer, err := ei.keys.LoadSigner()
	if err != nil {
		return types.ExecutionOutcome{}, fmt.Errorf("load signing key: %w", err)
	}

	maxRetries := ei.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		slippage := int(EscalatedValue(float64(ei.config.BaseSlippageBps), float64(ei.config.SlippageStepBps), float64(ei.config.MaxSlippageBps), attempt))
		fee := int64(EscalatedValue(float64(ei.config.PriorityFeeLamportsBase), float64(ei.config.PriorityFeeLamportsStep), float64(ei.config.PriorityFeeLamportsMax), attempt))

		started := time.Now()
		outcome, err := ei.attempt(ctx, leg, signer, slippage, fee)
		if err == nil {
			outcome.Attempts = attempt + 1
			outcome.LatencyMs = time.Since(started).Milliseconds()
			ei.logger.Info("Live swap confirmed",
				zap.String("side", leg.side),
				zap.String("mint", mintOf(leg)),
				zap.String("signature", outcome.TxSig),
				zap.Int("attempt", attempt),
				zap.Int("slippageBps", slippage),
				zap.Int64("priorityFeeLamports", fee),
			)
			return outcome, nil
		}
		lastErr = err

		retryable := attempt < maxRetries
		ei.logger.Warn("Swap attempt failed",
			zap.String("side", leg.side),
			zap.String("mint", mintOf(leg)),
			zap.Int("attempt", attempt),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if !retryable {
			break
		}

		backoff := time.Duration(float64(ei.config.RetryBackoffMs)*math.Pow(2, float64(attempt))) * time.Millisecond
		if err := sleepContext(ctx, backoff); err != nil {
			lastErr = err
			break
		}
	}

	return types.ExecutionOutcome{
		Status:   types.ExecutionFailed,
		Reason:   leg.failReason,
		Error:    errString(lastErr),
		Attempts: attempts,
	}, nil
}

func (ei *Intelligence) attempt(ctx context.Context, leg swapLeg, signer Signer, slippage int, fee int64) (types.ExecutionOutcome, error) {
	quote, err := ei.quoter.Quote(ctx, types.QuoteRequest{
		InputMint:   leg.inputMint,
		OutputMint:  leg.outputMint,
		AmountRaw:   leg.amountRaw,
		SlippageBps: slippage,
	})
	if err != nil {
		return types.ExecutionOutcome{}, fmt.Errorf("refresh quote: %w", err)
	}

	swap, err := ei.quoter.BuildSwap(ctx, types.SwapRequest{
		Quote:               quote,
		UserPublicKey:       signer.PublicKey(),
		SlippageBps:         slippage,
		PriorityFeeLamports: fee,
	})
	if err != nil {
		return types.ExecutionOutcome{}, fmt.Errorf("build swap: %w", err)
	}

	signed, err := signer.SignTransaction(swap.SwapTransaction)
	if err != nil {
		return types.ExecutionOutcome{}, fmt.Errorf("sign swap: %w", err)
	}

	sig, err := ei.submitter.SubmitAndConfirm(ctx, signed)
	if err != nil {
		return types.ExecutionOutcome{}, fmt.Errorf("submit swap: %w", err)
	}

	return types.ExecutionOutcome{
		Status:              types.ExecutionLiveFilled,
		TxSig:               sig,
		OutAmountRaw:        quote.OutAmount,
		SlippageBps:         slippage,
		PriorityFeeLamports: fee,
	}, nil
}

func mintOf(leg swapLeg) string {
	if leg.inputMint == types.SOLMint {
		return leg.outputMint
	}
	return leg.inputMint
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
