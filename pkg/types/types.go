// Package types provides shared type definitions for the trading controller.
package types

import (
	"time"
)

// SOLMint is the wrapped SOL mint used as the quote asset for every swap.
const SOLMint = "So11111111111111111111111111111111111111112"

// LamportsPerSol is the number of lamports in one SOL.
const LamportsPerSol = 1_000_000_000

// RegimeName identifies a market regime classification.
type RegimeName string

const (
	RegimeNeutral       RegimeName = "NEUTRAL"
	RegimeLowLiquidity  RegimeName = "LOW_LIQUIDITY"
	RegimeTrending      RegimeName = "TRENDING"
	RegimeRanging       RegimeName = "RANGING"
	RegimeVolatileTrend RegimeName = "VOLATILE_TREND"
	RegimeVolatileChop  RegimeName = "VOLATILE_CHOP"
)

// SignalAction is the action proposed by a strategy.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionHold SignalAction = "HOLD"
)

// TradeMode says whether an action settles on chain.
type TradeMode string

const (
	ModeShadow TradeMode = "shadow"
	ModeLive   TradeMode = "live"
)

// GovernanceMode is the trust level of a strategy.
type GovernanceMode string

const (
	GovernanceDisabled GovernanceMode = "disabled"
	GovernanceShadow   GovernanceMode = "shadow"
	GovernanceLive     GovernanceMode = "live"
)

// PriceChange holds fractional price moves over several horizons.
type PriceChange struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// GateResult is the anti-scam gate verdict for a candidate.
type GateResult struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons"`
	Score   float64  `json:"score"`
}

// Candidate is an immutable per-cycle snapshot of one instrument.
type Candidate struct {
	Mint         string      `json:"mint"`
	Symbol       string      `json:"symbol"`
	Name         string      `json:"name"`
	PairAddress  string      `json:"pairAddress"`
	DexID        string      `json:"dexId"`
	PriceUSD     float64     `json:"priceUsd"`
	LiquidityUSD float64     `json:"liquidityUsd"`
	Volume24hUSD float64     `json:"volume24hUsd"`
	BuyTx24h     int         `json:"buyTx24h"`
	SellTx24h    int         `json:"sellTx24h"`
	SpreadBps    float64     `json:"spreadBps"`
	PriceChange  PriceChange `json:"priceChange"`
	AgeMinutes   float64     `json:"ageMinutes"`
	Source       string      `json:"source"`
	Gate         GateResult  `json:"gate"`
}

// Regime is the market classification for one cycle.
type Regime struct {
	Name               RegimeName `json:"regime"`
	Confidence         float64    `json:"confidence"`
	Trend              float64    `json:"trend"`
	Volatility         float64    `json:"volatility"`
	SampleSize         int        `json:"sampleSize"`
	MedianLiquidityUSD float64    `json:"medianLiquidityUsd"`
	Timestamp          time.Time  `json:"timestamp"`
}

// Signal is one strategy's opinion on one candidate.
type Signal struct {
	StrategyID     string                 `json:"strategyId"`
	Action         SignalAction           `json:"action"`
	Confidence     float64                `json:"confidence"`
	Shadow         bool                   `json:"shadow"`
	Reason         string                 `json:"reason"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	EnabledForLive bool                   `json:"enabledForLive"`
	GovernanceMode GovernanceMode         `json:"governanceMode"`
}

// Intent aggregates the BUY signals for one candidate.
type Intent struct {
	Mint                string    `json:"mint"`
	Candidate           Candidate `json:"candidate"`
	Regime              Regime    `json:"regime"`
	Signals             []Signal  `json:"signals"`
	AggregateConfidence float64   `json:"aggregateConfidence"`
	ConsensusCount      int       `json:"consensusCount"`
	LiveSignalCount     int       `json:"liveSignalCount"`
	AllShadow           bool      `json:"allShadow"`
	Score               float64   `json:"score"`
}

// StrategyIDs returns the distinct strategy ids contributing to the intent in order.
func (i Intent) StrategyIDs() []string {
	seen := make(map[string]bool, len(i.Signals))
	ids := make([]string, 0, len(i.Signals))
	for _, s := range i.Signals {
		if seen[s.StrategyID] {
			continue
		}
		seen[s.StrategyID] = true
		ids = append(ids, s.StrategyID)
	}
	return ids
}

// StrategyState is the governance record of one strategy.
type StrategyState struct {
	Mode          GovernanceMode `json:"mode"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	ShadowSinceMs int64          `json:"shadowSinceMs"`
}

// VerificationResult is the verdict of the pre-sizing gate.
type VerificationResult struct {
	Approved       bool      `json:"approved"`
	Reasons        []string  `json:"reasons"`
	Confidence     float64   `json:"confidence"`
	ConsensusCount int       `json:"consensusCount"`
	TradeMode      TradeMode `json:"tradeMode"`
}

// AllocationCaps are the bounds an allocation was clamped to.
type AllocationCaps struct {
	PerTradeSol    float64 `json:"perTradeSol"`
	PerStrategySol float64 `json:"perStrategySol"`
	RiskMaxSol     float64 `json:"riskMaxSol"`
	AvailableSol   float64 `json:"availableSol"`
}

// Allocation is the sizing decision for an intent.
type Allocation struct {
	AmountSol        float64        `json:"amountSol"`
	ReserveSol       float64        `json:"reserveSol"`
	DeployableSol    float64        `json:"deployableSol"`
	AvailableSol     float64        `json:"availableSol"`
	WeightedStrength float64        `json:"weightedStrength"`
	ConfidenceFactor float64        `json:"confidenceFactor"`
	RawAmountSol     float64        `json:"rawAmountSol"`
	Caps             AllocationCaps `json:"caps"`
	LimitingFactor   string         `json:"limitingFactor"`
}

// PortfolioState is the capital view used for sizing and risk checks.
type PortfolioState struct {
	OpenPositions int     `json:"openPositions"`
	ExposureSol   float64 `json:"exposureSol"`
	EquitySol     float64 `json:"equitySol"`
	TotalPnlSol   float64 `json:"totalPnlSol"`
	DailyPnlSol   float64 `json:"dailyPnlSol"`
}
