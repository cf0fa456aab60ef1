package types

import (
	"encoding/json"
)

// Quote is a swap quote returned by the aggregator.
type Quote struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RouteStep `json:"routePlan"`
	ContextSlot          int64       `json:"contextSlot"`
	TimeTaken            float64     `json:"timeTaken"`
	Meta                 QuoteMeta   `json:"-"`

	// Raw is the untouched response body, echoed back when building a swap.
	Raw json.RawMessage `json:"-"`
}

// RouteStep is one hop of a quoted route.
type RouteStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

// SwapInfo describes the AMM used by a route step.
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// QuoteMeta carries client-side measurements of a quote request.
type QuoteMeta struct {
	LatencyMs int64 `json:"latencyMs"`
}

// RoundTrip is a simulated buy followed by an immediate sell.
type RoundTrip struct {
	BuyQuote        Quote   `json:"buyQuote"`
	SellQuote       Quote   `json:"sellQuote"`
	AmountLamports  uint64  `json:"amountLamports"`
	BuyOutRaw       string  `json:"buyOutRaw"`
	SellOutLamports uint64  `json:"sellOutLamports"`
	PriceImpactBps  float64 `json:"priceImpactBps"`
	InstantLossBps  float64 `json:"instantLossBps"`
	RouteHops       int     `json:"routeHops"`
	LatencyMs       int64   `json:"latencyMs"`
}

// Plan is everything needed to execute one entry.
type Plan struct {
	Intent     Intent     `json:"intent"`
	Allocation Allocation `json:"allocation"`
	RoundTrip  RoundTrip  `json:"roundTrip"`
	EQS        float64    `json:"eqs"`
	Mode       TradeMode  `json:"mode"`
}

// ExitPlan is everything needed to close one position.
type ExitPlan struct {
	Position       Position  `json:"position"`
	Quote          Quote     `json:"quote"`
	ExpectedOutSol float64   `json:"expectedOutSol"`
	PriceImpactBps float64   `json:"priceImpactBps"`
	Mode           TradeMode `json:"mode"`
}

// ExecutionStatus tags the result of an execution attempt.
type ExecutionStatus string

const (
	ExecutionShadowFilled ExecutionStatus = "shadow_filled"
	ExecutionLiveFilled   ExecutionStatus = "live_filled"
	ExecutionRejected     ExecutionStatus = "rejected"
	ExecutionFailed       ExecutionStatus = "failed"
)

// ExecutionOutcome is the tagged result of an entry or exit.
type ExecutionOutcome struct {
	Status              ExecutionStatus `json:"status"`
	Reason              string          `json:"reason,omitempty"`
	Error               string          `json:"error,omitempty"`
	TxSig               string          `json:"txSig,omitempty"`
	Attempts            int             `json:"attempts"`
	OutAmountRaw        string          `json:"outAmountRaw,omitempty"`
	SlippageBps         int             `json:"slippageBps,omitempty"`
	PriorityFeeLamports int64           `json:"priorityFeeLamports,omitempty"`
	LatencyMs           int64           `json:"latencyMs,omitempty"`
}

// Filled reports whether the outcome produced a fill.
func (o ExecutionOutcome) Filled() bool {
	return o.Status == ExecutionShadowFilled || o.Status == ExecutionLiveFilled
}

// QuoteRequest asks the aggregator for an ExactIn swap quote.
type QuoteRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	AmountRaw   string `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
}

// SwapRequest asks the aggregator to build a swap transaction for a quote.
type SwapRequest struct {
	Quote               *Quote `json:"quoteResponse"`
	UserPublicKey       string `json:"userPublicKey"`
	SlippageBps         int    `json:"slippageBps"`
	PriorityFeeLamports int64  `json:"priorityFeeLamports"`
}

// SwapTransaction is an unsigned, base64 encoded swap transaction.
type SwapTransaction struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      int64  `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports int64  `json:"prioritizationFeeLamports,omitempty"`
}
