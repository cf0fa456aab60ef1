// Package adapters provides the Jupiter swap aggregator client.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LatencyObserver receives the measured latency of every quote request.
type LatencyObserver func(latency time.Duration)

// JupiterClient quotes and builds swaps against the Jupiter swap API.
type JupiterClient struct {
	logger     *zap.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	observe    LatencyObserver
}

// jupiterSwapRequest is the body of POST /swap/v1/swap.
type jupiterSwapRequest struct {
	QuoteResponse             json.RawMessage     `json:"quoteResponse"`
	UserPublicKey             string              `json:"userPublicKey"`
	WrapAndUnwrapSOL          bool                `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool                `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports prioritizationFee   `json:"prioritizationFeeLamports"`
	DynamicSlippage           dynamicSlippageSpec `json:"dynamicSlippage"`
}

type prioritizationFee struct {
	PriorityLevelWithMaxLamports priorityLevel `json:"priorityLevelWithMaxLamports"`
}

type priorityLevel struct {
	MaxLamports   int64  `json:"maxLamports"`
	PriorityLevel string `json:"priorityLevel"`
}

type dynamicSlippageSpec struct {
	MaxBps int `json:"maxBps"`
}

// NewJupiterClient creates a new Jupiter client. A zero min interval disables rate limiting.
func NewJupiterClient(logger *zap.Logger, network config.NetworkConfig, exec config.ExecutionConfig) *JupiterClient {
	limit := rate.Inf
	if exec.QuoteRateLimitMinIntervalMs > 0 {
		limit = rate.Every(time.Duration(exec.QuoteRateLimitMinIntervalMs) * time.Millisecond)
	}

	timeout := network.RequestTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &JupiterClient{
		logger:     logger.Named("jupiter"),
		baseURL:    strings.TrimRight(network.JupiterBaseURL, "/"),
		apiKey:     network.JupiterAPIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// OnLatency registers a callback for quote latency measurements.
func (c *JupiterClient) OnLatency(fn LatencyObserver) {
	c.observe = fn
}

// Quote requests an ExactIn quote.
func (c *JupiterClient) Quote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("quote rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", req.AmountRaw)
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("swapMode", "ExactIn")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/swap/v1/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	started := time.Now()
	body, err := c.do(httpReq)
	latency := time.Since(started)
	if c.observe != nil {
		c.observe(latency)
	}
	if err != nil {
		return nil, fmt.Errorf("quote failed: %w", err)
	}

	var quote types.Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	quote.Raw = json.RawMessage(body)
	quote.Meta.LatencyMs = latency.Milliseconds()

	c.logger.Debug("Got Jupiter quote",
		zap.String("inputMint", req.InputMint),
		zap.String("outputMint", req.OutputMint),
		zap.String("inAmount", quote.InAmount),
		zap.String("outAmount", quote.OutAmount),
		zap.String("priceImpact", quote.PriceImpactPct),
		zap.Duration("latency", latency),
	)
	return &quote, nil
}

// BuildSwap asks Jupiter to build an unsigned swap transaction for a quote.
func (c *JupiterClient) BuildSwap(ctx context.Context, req types.SwapRequest) (*types.SwapTransaction, error) {
	if req.Quote == nil {
		return nil, fmt.Errorf("swap build failed: missing quote")
	}

	quoteBody := req.Quote.Raw
	if len(quoteBody) == 0 {
		encoded, err := json.Marshal(req.Quote)
		if err != nil {
			return nil, err
		}
		quoteBody = encoded
	}

	payload, err := json.Marshal(jupiterSwapRequest{
		QuoteResponse:           quoteBody,
		UserPublicKey:           req.UserPublicKey,
		WrapAndUnwrapSOL:        true,
		DynamicComputeUnitLimit: true,
		PrioritizationFeeLamports: prioritizationFee{
			PriorityLevelWithMaxLamports: priorityLevel{
				MaxLamports:   req.PriorityFeeLamports,
				PriorityLevel: "high",
			},
		},
		DynamicSlippage: dynamicSlippageSpec{MaxBps: req.SlippageBps},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap/v1/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	body, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap build failed: %w", err)
	}

	var swap types.SwapTransaction
	if err := json.Unmarshal(body, &swap); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	if swap.SwapTransaction == "" {
		return nil, fmt.Errorf("swap build failed: empty transaction")
	}
	return &swap, nil
}

func (c *JupiterClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func (c *JupiterClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
