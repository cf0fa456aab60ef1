// Package data discovers candidate tokens, enriches them with market data and
// screens them through the anti-scam gate.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MarketSnapshot is the best Solana pair found for a mint.
type MarketSnapshot struct {
	Mint            string  `json:"mint"`
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	DexID           string  `json:"dexId"`
	PairAddress     string  `json:"pairAddress"`
	PriceUSD        float64 `json:"priceUsd"`
	LiquidityUSD    float64 `json:"liquidityUsd"`
	Volume24hUSD    float64 `json:"volume24hUsd"`
	BuyTx24h        int     `json:"buyTx24h"`
	SellTx24h       int     `json:"sellTx24h"`
	FdvUSD          float64 `json:"fdvUsd"`
	PairCreatedAtMs int64   `json:"pairCreatedAtMs"`
	PriceChangeM5   float64 `json:"priceChangeM5"`
	PriceChangeH1   float64 `json:"priceChangeH1"`
	PriceChangeH6   float64 `json:"priceChangeH6"`
	PriceChangeH24  float64 `json:"priceChangeH24"`
}

// dexPair mirrors the subset of a DexScreener pair we read. Numeric fields
// arrive as numbers or strings depending on the field.
type dexPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD flexFloat `json:"priceUsd"`
	Txns     struct {
		H24 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
	Volume struct {
		H24 flexFloat `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		M5  flexFloat `json:"m5"`
		H1  flexFloat `json:"h1"`
		H6  flexFloat `json:"h6"`
		H24 flexFloat `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD flexFloat `json:"usd"`
	} `json:"liquidity"`
	Fdv           flexFloat `json:"fdv"`
	PairCreatedAt int64     `json:"pairCreatedAt"`
}

type dexTokensResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// flexFloat decodes a JSON number or numeric string. Anything else is zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// MarketDataClient looks up token pairs on DexScreener.
type MarketDataClient struct {
	logger     *zap.Logger
	baseURL    string
	enabled    bool
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewMarketDataClient creates a new market data client.
func NewMarketDataClient(logger *zap.Logger, watchlist config.WatchlistConfig, network config.NetworkConfig) *MarketDataClient {
	timeout := network.RequestTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MarketDataClient{
		logger:     logger.Named("market-data"),
		baseURL:    strings.TrimRight(watchlist.DexScreenerBaseURL, "/"),
		enabled:    watchlist.EnableDexScreener,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: 2 * timeout,
	}
}

// TokenSnapshot returns the deepest Solana pair for mint, or nil when lookups
// are disabled, the token has no Solana pair, or the request keeps failing.
func (c *MarketDataClient) TokenSnapshot(ctx context.Context, mint string) (*MarketSnapshot, error) {
	if !c.enabled {
		return nil, nil
	}

	var payload dexTokensResponse
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, mint)
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("dexscreener %s: %w", mint, err)
	}

	pair := bestSolanaPair(payload.Pairs)
	if pair == nil {
		return nil, nil
	}
	return normalizePair(mint, *pair), nil
}

// getJSON GETs url with exponential backoff. 4xx responses other than 429 are permanent.
func (c *MarketDataClient) getJSON(ctx context.Context, url string, dest interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &HTTPStatusError{StatusCode: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, dest); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 200 * time.Millisecond
	strategy.MaxElapsedTime = c.maxElapsed

	return backoff.RetryNotify(operation, backoff.WithContext(strategy, ctx), func(err error, wait time.Duration) {
		c.logger.Debug("Market data request retrying", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
	})
}

func bestSolanaPair(pairs []dexPair) *dexPair {
	var solana []dexPair
	for _, p := range pairs {
		if p.ChainID == "solana" {
			solana = append(solana, p)
		}
	}
	if len(solana) == 0 {
		return nil
	}
	sort.SliceStable(solana, func(i, j int) bool {
		return solana[i].Liquidity.USD > solana[j].Liquidity.USD
	})
	return &solana[0]
}

func normalizePair(mint string, p dexPair) *MarketSnapshot {
	symbol := p.BaseToken.Symbol
	if symbol == "" {
		symbol = "UNKNOWN"
	}
	dexID := p.DexID
	if dexID == "" {
		dexID = "unknown"
	}
	return &MarketSnapshot{
		Mint:            mint,
		Symbol:          symbol,
		Name:            p.BaseToken.Name,
		DexID:           dexID,
		PairAddress:     p.PairAddress,
		PriceUSD:        float64(p.PriceUSD),
		LiquidityUSD:    float64(p.Liquidity.USD),
		Volume24hUSD:    float64(p.Volume.H24),
		BuyTx24h:        p.Txns.H24.Buys,
		SellTx24h:       p.Txns.H24.Sells,
		FdvUSD:          float64(p.Fdv),
		PairCreatedAtMs: p.PairCreatedAt,
		PriceChangeM5:   float64(p.PriceChange.M5) / 100,
		PriceChangeH1:   float64(p.PriceChange.H1) / 100,
		PriceChangeH6:   float64(p.PriceChange.H6) / 100,
		PriceChangeH24:  float64(p.PriceChange.H24) / 100,
	}
}

// manualList is the on-disk watchlist. Entries are plain mints or {mint: ...} maps.
type manualList struct {
	Tokens []manualEntry `yaml:"tokens"`
}

type manualEntry struct {
	Mint string `yaml:"mint"`
}

func (e *manualEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Mint = node.Value
		return nil
	}
	type plain manualEntry
	return node.Decode((*plain)(e))
}

// ReadManualWatchlist reads mints from a YAML (or JSON) file. A missing file is
// created empty. The file may be a bare list or a {tokens: [...]} document.
func ReadManualWatchlist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create watchlist dir: %w", err)
		}
		if err := os.WriteFile(path, []byte("tokens: []\n"), 0o644); err != nil {
			return nil, fmt.Errorf("create watchlist file: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}

	var list manualList
	if err := yaml.Unmarshal(raw, &list); err != nil {
		var bare []manualEntry
		if err2 := yaml.Unmarshal(raw, &bare); err2 != nil {
			return nil, fmt.Errorf("parse watchlist: %w", err)
		}
		list.Tokens = bare
	}

	mints := make([]string, 0, len(list.Tokens))
	for _, t := range list.Tokens {
		if m := strings.TrimSpace(t.Mint); m != "" {
			mints = append(mints, m)
		}
	}
	return mints, nil
}
