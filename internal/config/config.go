// Package config loads and validates the controller configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the configuration cannot be used to start.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full controller configuration.
type Config struct {
	System           SystemConfig           `json:"system"`
	Network          NetworkConfig          `json:"network"`
	Wallet           WalletConfig           `json:"wallet"`
	Storage          StorageConfig          `json:"storage"`
	Watchlist        WatchlistConfig        `json:"watchlist"`
	MRD              RegimeConfig           `json:"mrd"`
	Strategies       StrategiesConfig       `json:"strategies"`
	Portfolio        PortfolioConfig        `json:"portfolio"`
	Allocation       AllocationConfig       `json:"allocation"`
	Execution        ExecutionConfig        `json:"execution"`
	Risk             RiskConfig             `json:"risk"`
	PerformanceGuard PerformanceGuardConfig `json:"performanceGuard"`
	Governance       GovernanceConfig       `json:"governance"`
	API              APIConfig              `json:"api"`
}

// SystemConfig holds process-wide switches.
type SystemConfig struct {
	Name                      string `json:"name"`
	ShadowMode                bool   `json:"shadowMode"`
	LiveTradingEnabled        bool   `json:"liveTradingEnabled"`
	LoopIntervalMs            int    `json:"loopIntervalMs"`
	StatusBroadcastIntervalMs int    `json:"statusBroadcastIntervalMs"`
}

// LoopInterval returns the configured tick interval.
func (c SystemConfig) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalMs) * time.Millisecond
}

// NetworkConfig holds RPC and aggregator endpoints.
type NetworkConfig struct {
	RPCEndpoints             []string `json:"rpcEndpoints"`
	JupiterBaseURL           string   `json:"jupiterBaseUrl"`
	JupiterAPIKey            string   `json:"jupiterApiKey"`
	RequestTimeoutMs         int      `json:"requestTimeoutMs"`
	FailoverFailureThreshold int      `json:"failoverFailureThreshold"`
	FailoverCooldownMs       int      `json:"failoverCooldownMs"`
	ConfirmCommitment        string   `json:"confirmCommitment"`
	ConfirmTimeoutMs         int      `json:"confirmTimeoutMs"`
}

// RequestTimeout returns the per-request deadline.
func (c NetworkConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// WalletConfig locates the signing key.
type WalletConfig struct {
	KeyPath           string `json:"keyPath"`
	SecretKeyEnv      string `json:"secretKeyEnv"`
	ExpectedPublicKey string `json:"expectedPublicKey"`
	AllowDevKey       bool   `json:"allowDevKey"`
}

// StorageConfig selects the durable store backend.
type StorageConfig struct {
	Driver      string `json:"driver"` // "sqlite", "postgres", "memory"
	DBPath      string `json:"dbPath"`
	DatabaseURL string `json:"databaseUrl"`
	HealthFile  string `json:"healthFile"`
}

// WatchlistConfig drives candidate discovery and the anti-scam gate.
type WatchlistConfig struct {
	EnableDexScreener  bool     `json:"enableDexScreener"`
	DexScreenerBaseURL string   `json:"dexScreenerBaseUrl"`
	ManualFile         string   `json:"manualFile"`
	Mints              []string `json:"mints"`
	ScanLimit          int      `json:"scanLimit"`
	MinLiquidityUSD    float64  `json:"minLiquidityUsd"`
	MinVolume24hUSD    float64  `json:"minVolume24hUsd"`
	MaxSpreadBps       float64  `json:"maxSpreadBps"`
	MinHolders         int      `json:"minHolders"`
	MaxAgeMinutes      float64  `json:"maxAgeMinutes"`
	BlockToken2022     bool     `json:"blockToken2022"`
	RequireVerified    bool     `json:"requireVerified"`
	VerifiedMints      []string `json:"verifiedMints"`
	SpreadFloorBps     float64  `json:"spreadFloorBps"`
	SpreadBaseBps      float64  `json:"spreadBaseBps"`
	SpreadFlowScale    float64  `json:"spreadFlowScale"`
	GateWorkers        int      `json:"gateWorkers"`

	DenyFreezeAuthority           bool `json:"denyFreezeAuthority"`
	RequireMintAuthorityRenounced bool `json:"requireMintAuthorityRenounced"`
	AllowUnknownMetrics           bool `json:"allowUnknownMetrics"`
}

// RegimeConfig tunes the market regime detector.
type RegimeConfig struct {
	LookbackTicks            int     `json:"lookbackTicks"`
	LowLiquidityUSD          float64 `json:"lowLiquidityUsd"`
	HighVolatilityThreshold  float64 `json:"highVolatilityThreshold"`
	TrendThreshold           float64 `json:"trendThreshold"`
	RangeVolatilityThreshold float64 `json:"rangeVolatilityThreshold"`
}

// StrategyConfig is the per-strategy configuration.
type StrategyConfig struct {
	Enabled       bool               `json:"enabled"`
	Shadow        bool               `json:"shadow"`
	MinConfidence float64            `json:"minConfidence"`
	BaseWeight    float64            `json:"baseWeight"`
	Params        map[string]float64 `json:"params"`
}

// Param returns a numeric strategy parameter or the fallback.
func (c StrategyConfig) Param(name string, fallback float64) float64 {
	if v, ok := c.Params[strings.ToLower(name)]; ok {
		return v
	}
	if v, ok := c.Params[name]; ok {
		return v
	}
	return fallback
}

// Strategy identifiers.
const (
	StrategyTrendBreakoutMomentum      = "trendBreakoutMomentum"
	StrategyMeanReversionRange         = "meanReversionRange"
	StrategyVolatilityCompression      = "volatilityCompression"
	StrategyLiquidityAwareConservative = "liquidityAwareConservative"
)

// StrategiesConfig holds one entry per built-in strategy.
type StrategiesConfig struct {
	TrendBreakoutMomentum      StrategyConfig `json:"trendBreakoutMomentum"`
	MeanReversionRange         StrategyConfig `json:"meanReversionRange"`
	VolatilityCompression      StrategyConfig `json:"volatilityCompression"`
	LiquidityAwareConservative StrategyConfig `json:"liquidityAwareConservative"`
}

// IDs returns the strategy ids in evaluation order.
func (c StrategiesConfig) IDs() []string {
	return []string{
		StrategyTrendBreakoutMomentum,
		StrategyMeanReversionRange,
		StrategyVolatilityCompression,
		StrategyLiquidityAwareConservative,
	}
}

// Get returns the configuration of a strategy by id.
func (c StrategiesConfig) Get(id string) (StrategyConfig, bool) {
	switch id {
	case StrategyTrendBreakoutMomentum:
		return c.TrendBreakoutMomentum, true
	case StrategyMeanReversionRange:
		return c.MeanReversionRange, true
	case StrategyVolatilityCompression:
		return c.VolatilityCompression, true
	case StrategyLiquidityAwareConservative:
		return c.LiquidityAwareConservative, true
	}
	return StrategyConfig{}, false
}

// PortfolioConfig bounds intent generation.
type PortfolioConfig struct {
	MaxCandidatesPerLoop   int     `json:"maxCandidatesPerLoop"`
	MaxIntentsPerLoop      int     `json:"maxIntentsPerLoop"`
	MinConsensusStrategies int     `json:"minConsensusStrategies"`
	MinAggregateConfidence float64 `json:"minAggregateConfidence"`
}

// AllocationConfig drives capital sizing.
type AllocationConfig struct {
	BaseCapitalSol     float64 `json:"baseCapitalSol"`
	ReservePct         float64 `json:"reservePct"`
	MaxPerTradePct     float64 `json:"maxPerTradePct"`
	MaxPerStrategyPct  float64 `json:"maxPerStrategyPct"`
	ConfidenceExponent float64 `json:"confidenceExponent"`
}

// ExecutionConfig drives quoting and submission.
type ExecutionConfig struct {
	BaseSlippageBps             int     `json:"baseSlippageBps"`
	SlippageStepBps             int     `json:"slippageStepBps"`
	MaxSlippageBps              int     `json:"maxSlippageBps"`
	PriorityFeeLamportsBase     int64   `json:"priorityFeeLamportsBase"`
	PriorityFeeLamportsStep     int64   `json:"priorityFeeLamportsStep"`
	PriorityFeeLamportsMax      int64   `json:"priorityFeeLamportsMax"`
	MaxRetries                  int     `json:"maxRetries"`
	RetryBackoffMs              int     `json:"retryBackoffMs"`
	MinExecutionQualityScore    float64 `json:"minExecutionQualityScore"`
	MinRouteLiquidityUSD        float64 `json:"minRouteLiquidityUsd"`
	QuoteRateLimitMinIntervalMs int     `json:"quoteRateLimitMinIntervalMs"`
}

// RiskConfig holds hard risk limits and exit thresholds.
type RiskConfig struct {
	MaxTradeSol          float64 `json:"maxTradeSol"`
	MaxOpenPositions     int     `json:"maxOpenPositions"`
	MaxExposurePct       float64 `json:"maxExposurePct"`
	MaxDailyLossSol      float64 `json:"maxDailyLossSol"`
	MaxDrawdownPct       float64 `json:"maxDrawdownPct"`
	MaxConsecutiveLosses int     `json:"maxConsecutiveLosses"`
	TokenCooldownMinutes int     `json:"tokenCooldownMinutes"`
	MaxPriceImpactBps    float64 `json:"maxPriceImpactBps"`
	MaxInstantLossBps    float64 `json:"maxInstantLossBps"`
	MaxSlippageBps       int     `json:"maxSlippageBps"`
	StopLossPct          float64 `json:"stopLossPct"`
	TakeProfitPct        float64 `json:"takeProfitPct"`
	TrailingStopPct      float64 `json:"trailingStopPct"`
	MaxUnrealizedLossPct float64 `json:"maxUnrealizedLossPct"`
}

// PerformanceGuardConfig drives the circuit breaker.
type PerformanceGuardConfig struct {
	Enabled                      bool    `json:"enabled"`
	MaxDrawdownPct               float64 `json:"maxDrawdownPct"`
	FailureWindowMinutes         int     `json:"failureWindowMinutes"`
	MaxOrderFailuresInWindow     int     `json:"maxOrderFailuresInWindow"`
	PauseMinutesOnDrawdownBreach int     `json:"pauseMinutesOnDrawdownBreach"`
	MaxMedianLatencyMs           float64 `json:"maxMedianLatencyMs"`
	MinRollingEqs                float64 `json:"minRollingEqs"`
}

// GovernanceConfig holds promotion and rollback floors.
type GovernanceConfig struct {
	ShadowDurationHours    float64 `json:"shadowDurationHours"`
	PromotionMinTrades     int     `json:"promotionMinTrades"`
	PromotionMinWinRate    float64 `json:"promotionMinWinRate"`
	PromotionMinPnlSol     float64 `json:"promotionMinPnlSol"`
	RollbackMaxDrawdownPct float64 `json:"rollbackMaxDrawdownPct"`
	RollbackMinWinRate     float64 `json:"rollbackMinWinRate"`
}

// APIConfig configures the operator API.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	WebSocketPath string `json:"webSocketPath"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"system.shadowMode":         "SHADOW_MODE",
	"system.liveTradingEnabled": "LIVE_TRADING_ENABLED",
	"system.loopIntervalMs":     "LOOP_INTERVAL_MS",
	"network.rpcEndpoints":      "RPC_ENDPOINTS",
	"network.jupiterApiKey":     "JUPITER_API_KEY",
	"network.jupiterBaseUrl":    "JUPITER_BASE_URL",
	"storage.driver":            "DB_DRIVER",
	"storage.dbPath":            "DB_PATH",
	"storage.databaseUrl":       "DATABASE_URL",
	"storage.healthFile":        "HEALTH_FILE",
	"allocation.baseCapitalSol": "BASE_CAPITAL_SOL",
	"risk.maxTradeSol":          "MAX_TRADE_SOL",
	"wallet.keyPath":            "WALLET_KEY_PATH",
	"wallet.expectedPublicKey":  "WALLET_EXPECTED_PUBLIC_KEY",
	"api.port":                  "API_PORT",
}

// Load reads .env, an optional config file and environment overrides on top of defaults.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every field of def as a viper default.
func setDefaults(v *viper.Viper, def Config) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	walkDefaults(v, "", tree)
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]interface{}); ok && len(child) > 0 {
			walkDefaults(v, full, child)
			continue
		}
		v.SetDefault(full, value)
	}
}

// normalize trims list values and applies derived limits.
func (c *Config) normalize() {
	endpoints := make([]string, 0, len(c.Network.RPCEndpoints))
	for _, e := range c.Network.RPCEndpoints {
		for _, part := range strings.Split(e, ",") {
			if p := strings.TrimSpace(part); p != "" {
				endpoints = append(endpoints, p)
			}
		}
	}
	c.Network.RPCEndpoints = endpoints

	if c.Risk.MaxSlippageBps > 0 && c.Execution.MaxSlippageBps > c.Risk.MaxSlippageBps {
		c.Execution.MaxSlippageBps = c.Risk.MaxSlippageBps
	}
}

// Validate reports configuration that must prevent startup.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Network.RPCEndpoints) == 0 {
		problems = append(problems, "at least one RPC endpoint is required")
	}
	if c.System.LiveTradingEnabled && c.System.ShadowMode {
		problems = append(problems, "liveTradingEnabled requires shadowMode=false")
	}
	if c.System.LiveTradingEnabled {
		hasEnvKey := c.Wallet.AllowDevKey && c.Wallet.SecretKeyEnv != "" && os.Getenv(c.Wallet.SecretKeyEnv) != ""
		if c.Wallet.KeyPath == "" && !hasEnvKey {
			problems = append(problems, "live trading requires wallet.keyPath or an allowed wallet.secretKeyEnv variable")
		}
	}
	if c.Risk.MaxTradeSol <= 0 {
		problems = append(problems, "risk.maxTradeSol must be > 0")
	}
	if c.Allocation.BaseCapitalSol <= 0 {
		problems = append(problems, "allocation.baseCapitalSol must be > 0")
	}
	if c.System.LoopIntervalMs <= 0 {
		problems = append(problems, "system.loopIntervalMs must be > 0")
	}
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.databaseUrl is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
