package config

// Default returns the baseline configuration. Shadow mode is on and live trading off.
func Default() Config {
	return Config{
		System: SystemConfig{
			Name:                      "sol-autotrader",
			ShadowMode:                true,
			LiveTradingEnabled:        false,
			LoopIntervalMs:            15_000,
			StatusBroadcastIntervalMs: 60_000,
		},
		Network: NetworkConfig{
			RPCEndpoints:             []string{"https://api.mainnet-beta.solana.com"},
			JupiterBaseURL:           "https://api.jup.ag",
			RequestTimeoutMs:         10_000,
			FailoverFailureThreshold: 3,
			FailoverCooldownMs:       30_000,
			ConfirmCommitment:        "confirmed",
			ConfirmTimeoutMs:         45_000,
		},
		Wallet: WalletConfig{
			SecretKeyEnv: "WALLET_SECRET_KEY",
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			DBPath:     "./data/autotrader.db",
			HealthFile: "./data/health.json",
		},
		Watchlist: WatchlistConfig{
			EnableDexScreener:  true,
			DexScreenerBaseURL: "https://api.dexscreener.com",
			ScanLimit:          60,
			MinLiquidityUSD:    25_000,
			MinVolume24hUSD:    50_000,
			MaxSpreadBps:       450,
			BlockToken2022:     true,
			RequireVerified:    true,
			SpreadFloorBps:     20,
			SpreadBaseBps:      80,
			SpreadFlowScale:    10_000,
			GateWorkers:        4,

			DenyFreezeAuthority:           true,
			RequireMintAuthorityRenounced: true,
		},
		MRD: RegimeConfig{
			LookbackTicks:            30,
			LowLiquidityUSD:          20_000,
			HighVolatilityThreshold:  0.03,
			TrendThreshold:           0.01,
			RangeVolatilityThreshold: 0.01,
		},
		Strategies: StrategiesConfig{
			TrendBreakoutMomentum: StrategyConfig{
				Enabled:       true,
				MinConfidence: 0.55,
				BaseWeight:    1.0,
				Params:        map[string]float64{"minh1": 0.02, "minflowratio": 1.05},
			},
			MeanReversionRange: StrategyConfig{
				Enabled:       true,
				Shadow:        true,
				MinConfidence: 0.6,
				BaseWeight:    0.8,
				Params:        map[string]float64{"oversoldfloor": -0.14, "oversoldceiling": -0.015, "stabilizationm5": -0.012},
			},
			VolatilityCompression: StrategyConfig{
				Enabled:       true,
				Shadow:        true,
				MinConfidence: 0.6,
				BaseWeight:    0.9,
				Params:        map[string]float64{"maxm5": 0.006, "maxh1": 0.025, "minh24": 0.02},
			},
			LiquidityAwareConservative: StrategyConfig{
				Enabled:       true,
				MinConfidence: 0.55,
				BaseWeight:    1.2,
				Params:        map[string]float64{"liquiditymultiple": 1.4, "volumemultiple": 1.2, "spreadfraction": 0.75},
			},
		},
		Portfolio: PortfolioConfig{
			MaxCandidatesPerLoop:   20,
			MaxIntentsPerLoop:      3,
			MinConsensusStrategies: 1,
			MinAggregateConfidence: 0.55,
		},
		Allocation: AllocationConfig{
			BaseCapitalSol:     5,
			ReservePct:         0.2,
			MaxPerTradePct:     0.05,
			MaxPerStrategyPct:  0.1,
			ConfidenceExponent: 1.5,
		},
		Execution: ExecutionConfig{
			BaseSlippageBps:             50,
			SlippageStepBps:             50,
			MaxSlippageBps:              300,
			PriorityFeeLamportsBase:     10_000,
			PriorityFeeLamportsStep:     10_000,
			PriorityFeeLamportsMax:      100_000,
			MaxRetries:                  2,
			RetryBackoffMs:              750,
			MinExecutionQualityScore:    55,
			MinRouteLiquidityUSD:        12_000,
			QuoteRateLimitMinIntervalMs: 250,
		},
		Risk: RiskConfig{
			MaxTradeSol:          0.25,
			MaxOpenPositions:     5,
			MaxExposurePct:       0.6,
			MaxDailyLossSol:      0.5,
			MaxDrawdownPct:       0.2,
			MaxConsecutiveLosses: 4,
			TokenCooldownMinutes: 120,
			MaxPriceImpactBps:    220,
			MaxInstantLossBps:    350,
			MaxSlippageBps:       300,
			StopLossPct:          0.08,
			TakeProfitPct:        0.18,
			TrailingStopPct:      0.07,
			MaxUnrealizedLossPct: 0.12,
		},
		PerformanceGuard: PerformanceGuardConfig{
			Enabled:                      true,
			MaxDrawdownPct:               0.15,
			FailureWindowMinutes:         30,
			MaxOrderFailuresInWindow:     5,
			PauseMinutesOnDrawdownBreach: 60,
			MaxMedianLatencyMs:           2_000,
			MinRollingEqs:                60,
		},
		Governance: GovernanceConfig{
			ShadowDurationHours:    24,
			PromotionMinTrades:     20,
			PromotionMinWinRate:    0.55,
			PromotionMinPnlSol:     0.05,
			RollbackMaxDrawdownPct: 0.25,
			RollbackMinWinRate:     0.4,
		},
		API: APIConfig{
			Enabled:       true,
			Host:          "127.0.0.1",
			Port:          8090,
			WebSocketPath: "/ws",
		},
	}
}
