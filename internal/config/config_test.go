package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	def := config.Default()
	assert.True(t, cfg.System.ShadowMode)
	assert.False(t, cfg.System.LiveTradingEnabled)
	assert.Equal(t, def.Risk.MaxTradeSol, cfg.Risk.MaxTradeSol)
	assert.Equal(t, def.Network.RPCEndpoints, cfg.Network.RPCEndpoints)
	assert.Equal(t, def.Strategies.TrendBreakoutMomentum.MinConfidence, cfg.Strategies.TrendBreakoutMomentum.MinConfidence)
	assert.Equal(t, 0.02, cfg.Strategies.TrendBreakoutMomentum.Param("minH1", 0))
}

func TestLoadFileOverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
system:
  loopIntervalMs: 5000
risk:
  maxTradeSol: 0.1
  maxSlippageBps: 200
execution:
  maxSlippageBps: 500
strategies:
  meanReversionRange:
    enabled: false
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.System.LoopIntervalMs)
	assert.Equal(t, 0.1, cfg.Risk.MaxTradeSol)
	assert.Equal(t, 200, cfg.Execution.MaxSlippageBps, "execution slippage is clamped to the risk ceiling")
	assert.False(t, cfg.Strategies.MeanReversionRange.Enabled)
	assert.Equal(t, 0.6, cfg.Strategies.MeanReversionRange.MinConfidence)
	assert.Equal(t, config.Default().Governance, cfg.Governance)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", "https://rpc-a.example, https://rpc-b.example")
	t.Setenv("LOOP_INTERVAL_MS", "2500")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://rpc-a.example", "https://rpc-b.example"}, cfg.Network.RPCEndpoints)
	assert.Equal(t, 2500, cfg.System.LoopIntervalMs)
}

func TestValidateRejectsLiveWithShadow(t *testing.T) {
	cfg := config.Default()
	cfg.System.LiveTradingEnabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "shadowMode")
}

func TestValidateRequiresSecretsForLive(t *testing.T) {
	cfg := config.Default()
	cfg.System.ShadowMode = false
	cfg.System.LiveTradingEnabled = true
	cfg.Wallet.SecretKeyEnv = "TEST_WALLET_SECRET_UNSET"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	t.Setenv("TEST_WALLET_SECRET_UNSET", "present")
	require.Error(t, cfg.Validate(), "environment keys need allowDevKey")

	cfg.Wallet.AllowDevKey = true
	assert.NoError(t, cfg.Validate())

	cfg.Wallet.AllowDevKey = false
	cfg.Wallet.KeyPath = "/secure/wallet.key"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresEndpointsAndTradeCap(t *testing.T) {
	cfg := config.Default()
	cfg.Network.RPCEndpoints = nil
	cfg.Risk.MaxTradeSol = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC endpoint")
	assert.Contains(t, err.Error(), "maxTradeSol")
}
