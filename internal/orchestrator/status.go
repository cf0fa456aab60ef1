package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/blockchain"
	"github.com/atlas-desktop/sol-autotrader/internal/control"
	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/governance"
	"github.com/atlas-desktop/sol-autotrader/internal/guard"
	"github.com/atlas-desktop/sol-autotrader/internal/strategy"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// Operator commands accepted by Command.
const (
	CommandPause           = "pause"
	CommandResume          = "resume"
	CommandEmergencyOn     = "emergency_on"
	CommandEmergencyOff    = "emergency_off"
	CommandShadowOn        = "shadow_on"
	CommandShadowOff       = "shadow_off"
	CommandClearGuardPause = "clear_guard"
)

// ErrUnknownCommand is returned for an unrecognised operator command.
var ErrUnknownCommand = errors.New("unknown command")

// Status is the read surface of the running system.
type Status struct {
	Name               string                    `json:"name"`
	Running            bool                      `json:"running"`
	GlobalShadow       bool                      `json:"globalShadow"`
	LiveTradingEnabled bool                      `json:"liveTradingEnabled"`
	Controls           control.State             `json:"controls"`
	Paused             bool                      `json:"paused"`
	Guard              guard.State               `json:"guard"`
	Governance         governance.State          `json:"governance"`
	Regime             *types.Regime             `json:"regime,omitempty"`
	Cooldowns          int                       `json:"activeCooldowns"`
	Intents            []IntentView              `json:"latestIntents"`
	RPC                *blockchain.ManagerStatus `json:"rpc,omitempty"`
	LastTick           *TickSummary              `json:"lastTick,omitempty"`
	Timestamp          time.Time                 `json:"timestamp"`
}

// Snapshot returns the current status without touching the network.
func (s *TradingSystem) Snapshot() Status {
	now := s.now()
	controls := s.control.Snapshot()

	s.mu.RLock()
	running := s.running
	last := s.lastTick
	s.mu.RUnlock()

	status := Status{
		Name:               s.config.System.Name,
		Running:            running,
		GlobalShadow:       s.gov.GlobalShadow(),
		LiveTradingEnabled: s.config.System.LiveTradingEnabled,
		Controls:           controls,
		Paused:             controls.Paused(now),
		Guard:              s.guard.Snapshot(),
		Governance:         s.gov.Snapshot(),
		Regime:             s.regime.Current(),
		Cooldowns:          len(s.risk.ActiveCooldowns(now)),
		Intents:            intentViews(s.portfolio.LatestIntents()),
		LastTick:           last,
		Timestamp:          now,
	}
	if s.rpc != nil {
		rpc := s.rpc.Status()
		status.RPC = &rpc
	}
	return status
}

// FormatStatus renders the status as plain text for operators.
func (s *TradingSystem) FormatStatus(ctx context.Context) (string, error) {
	now := s.now()
	portfolio, err := s.portfolioState(ctx, now)
	if err != nil {
		return "", err
	}
	st := s.Snapshot()

	rpcEndpoint := "n/a"
	if st.RPC != nil {
		rpcEndpoint = st.RPC.ActiveEndpoint
	}

	lines := []string{
		fmt.Sprintf("Bot: %s", st.Name),
		fmt.Sprintf("Global shadow: %t", st.GlobalShadow),
		fmt.Sprintf("Live trading enabled: %t", st.LiveTradingEnabled),
		fmt.Sprintf("Emergency stop: %t", st.Controls.EmergencyStop),
		fmt.Sprintf("Paused: %t", st.Paused),
		fmt.Sprintf("Open positions: %d", portfolio.OpenPositions),
		fmt.Sprintf("Exposure (SOL): %s", utils.FormatSol(portfolio.ExposureSol)),
		fmt.Sprintf("Daily PnL (SOL): %s", utils.FormatSol(portfolio.DailyPnlSol)),
		fmt.Sprintf("Total PnL (SOL): %s", utils.FormatSol(portfolio.TotalPnlSol)),
		fmt.Sprintf("Drawdown: %.2f%%", st.Guard.DrawdownPct*100),
		fmt.Sprintf("RPC endpoint: %s", rpcEndpoint),
	}
	return strings.Join(lines, "\n"), nil
}

// Positions lists open positions.
func (s *TradingSystem) Positions(ctx context.Context) ([]types.Position, error) {
	return s.store.ListPositions(ctx)
}

// Trades returns the most recent trades, newest first.
func (s *TradingSystem) Trades(ctx context.Context, limit int) ([]types.Trade, error) {
	return s.store.RecentTrades(ctx, limit)
}

// IntentView is the status summary of one ranked intent.
type IntentView struct {
	Mint       string   `json:"mint"`
	Symbol     string   `json:"symbol"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	AllShadow  bool     `json:"allShadow"`
	Strategies []string `json:"strategies"`
}

func intentViews(intents []types.Intent) []IntentView {
	out := make([]IntentView, 0, len(intents))
	for _, in := range intents {
		out = append(out, IntentView{
			Mint:       in.Mint,
			Symbol:     in.Candidate.Symbol,
			Score:      in.Score,
			Confidence: in.AggregateConfidence,
			AllShadow:  in.AllShadow,
			Strategies: in.StrategyIDs(),
		})
	}
	return out
}

// StrategyView joins governance state with the latest statistics of one strategy.
type StrategyView struct {
	ID          string                        `json:"id"`
	Description string                        `json:"description"`
	Parameters  map[string]strategy.Parameter `json:"parameters"`
	State       types.StrategyState           `json:"state"`
	Stats       *types.StrategyStat           `json:"stats,omitempty"`
}

// Strategies returns every configured strategy with its effective mode.
func (s *TradingSystem) Strategies(ctx context.Context) ([]StrategyView, error) {
	stats, err := s.store.ListStrategyStats(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.StrategyStat, len(stats))
	for _, st := range stats {
		byID[st.StrategyID] = st
	}

	set := s.strategies.Strategies()
	views := make([]StrategyView, 0, len(set))
	for _, strat := range set {
		id := strat.ID()
		v := StrategyView{
			ID:          id,
			Description: strat.Description(),
			Parameters:  strat.Parameters(),
			State:       s.gov.StrategyState(id),
		}
		if st, ok := byID[id]; ok {
			st := st
			v.Stats = &st
		}
		views = append(views, v)
	}
	return views, nil
}

// Command applies an operator command.
func (s *TradingSystem) Command(ctx context.Context, action string) error {
	now := s.now()

	var err error
	switch action {
	case CommandPause:
		err = s.control.PauseIndefinitely(ctx, now)
	case CommandResume:
		err = s.control.Resume(ctx, now)
	case CommandEmergencyOn:
		err = s.control.SetEmergencyStop(ctx, true, now)
	case CommandEmergencyOff:
		err = s.control.SetEmergencyStop(ctx, false, now)
	case CommandShadowOn:
		err = s.gov.SetGlobalShadow(ctx, true, now)
	case CommandShadowOff:
		err = s.gov.SetGlobalShadow(ctx, false, now)
	case CommandClearGuardPause:
		err = s.guard.ClearPause(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, action)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	s.logger.Info("Operator command applied", zap.String("action", action))
	s.record(ctx, events.TypeControlAction, map[string]any{"action": action})
	return nil
}

// healthFile is the JSON written after every tick.
type healthFile struct {
	Timestamp time.Time                `json:"ts"`
	OK        bool                     `json:"ok"`
	RPC       *blockchain.HealthStatus `json:"rpc,omitempty"`
	Tick      *TickSummary             `json:"tick"`
}

// writeHealth replaces the health file atomically.
func (s *TradingSystem) writeHealth(ctx context.Context, summary *TickSummary) error {
	path := s.config.Storage.HealthFile
	if path == "" {
		return nil
	}

	payload := healthFile{Timestamp: s.now().UTC(), OK: true, Tick: summary}
	if s.rpc != nil {
		rpc := s.rpc.HealthCheck(ctx)
		payload.RPC = &rpc
		payload.OK = rpc.OK
	}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode health: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create health dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write health: %w", err)
	}
	return os.Rename(tmp, path)
}
