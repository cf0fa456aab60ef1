package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/api"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/control"
	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/metrics"
	"github.com/atlas-desktop/sol-autotrader/internal/orchestrator"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSystem struct {
	mu         sync.Mutex
	commands   []string
	emergency  bool
	tradeLimit int
	bus        *events.Bus
	metrics    *metrics.Metrics
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		bus:     events.NewBus(zap.NewNop(), storage.NewMemoryStore(), events.DefaultConfig()),
		metrics: metrics.New(""),
	}
}

func (f *fakeSystem) Command(ctx context.Context, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch action {
	case orchestrator.CommandEmergencyOn:
		f.emergency = true
	case orchestrator.CommandEmergencyOff:
		f.emergency = false
	case orchestrator.CommandPause, orchestrator.CommandResume:
	default:
		return fmt.Errorf("%w: %q", orchestrator.ErrUnknownCommand, action)
	}
	f.commands = append(f.commands, action)
	return nil
}

func (f *fakeSystem) Snapshot() orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return orchestrator.Status{
		Name:         "sol-autotrader",
		Running:      true,
		GlobalShadow: true,
		Controls:     control.State{EmergencyStop: f.emergency},
		Timestamp:    time.Now(),
	}
}

func (f *fakeSystem) FormatStatus(ctx context.Context) (string, error) {
	return "Bot: sol-autotrader\nGlobal shadow: true", nil
}

func (f *fakeSystem) Positions(ctx context.Context) ([]types.Position, error) {
	return []types.Position{{Mint: "MintA", AmountSol: 0.2, Mode: types.ModeShadow}}, nil
}

func (f *fakeSystem) Trades(ctx context.Context, limit int) ([]types.Trade, error) {
	f.mu.Lock()
	f.tradeLimit = limit
	f.mu.Unlock()
	return []types.Trade{{Mint: "MintA", Side: types.SideBuy, AmountSol: 0.2}}, nil
}

func (f *fakeSystem) Strategies(ctx context.Context) ([]orchestrator.StrategyView, error) {
	return []orchestrator.StrategyView{
		{ID: config.StrategyTrendBreakoutMomentum, State: types.StrategyState{Mode: types.GovernanceLive}},
	}, nil
}

func (f *fakeSystem) lastTradeLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tradeLimit
}

func (f *fakeSystem) applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeSystem) Events() *events.Bus       { return f.bus }
func (f *fakeSystem) Metrics() *metrics.Metrics { return f.metrics }

func setupTestServer(t *testing.T) (*fakeSystem, *api.Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.System.StatusBroadcastIntervalMs = 50

	sys := newFakeSystem()
	server := api.NewServer(zap.NewNop(), &cfg, sys)
	ts := httptest.NewServer(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	go server.RunStreams(ctx)

	t.Cleanup(func() {
		cancel()
		ts.Close()
		sys.bus.Close()
	})
	return sys, server, ts
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := setupTestServer(t)

	var result map[string]interface{}
	resp := getJSON(t, ts.URL+"/api/v1/health", &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", result["status"])
	assert.Equal(t, true, result["running"])
}

func TestStatusEndpoint(t *testing.T) {
	_, _, ts := setupTestServer(t)

	var status orchestrator.Status
	getJSON(t, ts.URL+"/api/v1/status", &status)
	assert.Equal(t, "sol-autotrader", status.Name)
	assert.True(t, status.GlobalShadow)

	resp, err := http.Get(ts.URL + "/api/v1/status?format=text")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, string(body), "Global shadow: true")
}

func TestPositionsAndStrategies(t *testing.T) {
	_, _, ts := setupTestServer(t)

	var positions struct {
		Positions []types.Position `json:"positions"`
		Count     int              `json:"count"`
	}
	getJSON(t, ts.URL+"/api/v1/positions", &positions)
	assert.Equal(t, 1, positions.Count)
	assert.Equal(t, "MintA", positions.Positions[0].Mint)

	var strategies struct {
		Strategies []orchestrator.StrategyView `json:"strategies"`
	}
	getJSON(t, ts.URL+"/api/v1/strategies", &strategies)
	require.Len(t, strategies.Strategies, 1)
	assert.Equal(t, types.GovernanceLive, strategies.Strategies[0].State.Mode)
}

func TestTradesLimit(t *testing.T) {
	sys, _, ts := setupTestServer(t)

	resp := getJSON(t, ts.URL+"/api/v1/trades", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, sys.lastTradeLimit())

	getJSON(t, ts.URL+"/api/v1/trades?limit=10000", nil)
	assert.Equal(t, 500, sys.lastTradeLimit())

	resp = getJSON(t, ts.URL+"/api/v1/trades?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestControlEndpoint(t *testing.T) {
	sys, _, ts := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/control/emergency_on", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Action string              `json:"action"`
		Status orchestrator.Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "emergency_on", body.Action)
	assert.True(t, body.Status.Controls.EmergencyStop)
	assert.Equal(t, []string{"emergency_on"}, sys.applied())

	bad, err := http.Post(ts.URL+"/api/v1/control/launch", "application/json", nil)
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestControlRequiresPost(t *testing.T) {
	_, _, ts := setupTestServer(t)

	resp := getJSON(t, ts.URL+"/api/v1/control/pause", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	sys, _, ts := setupTestServer(t)
	sys.metrics.RecordCycle("ok", time.Millisecond)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sol_autotrader_loop_cycles_total")
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType api.MessageType) api.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg api.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketStatusAndEvents(t *testing.T) {
	sys, server, ts := setupTestServer(t)
	conn := dial(t, ts)

	first := readUntil(t, conn, api.MsgTypeStatus)
	var status orchestrator.Status
	require.NoError(t, json.Unmarshal(first.Data, &status))
	assert.Equal(t, "sol-autotrader", status.Name)

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeSubscribe, Channel: api.ChannelEvents}))
	// Frames are handled in order, so the command reply means the subscription is in place.
	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeCommand, Action: orchestrator.CommandResume}))
	readUntil(t, conn, api.MsgTypeCommandResult)
	assert.Equal(t, 1, server.Hub().ClientCount())

	require.NoError(t, sys.bus.Record(context.Background(), events.TypeGuardPause, map[string]any{"reason": "drawdown"}))
	got := readUntil(t, conn, api.MsgTypeEvent)
	assert.Equal(t, api.ChannelEvents, got.Channel)

	var event types.Event
	require.NoError(t, json.Unmarshal(got.Data, &event))
	assert.Equal(t, events.TypeGuardPause, event.Type)
}

func TestWebSocketCommand(t *testing.T) {
	sys, _, ts := setupTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, api.MsgTypeStatus)

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeCommand, Action: orchestrator.CommandPause}))
	result := readUntil(t, conn, api.MsgTypeCommandResult)
	assert.Equal(t, orchestrator.CommandPause, result.Action)
	assert.Empty(t, result.Error)

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeCommand, Action: "launch"}))
	result = readUntil(t, conn, api.MsgTypeCommandResult)
	assert.Contains(t, result.Error, "unknown command")

	assert.Equal(t, []string{orchestrator.CommandPause}, sys.applied())
}

func TestWebSocketRejectsUnknownChannel(t *testing.T) {
	_, _, ts := setupTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, api.MsgTypeStatus)

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeSubscribe, Channel: "orders"}))
	msg := readUntil(t, conn, api.MsgTypeError)
	assert.Equal(t, "unknown channel", msg.Error)
}
