// Package api provides the operator HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/metrics"
	"github.com/atlas-desktop/sol-autotrader/internal/orchestrator"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 500
	readTimeout        = 15 * time.Second
	writeTimeout       = 15 * time.Second
)

// System is the trading system surface the API reads and commands.
// Satisfied by *orchestrator.TradingSystem.
type System interface {
	Commander
	Snapshot() orchestrator.Status
	FormatStatus(ctx context.Context) (string, error)
	Positions(ctx context.Context) ([]types.Position, error)
	Trades(ctx context.Context, limit int) ([]types.Trade, error)
	Strategies(ctx context.Context) ([]orchestrator.StrategyView, error)
	Events() *events.Bus
	Metrics() *metrics.Metrics
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger         *zap.Logger
	config         config.APIConfig
	statusInterval time.Duration
	router         *mux.Router
	upgrader       websocket.Upgrader
	hub            *Hub
	system         System

	mu         sync.Mutex
	httpServer *http.Server
	cancel     context.CancelFunc
	streamsCtx context.Context
}

// NewServer creates a new API server.
func NewServer(logger *zap.Logger, cfg *config.Config, system System) *Server {
	interval := time.Duration(cfg.System.StatusBroadcastIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Server{
		logger:         logger.Named("api"),
		config:         cfg.API,
		statusInterval: interval,
		router:         mux.NewRouter(),
		hub:            NewHub(logger, system),
		system:         system,
		streamsCtx:     context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")
	s.router.HandleFunc("/api/v1/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/events/stats", s.handleEventStats).Methods("GET")
	s.router.HandleFunc("/api/v1/control/{action}", s.handleControl).Methods("POST")
	s.router.Handle("/metrics", s.system.Metrics().Handler()).Methods("GET")

	path := s.config.WebSocketPath
	if path == "" {
		path = "/ws"
	}
	s.router.HandleFunc(path, s.handleWebSocket)
}

// Router returns the routes without CORS, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// RunStreams runs the WebSocket hub, forwards bus events to it and broadcasts
// status on the configured interval. Blocks until ctx is cancelled.
func (s *Server) RunStreams(ctx context.Context) {
	s.mu.Lock()
	s.streamsCtx = ctx
	s.mu.Unlock()

	sub := s.system.Events().SubscribeAll(s.hub.PublishEvent)
	defer s.system.Events().Unsubscribe(sub)

	go s.hub.Run(ctx)

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() > 0 {
				s.hub.Broadcast(MsgTypeStatus, s.system.Snapshot())
			}
		}
	}
}

// Start starts the streams and the HTTP server. Blocks until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	go s.RunStreams(ctx)

	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		return err
	}
	return nil
}

// Stop gracefully stops the server and disconnects WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.httpServer, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// handleHealth reports liveness and the age of the last tick.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.system.Snapshot()
	resp := map[string]interface{}{
		"status":  "healthy",
		"running": st.Running,
		"time":    st.Timestamp.Unix(),
	}
	if st.LastTick != nil {
		resp["lastTickAt"] = st.LastTick.StartedAt.UnixMilli()
	}
	if st.Controls.EmergencyStop {
		resp["status"] = "emergency_stop"
	}
	s.writeJSON(w, resp)
}

// handleStatus returns the status snapshot, or plain text with ?format=text.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "text" {
		text, err := s.system.FormatStatus(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, text)
		return
	}
	s.writeJSON(w, s.system.Snapshot())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.system.Positions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.system.Strategies(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{"strategies": strategies})
}

// handleTrades returns recent trades, newest first. ?limit caps the count.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTradesLimit)
	}

	trades, err := s.system.Trades(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.system.Events().Stats())
}

// handleControl applies an operator command and returns the resulting status.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	if err := s.system.Command(r.Context(), action); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownCommand) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Control command failed", zap.String("action", action), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	st := s.system.Snapshot()
	s.hub.Broadcast(MsgTypeStatus, st)
	s.writeJSON(w, map[string]interface{}{
		"action": action,
		"status": st,
	})
}

// handleWebSocket upgrades the connection and sends an initial status frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	ctx := s.streamsCtx
	s.mu.Unlock()

	client := NewClient(uuid.New().String(), s.hub, conn)
	select {
	case s.hub.register <- client:
	case <-ctx.Done():
		conn.Close()
		return
	}

	go client.WritePump()
	client.reply(WSMessage{Type: MsgTypeStatus}, s.system.Snapshot())
	go client.ReadPump(ctx)

	s.logger.Info("WebSocket client connected", zap.String("id", client.id))
}

// ==================== Helpers ====================

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
