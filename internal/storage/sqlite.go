package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atlas-desktop/sol-autotrader/pkg/types"
)

// SQLiteStore implements Store on a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath and applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the tick loop and the API.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			mint TEXT NOT NULL,
			symbol TEXT,
			side TEXT NOT NULL,
			amount_sol REAL NOT NULL DEFAULT 0,
			qty_raw TEXT,
			pnl_sol REAL,
			mode TEXT NOT NULL,
			strategies TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			tx_sig TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);`,
		`CREATE TABLE IF NOT EXISTS positions (
			mint TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			opened_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			payload TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);`,
		`CREATE TABLE IF NOT EXISTS bot_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS strategy_stats (
			strategy_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			equity_sol REAL NOT NULL,
			pnl_sol REAL NOT NULL,
			drawdown_pct REAL NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec schema query: %w", err)
		}
	}
	return nil
}

// GetState decodes the blob stored under key.
func (s *SQLiteStore) GetState(ctx context.Context, key string, dest interface{}) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get state %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return true, nil
}

// SetState encodes value under key.
func (s *SQLiteStore) SetState(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// RecordTrade appends a trade.
func (s *SQLiteStore) RecordTrade(ctx context.Context, trade *types.Trade) error {
	if err := prepareTrade(trade); err != nil {
		return err
	}
	strategies, metadata, err := encodeTradeJSON(trade)
	if err != nil {
		return err
	}

	var pnl sql.NullFloat64
	if trade.PnlSol != nil {
		pnl = sql.NullFloat64{Float64: *trade.PnlSol, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades (id, mint, symbol, side, amount_sol, qty_raw, pnl_sol, mode, strategies, status, reason, tx_sig, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Mint, trade.Symbol, string(trade.Side), trade.AmountSol, trade.QtyRaw, pnl,
		string(trade.Mode), strategies, trade.Status, trade.Reason, trade.TxSig, metadata, trade.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (s *SQLiteStore) RecentTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mint, symbol, side, amount_sol, qty_raw, pnl_sol, mode, strategies, status, reason, tx_sig, metadata, created_at
		FROM trades ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t                          types.Trade
			symbol, qty, reason, txSig sql.NullString
			strategies, metadata       sql.NullString
			side, mode                 string
			pnl                        sql.NullFloat64
			createdAt                  int64
		)
		if err := rows.Scan(&t.ID, &t.Mint, &symbol, &side, &t.AmountSol, &qty, &pnl, &mode,
			&strategies, &t.Status, &reason, &txSig, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Symbol, t.QtyRaw, t.Reason, t.TxSig = symbol.String, qty.String, reason.String, txSig.String
		t.Side, t.Mode = types.TradeSide(side), types.TradeMode(mode)
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		if pnl.Valid {
			v := pnl.Float64
			t.PnlSol = &v
		}
		if err := decodeTradeJSON(&t, strategies.String, metadata.String); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RealizedPnL sums trade PnL recorded at or after since.
func (s *SQLiteStore) RealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(pnl_sol) FROM trades WHERE pnl_sol IS NOT NULL AND created_at >= ?`,
		sinceMillis(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum pnl: %w", err)
	}
	return total.Float64, nil
}

// RecordEvent appends an event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *types.Event) error {
	if err := prepareEvent(event); err != nil {
		return err
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO events (id, type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.ID, event.Type, string(payload), event.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, payload, created_at FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			e         types.Event
			payload   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertPosition inserts or replaces a position.
func (s *SQLiteStore) UpsertPosition(ctx context.Context, position *types.Position) error {
	if err := validatePosition(position); err != nil {
		return err
	}
	raw, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (mint, data, opened_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(mint) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		position.Mint, string(raw), position.OpenedAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// GetPosition returns the position for mint or ErrNotFound.
func (s *SQLiteStore) GetPosition(ctx context.Context, mint string) (*types.Position, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM positions WHERE mint = ?`, mint).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	var p types.Position
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &p, nil
}

// ListPositions returns all open positions, oldest first.
func (s *SQLiteStore) ListPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM positions ORDER BY opened_at ASC, mint ASC`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		var p types.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePosition removes the position for mint.
func (s *SQLiteStore) DeletePosition(ctx context.Context, mint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE mint = ?`, mint); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// UpsertStrategyStat inserts or replaces a strategy record.
func (s *SQLiteStore) UpsertStrategyStat(ctx context.Context, stat types.StrategyStat) error {
	if stat.StrategyID == "" {
		return fmt.Errorf("%w: strategy stat requires id", ErrInvalidInput)
	}
	raw, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("encode strategy stat: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategy_stats (strategy_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		stat.StrategyID, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert strategy stat: %w", err)
	}
	return nil
}

// ListStrategyStats returns every strategy record ordered by id.
func (s *SQLiteStore) ListStrategyStats(ctx context.Context) ([]types.StrategyStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM strategy_stats ORDER BY strategy_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query strategy stats: %w", err)
	}
	defer rows.Close()

	var out []types.StrategyStat
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan strategy stat: %w", err)
		}
		var st types.StrategyStat
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode strategy stat: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordEquitySnapshot appends an equity reading.
func (s *SQLiteStore) RecordEquitySnapshot(ctx context.Context, snapshot types.EquitySnapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equity_snapshots (equity_sol, pnl_sol, drawdown_pct, created_at) VALUES (?, ?, ?, ?)`,
		snapshot.EquitySol, snapshot.PnlSol, snapshot.DrawdownPct, snapshot.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeTradeJSON(trade *types.Trade) (string, string, error) {
	strategies, err := json.Marshal(trade.Strategies)
	if err != nil {
		return "", "", fmt.Errorf("encode trade strategies: %w", err)
	}
	metadata := ""
	if len(trade.Metadata) > 0 {
		raw, err := json.Marshal(trade.Metadata)
		if err != nil {
			return "", "", fmt.Errorf("encode trade metadata: %w", err)
		}
		metadata = string(raw)
	}
	return string(strategies), metadata, nil
}

func decodeTradeJSON(t *types.Trade, strategies, metadata string) error {
	if s := strings.TrimSpace(strategies); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &t.Strategies); err != nil {
			return fmt.Errorf("decode trade strategies: %w", err)
		}
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return fmt.Errorf("decode trade metadata: %w", err)
		}
	}
	return nil
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixMilli()
}
