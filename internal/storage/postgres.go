package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-desktop/sol-autotrader/pkg/types"
)

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// ErrDuplicateKey is returned when an append-only record id already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// PostgresStore implements Store on PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		mint TEXT NOT NULL,
		symbol TEXT,
		side TEXT NOT NULL,
		amount_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
		qty_raw TEXT,
		pnl_sol DOUBLE PRECISION,
		mode TEXT NOT NULL,
		strategies JSONB,
		status TEXT NOT NULL,
		reason TEXT,
		tx_sig TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at)`,
	`CREATE TABLE IF NOT EXISTS positions (
		mint TEXT PRIMARY KEY,
		data JSONB NOT NULL,
		opened_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bot_state (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS strategy_stats (
		strategy_id TEXT PRIMARY KEY,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS equity_snapshots (
		id BIGSERIAL PRIMARY KEY,
		equity_sol DOUBLE PRECISION NOT NULL,
		pnl_sol DOUBLE PRECISION NOT NULL,
		drawdown_pct DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// NewPostgresStore connects to dsn, verifies the connection and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, q := range postgresSchema {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply postgres schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// GetState decodes the blob stored under key.
func (s *PostgresStore) GetState(ctx context.Context, key string, dest interface{}) (bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM bot_state WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get state %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return true, nil
}

// SetState encodes value under key.
func (s *PostgresStore) SetState(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bot_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// RecordTrade appends a trade. Returns ErrDuplicateKey if the id exists.
func (s *PostgresStore) RecordTrade(ctx context.Context, trade *types.Trade) error {
	if err := prepareTrade(trade); err != nil {
		return err
	}
	strategies, metadata, err := encodeTradeJSON(trade)
	if err != nil {
		return err
	}
	var meta *string
	if metadata != "" {
		meta = &metadata
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trades (id, mint, symbol, side, amount_sol, qty_raw, pnl_sol, mode, strategies, status, reason, tx_sig, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		trade.ID, trade.Mint, trade.Symbol, string(trade.Side), trade.AmountSol, trade.QtyRaw, trade.PnlSol,
		string(trade.Mode), strategies, trade.Status, trade.Reason, trade.TxSig, meta, trade.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (s *PostgresStore) RecentTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	query := `
		SELECT id, mint, COALESCE(symbol, ''), side, amount_sol, COALESCE(qty_raw, ''), pnl_sol, mode,
		       COALESCE(strategies::text, ''), status, COALESCE(reason, ''), COALESCE(tx_sig, ''),
		       COALESCE(metadata::text, ''), created_at
		FROM trades ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t                    types.Trade
			side, mode           string
			strategies, metadata string
		)
		if err := rows.Scan(&t.ID, &t.Mint, &t.Symbol, &side, &t.AmountSol, &t.QtyRaw, &t.PnlSol, &mode,
			&strategies, &t.Status, &t.Reason, &t.TxSig, &metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side, t.Mode = types.TradeSide(side), types.TradeMode(mode)
		if err := decodeTradeJSON(&t, strategies, metadata); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RealizedPnL sums trade PnL recorded at or after since.
func (s *PostgresStore) RealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var total *float64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(pnl_sol) FROM trades WHERE pnl_sol IS NOT NULL AND created_at >= $1`,
		since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum pnl: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// RecordEvent appends an event.
func (s *PostgresStore) RecordEvent(ctx context.Context, event *types.Event) error {
	if err := prepareEvent(event); err != nil {
		return err
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO events (id, type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		event.ID, event.Type, payload, event.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]types.Event, error) {
	query := `SELECT id, type, COALESCE(payload::text, ''), created_at FROM events ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			e       types.Event
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertPosition inserts or replaces a position.
func (s *PostgresStore) UpsertPosition(ctx context.Context, position *types.Position) error {
	if err := validatePosition(position); err != nil {
		return err
	}
	raw, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO positions (mint, data, opened_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (mint) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		position.Mint, raw, position.OpenedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// GetPosition returns the position for mint or ErrNotFound.
func (s *PostgresStore) GetPosition(ctx context.Context, mint string) (*types.Position, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM positions WHERE mint = $1`, mint).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	var p types.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &p, nil
}

// ListPositions returns all open positions, oldest first.
func (s *PostgresStore) ListPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM positions ORDER BY opened_at ASC, mint ASC`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		var p types.Position
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePosition removes the position for mint.
func (s *PostgresStore) DeletePosition(ctx context.Context, mint string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE mint = $1`, mint); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// UpsertStrategyStat inserts or replaces a strategy record.
func (s *PostgresStore) UpsertStrategyStat(ctx context.Context, stat types.StrategyStat) error {
	if stat.StrategyID == "" {
		return fmt.Errorf("%w: strategy stat requires id", ErrInvalidInput)
	}
	raw, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("encode strategy stat: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategy_stats (strategy_id, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (strategy_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		stat.StrategyID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert strategy stat: %w", err)
	}
	return nil
}

// ListStrategyStats returns every strategy record ordered by id.
func (s *PostgresStore) ListStrategyStats(ctx context.Context) ([]types.StrategyStat, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM strategy_stats ORDER BY strategy_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query strategy stats: %w", err)
	}
	defer rows.Close()

	var out []types.StrategyStat
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan strategy stat: %w", err)
		}
		var st types.StrategyStat
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("decode strategy stat: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordEquitySnapshot appends an equity reading.
func (s *PostgresStore) RecordEquitySnapshot(ctx context.Context, snapshot types.EquitySnapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO equity_snapshots (equity_sol, pnl_sol, drawdown_pct, created_at) VALUES ($1, $2, $3, $4)`,
		snapshot.EquitySol, snapshot.PnlSol, snapshot.DrawdownPct, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}
	return nil
}

// Ping checks the pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
