// Package storage provides the durable store used by every stateful component.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// StateStore persists opaque JSON blobs by key. Writes are last-writer-wins per key.
type StateStore interface {
	// GetState decodes the value stored under key into dest. Returns false when absent.
	GetState(ctx context.Context, key string, dest interface{}) (bool, error)
	SetState(ctx context.Context, key string, value interface{}) error
}

// TradeStore records append-only trades.
type TradeStore interface {
	RecordTrade(ctx context.Context, trade *types.Trade) error
	// RecentTrades returns up to limit trades, newest first.
	RecentTrades(ctx context.Context, limit int) ([]types.Trade, error)
	// RealizedPnL sums closed-trade PnL recorded at or after since. A zero since sums everything.
	RealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// EventStore records append-only diagnostic events.
type EventStore interface {
	RecordEvent(ctx context.Context, event *types.Event) error
	RecentEvents(ctx context.Context, limit int) ([]types.Event, error)
}

// PositionStore holds open positions keyed by mint.
type PositionStore interface {
	UpsertPosition(ctx context.Context, position *types.Position) error
	GetPosition(ctx context.Context, mint string) (*types.Position, error)
	ListPositions(ctx context.Context) ([]types.Position, error)
	DeletePosition(ctx context.Context, mint string) error
}

// StatsStore holds strategy statistics and equity history.
type StatsStore interface {
	UpsertStrategyStat(ctx context.Context, stat types.StrategyStat) error
	ListStrategyStats(ctx context.Context) ([]types.StrategyStat, error)
	RecordEquitySnapshot(ctx context.Context, snapshot types.EquitySnapshot) error
}

// Store is the full durable store.
type Store interface {
	StateStore
	TradeStore
	EventStore
	PositionStore
	StatsStore
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by the storage configuration.
func Open(ctx context.Context, logger *zap.Logger, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("Using in-memory store")
		return NewMemoryStore(), nil
	case "sqlite", "":
		logger.Info("Opening SQLite store", zap.String("path", cfg.DBPath))
		store, err := NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		logger.Info("Opening Postgres store")
		store, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", ErrInvalidInput, cfg.Driver)
	}
}

// prepareTrade validates a trade and fills its id and timestamp.
func prepareTrade(trade *types.Trade) error {
	if trade == nil || trade.Mint == "" || trade.Side == "" {
		return fmt.Errorf("%w: trade requires mint and side", ErrInvalidInput)
	}
	if trade.ID == "" {
		trade.ID = utils.GenerateTradeID()
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	return nil
}

// prepareEvent validates an event and fills its id and timestamp.
func prepareEvent(event *types.Event) error {
	if event == nil || event.Type == "" {
		return fmt.Errorf("%w: event requires type", ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = utils.GenerateEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return nil
}

func validatePosition(position *types.Position) error {
	if position == nil || position.Mint == "" {
		return fmt.Errorf("%w: position requires mint", ErrInvalidInput)
	}
	return nil
}
