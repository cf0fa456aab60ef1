package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/pkg/types"
)

// MemoryStore is a process-local Store used for tests and dry runs.
type MemoryStore struct {
	mu        sync.RWMutex
	state     map[string][]byte
	trades    []types.Trade
	events    []types.Event
	positions map[string]types.Position
	stats     map[string]types.StrategyStat
	equity    []types.EquitySnapshot
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:     make(map[string][]byte),
		positions: make(map[string]types.Position),
		stats:     make(map[string]types.StrategyStat),
	}
}

// GetState decodes the blob stored under key.
func (s *MemoryStore) GetState(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.RLock()
	raw, ok := s.state[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return true, nil
}

// SetState encodes value under key.
func (s *MemoryStore) SetState(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}
	s.mu.Lock()
	s.state[key] = raw
	s.mu.Unlock()
	return nil
}

// RecordTrade appends a trade.
func (s *MemoryStore) RecordTrade(ctx context.Context, trade *types.Trade) error {
	if err := prepareTrade(trade); err != nil {
		return err
	}
	s.mu.Lock()
	s.trades = append(s.trades, *trade)
	s.mu.Unlock()
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (s *MemoryStore) RecentTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Trade, 0, len(s.trades))
	for i := len(s.trades) - 1; i >= 0; i-- {
		out = append(out, s.trades[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RealizedPnL sums trade PnL recorded at or after since.
func (s *MemoryStore) RealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0.0
	for _, t := range s.trades {
		if t.PnlSol == nil || t.CreatedAt.Before(since) {
			continue
		}
		total += *t.PnlSol
	}
	return total, nil
}

// RecordEvent appends an event.
func (s *MemoryStore) RecordEvent(ctx context.Context, event *types.Event) error {
	if err := prepareEvent(event); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, *event)
	s.mu.Unlock()
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *MemoryStore) RecentEvents(ctx context.Context, limit int) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpsertPosition inserts or replaces a position.
func (s *MemoryStore) UpsertPosition(ctx context.Context, position *types.Position) error {
	if err := validatePosition(position); err != nil {
		return err
	}
	s.mu.Lock()
	s.positions[position.Mint] = *position
	s.mu.Unlock()
	return nil
}

// GetPosition returns the position for mint or ErrNotFound.
func (s *MemoryStore) GetPosition(ctx context.Context, mint string) (*types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[mint]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListPositions returns all open positions, oldest first.
func (s *MemoryStore) ListPositions(ctx context.Context) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Mint < out[j].Mint
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

// DeletePosition removes the position for mint.
func (s *MemoryStore) DeletePosition(ctx context.Context, mint string) error {
	s.mu.Lock()
	delete(s.positions, mint)
	s.mu.Unlock()
	return nil
}

// UpsertStrategyStat inserts or replaces a strategy record.
func (s *MemoryStore) UpsertStrategyStat(ctx context.Context, stat types.StrategyStat) error {
	if stat.StrategyID == "" {
		return fmt.Errorf("%w: strategy stat requires id", ErrInvalidInput)
	}
	s.mu.Lock()
	s.stats[stat.StrategyID] = stat
	s.mu.Unlock()
	return nil
}

// ListStrategyStats returns every strategy record ordered by id.
func (s *MemoryStore) ListStrategyStats(ctx context.Context) ([]types.StrategyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.StrategyStat, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out, nil
}

// RecordEquitySnapshot appends an equity reading.
func (s *MemoryStore) RecordEquitySnapshot(ctx context.Context, snapshot types.EquitySnapshot) error {
	s.mu.Lock()
	s.equity = append(s.equity, snapshot)
	s.mu.Unlock()
	return nil
}

// EquitySnapshots returns the recorded equity history.
func (s *MemoryStore) EquitySnapshots() []types.EquitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.EquitySnapshot, len(s.equity))
	copy(out, s.equity)
	return out
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
