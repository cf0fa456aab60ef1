// Package control holds the operator switches: emergency stop and pause.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// StateKey is the state key holding the control plane.
const StateKey = "controlPlane"

// indefinitePause is how far an indefinite pause reaches.
const indefinitePause = 365 * 24 * time.Hour

// State is the persisted control plane.
type State struct {
	EmergencyStop bool  `json:"emergencyStop"`
	PauseUntilMs  int64 `json:"pauseUntilMs"`
	PausedByUser  bool  `json:"pausedByUser"`
	UpdatedAtMs   int64 `json:"updatedAtMs"`
}

// Paused reports whether new entries are paused at now.
func (s State) Paused(now time.Time) bool {
	return now.UnixMilli() < s.PauseUntilMs
}

// PauseUntil returns the pause deadline, zero when unset.
func (s State) PauseUntil() time.Time {
	if s.PauseUntilMs <= 0 {
		return time.Time{}
	}
	return utils.FromMillis(s.PauseUntilMs)
}

// Plane is the single owner of the operator switches.
type Plane struct {
	logger *zap.Logger
	store  storage.StateStore

	mu    sync.RWMutex
	state State
}

// New creates a control plane.
func New(logger *zap.Logger, store storage.StateStore) *Plane {
	return &Plane{
		logger: logger.Named("control"),
		store:  store,
	}
}

// Load restores persisted switches.
func (p *Plane) Load(ctx context.Context) error {
	var state State
	if _, err := p.store.GetState(ctx, StateKey, &state); err != nil {
		return fmt.Errorf("load control plane: %w", err)
	}
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	return nil
}

func (p *Plane) update(ctx context.Context, now time.Time, fn func(s *State)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(&p.state)
	p.state.UpdatedAtMs = now.UnixMilli()
	if err := p.store.SetState(ctx, StateKey, p.state); err != nil {
		return fmt.Errorf("persist control plane: %w", err)
	}
	return nil
}

// SetEmergencyStop turns the emergency stop on or off.
func (p *Plane) SetEmergencyStop(ctx context.Context, enabled bool, now time.Time) error {
	p.logger.Warn("Emergency stop updated", zap.Bool("enabled", enabled))
	return p.update(ctx, now, func(s *State) {
		s.EmergencyStop = enabled
	})
}

// PauseIndefinitely pauses new entries until resumed.
func (p *Plane) PauseIndefinitely(ctx context.Context, now time.Time) error {
	p.logger.Info("Trading paused by operator")
	return p.update(ctx, now, func(s *State) {
		s.PauseUntilMs = now.Add(indefinitePause).UnixMilli()
		s.PausedByUser = true
	})
}

// PauseUntil pauses new entries until the given time.
func (p *Plane) PauseUntil(ctx context.Context, until time.Time, now time.Time) error {
	ms := int64(0)
	if !until.IsZero() {
		ms = until.UnixMilli()
	}
	return p.update(ctx, now, func(s *State) {
		s.PauseUntilMs = ms
		s.PausedByUser = false
	})
}

// ExtendPause moves the pause deadline to until when that is later.
func (p *Plane) ExtendPause(ctx context.Context, until time.Time, now time.Time) error {
	p.mu.RLock()
	current := p.state.PauseUntilMs
	p.mu.RUnlock()
	if until.UnixMilli() <= current {
		return nil
	}
	return p.PauseUntil(ctx, until, now)
}

// Resume clears any pause. The emergency stop is left as is.
func (p *Plane) Resume(ctx context.Context, now time.Time) error {
	p.logger.Info("Trading resumed")
	return p.update(ctx, now, func(s *State) {
		s.PauseUntilMs = 0
		s.PausedByUser = false
	})
}

// Snapshot returns the current switches.
func (p *Plane) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}
