// Package events records diagnostic events durably and fans them out to subscribers.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"go.uber.org/zap"
)

// Event types emitted by the controller.
const (
	TypeTickSummary          = "tick_summary"
	TypeLoopError            = "loop_error"
	TypeIntentRejected       = "intent_rejected_verifier"
	TypeIntentBlockedRisk    = "intent_blocked_risk"
	TypeEntryFailed          = "entry_failed"
	TypeEntryPlanFailed      = "entry_plan_failed"
	TypePositionOpened       = "position_opened"
	TypePositionClosed       = "position_closed"
	TypeExitFailed           = "exit_failed"
	TypeGuardPause           = "performance_guard_pause"
	TypeGovernanceTransition = "governance_transition"
	TypeControlAction        = "control_action"
)

// Handler processes one event.
type Handler func(event types.Event) error

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType string
	Handler   Handler
	active    atomic.Bool
}

// IsActive returns whether subscription is active.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// Stats tracks bus throughput.
type Stats struct {
	EventsRecorded    int64 `json:"eventsRecorded"`
	EventsDelivered   int64 `json:"eventsDelivered"`
	EventsDropped     int64 `json:"eventsDropped"`
	PersistErrors     int64 `json:"persistErrors"`
	HandlerErrors     int64 `json:"handlerErrors"`
	ActiveSubscribers int64 `json:"activeSubscribers"`
}

// Config configures the bus.
type Config struct {
	NumWorkers int `json:"numWorkers"`
	BufferSize int `json:"bufferSize"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{NumWorkers: 2, BufferSize: 1024}
}

// Bus persists every recorded event and delivers it to subscribers asynchronously.
type Bus struct {
	logger *zap.Logger
	store  storage.EventStore

	mu             sync.RWMutex
	subscribers    map[string][]*Subscription
	allSubscribers []*Subscription

	eventChan chan types.Event

	recorded          atomic.Int64
	delivered         atomic.Int64
	dropped           atomic.Int64
	persistErrors     atomic.Int64
	handlerErrors     atomic.Int64
	activeSubscribers atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewBus creates a bus and starts its delivery workers. store may be nil.
func NewBus(logger *zap.Logger, store storage.EventStore, cfg Config) *Bus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = DefaultConfig().NumWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:      logger.Named("events"),
		store:       store,
		subscribers: make(map[string][]*Subscription),
		eventChan:   make(chan types.Event, cfg.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			b.deliver(event)
		}
	}
}

// Record persists an event and queues it for subscribers.
// A persistence failure is returned but delivery still happens.
func (b *Bus) Record(ctx context.Context, eventType string, payload map[string]any) error {
	event := types.Event{
		ID:        utils.GenerateEventID(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	b.recorded.Add(1)

	var persistErr error
	if b.store != nil {
		if err := b.store.RecordEvent(ctx, &event); err != nil {
			b.persistErrors.Add(1)
			persistErr = fmt.Errorf("record event %s: %w", eventType, err)
			b.logger.Warn("Event persist failed", zap.String("type", eventType), zap.Error(err))
		}
	}

	b.Publish(event)
	return persistErr
}

// Publish queues an event for subscribers without persisting it. Drops when the buffer is full.
func (b *Bus) Publish(event types.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.eventChan <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event dropped - buffer full", zap.String("type", event.Type))
	}
}

func (b *Bus) deliver(event types.Event) {
	b.mu.RLock()
	subs := append([]*Subscription{}, b.subscribers[event.Type]...)
	subs = append(subs, b.allSubscribers...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		b.executeHandler(sub, event)
	}
	b.delivered.Add(1)
}

// executeHandler runs a handler with panic recovery.
func (b *Bus) executeHandler(sub *Subscription, event types.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerErrors.Add(1)
			b.logger.Error("Event handler panic",
				zap.String("subscription", sub.ID),
				zap.String("type", event.Type),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		b.handlerErrors.Add(1)
		b.logger.Warn("Event handler error",
			zap.String("subscription", sub.ID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, handler Handler) *Subscription {
	sub := b.newSubscription(eventType, handler)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()
	return sub
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	sub := b.newSubscription("*", handler)

	b.mu.Lock()
	b.allSubscribers = append(b.allSubscribers, sub)
	b.mu.Unlock()
	return sub
}

func (b *Bus) newSubscription(eventType string, handler Handler) *Subscription {
	sub := &Subscription{
		ID:        utils.GenerateID("sub"),
		EventType: eventType,
		Handler:   handler,
	}
	sub.active.Store(true)
	b.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub.active.CompareAndSwap(true, false) {
		b.activeSubscribers.Add(-1)
	}
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	return Stats{
		EventsRecorded:    b.recorded.Load(),
		EventsDelivered:   b.delivered.Load(),
		EventsDropped:     b.dropped.Load(),
		PersistErrors:     b.persistErrors.Load(),
		HandlerErrors:     b.handlerErrors.Load(),
		ActiveSubscribers: b.activeSubscribers.Load(),
	}
}

// Close stops the delivery workers. Queued events may be discarded.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.cancel()
	b.wg.Wait()
}
