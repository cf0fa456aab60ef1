package events_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/events"
	"github.com/atlas-desktop/sol-autotrader/internal/storage"
	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordPersistsAndDelivers(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := events.NewBus(zap.NewNop(), store, events.DefaultConfig())
	defer bus.Close()

	var typed, all atomic.Int32
	bus.Subscribe(events.TypeExitFailed, func(e types.Event) error {
		typed.Add(1)
		return nil
	})
	bus.SubscribeAll(func(e types.Event) error {
		all.Add(1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, bus.Record(ctx, events.TypeExitFailed, map[string]any{"mint": "M"}))
	require.NoError(t, bus.Record(ctx, events.TypeTickSummary, nil))

	require.Eventually(t, func() bool {
		return typed.Load() == 1 && all.Load() == 2
	}, time.Second, 5*time.Millisecond)

	stored, err := store.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotEmpty(t, stored[0].ID)

	stats := bus.Stats()
	assert.Equal(t, int64(2), stats.EventsRecorded)
	assert.Equal(t, int64(2), stats.ActiveSubscribers)
}

func TestHandlerFailuresAreContained(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil, events.DefaultConfig())
	defer bus.Close()

	var after atomic.Int32
	bus.SubscribeAll(func(e types.Event) error { panic("boom") })
	bus.SubscribeAll(func(e types.Event) error { return errors.New("nope") })
	bus.SubscribeAll(func(e types.Event) error {
		after.Add(1)
		return nil
	})

	require.NoError(t, bus.Record(context.Background(), events.TypeLoopError, nil))
	require.Eventually(t, func() bool { return after.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), bus.Stats().HandlerErrors)
}

func TestUnsubscribe(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil, events.Config{NumWorkers: 1, BufferSize: 4})
	defer bus.Close()

	var calls atomic.Int32
	sub := bus.SubscribeAll(func(e types.Event) error {
		calls.Add(1)
		return nil
	})
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	assert.False(t, sub.IsActive())
	assert.Equal(t, int64(0), bus.Stats().ActiveSubscribers)

	require.NoError(t, bus.Record(context.Background(), events.TypeTickSummary, nil))
	require.Eventually(t, func() bool { return bus.Stats().EventsDelivered == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, calls.Load())
}
