package workers_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startPool(t *testing.T, n int) *workers.Pool {
	t.Helper()
	p := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test", n))
	p.Start()
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestForEachRunsEveryIndex(t *testing.T) {
	p := startPool(t, 3)

	var sum atomic.Int64
	errs := p.ForEach(context.Background(), 10, func(ctx context.Context, i int) error {
		sum.Add(int64(i))
		if i == 4 {
			return errors.New("bad item")
		}
		return nil
	})

	require.Len(t, errs, 10)
	assert.Equal(t, int64(45), sum.Load())
	for i, err := range errs {
		if i == 4 {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestPanicIsRecovered(t *testing.T) {
	p := startPool(t, 1)

	err := p.SubmitWait(context.Background(), workers.TaskFunc(func(ctx context.Context) error {
		panic("boom")
	}))
	var pe *workers.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(1), p.Stats().PanicRecovered)
	assert.Equal(t, int64(1), p.Stats().TasksFailed)
}

func TestTaskDeadline(t *testing.T) {
	cfg := workers.DefaultPoolConfig("deadline", 1)
	cfg.TaskTimeout = 20 * time.Millisecond
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	defer p.Stop()

	err := p.SubmitWait(context.Background(), workers.TaskFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitAfterStop(t *testing.T) {
	p := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("stopped", 1))
	p.Start()
	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())

	err := p.Submit(workers.TaskFunc(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, workers.ErrPoolStopped)
}
