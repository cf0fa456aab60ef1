// Package workers provides a bounded goroutine pool for I/O fan-out.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	TaskTimeout     time.Duration // Deadline for individual tasks
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
}

// DefaultPoolConfig returns defaults sized for network-bound lookups.
func DefaultPoolConfig(name string, workers int) *PoolConfig {
	if workers <= 0 {
		workers = 4
	}
	return &PoolConfig{
		Name:            name,
		NumWorkers:      workers,
		QueueSize:       workers * 64,
		TaskTimeout:     15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	TasksSubmitted int64 `json:"tasksSubmitted"`
	TasksCompleted int64 `json:"tasksCompleted"`
	TasksFailed    int64 `json:"tasksFailed"`
	PanicRecovered int64 `json:"panicRecovered"`
	QueueLength    int   `json:"queueLength"`
}

// Pool manages a fixed set of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan job
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

type job struct {
	ctx  context.Context
	task Task
	done chan<- error
}

// NewPool creates a new worker pool. Call Start before submitting.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger.Named("workers").With(zap.String("pool", config.Name)),
		config:    config,
		taskQueue: make(chan job, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("Starting worker pool",
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queueSize", p.config.QueueSize),
	)
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.taskQueue:
			err := p.execute(j)
			if j.done != nil {
				j.done <- err
			}
		}
	}
}

// execute runs one task under the task deadline with panic recovery.
func (p *Pool) execute(j job) (err error) {
	ctx := j.ctx
	if ctx == nil {
		ctx = p.ctx
	}
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Worker recovered from panic", zap.Any("panic", r))
			err = &PanicError{Recovered: r}
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()

	return j.task.Execute(ctx)
}

// Submit queues a task without waiting for it.
func (p *Pool) Submit(task Task) error {
	return p.enqueue(job{task: task})
}

func (p *Pool) enqueue(j job) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- j:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait queues a task and waits for its result.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(job{ctx: ctx, task: task, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForEach runs fn for every index in [0, n) on the pool and waits for all of
// them. Errors are collected per index; a nil slice entry means success.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		done := make(chan error, 1)
		task := TaskFunc(func(ctx context.Context) error { return fn(ctx, i) })
		if err := p.enqueue(job{ctx: ctx, task: task, done: done}); err != nil {
			// Queue full or stopped: run inline so no item is skipped.
			errs[i] = p.execute(job{ctx: ctx, task: task})
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case errs[i] = <-done:
			case <-ctx.Done():
				errs[i] = ctx.Err()
			case <-p.ctx.Done():
				errs[i] = ErrPoolStopped
			}
		}()
	}
	wg.Wait()
	return errs
}

// Stop shuts the workers down. Queued tasks are dropped.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out", zap.Duration("timeout", p.config.ShutdownTimeout))
		return ErrShutdownTimeout
	}
}

// IsRunning returns whether the pool is running.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: p.submitted.Load(),
		TasksCompleted: p.completed.Load(),
		TasksFailed:    p.failed.Load(),
		PanicRecovered: p.panics.Load(),
		QueueLength:    len(p.taskQueue),
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Recovered)
}
