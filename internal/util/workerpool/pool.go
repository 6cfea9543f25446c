// Package workerpool runs background tasks on a bounded set of goroutines.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work executed by the pool
type Task struct {
	ID string
	Fn func(context.Context) error
	// Context scopes the task. The pool's own context, cancelled by Stop, is
	// used when nil.
	Context context.Context
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded
// queue. Submission never blocks.
type WorkerPool struct {
	name    string
	workers int
	tasks   chan Task
	logger  *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	active    atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewWorkerPool starts a pool
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		name:    cfg.Name,
		workers: cfg.MaxWorkers,
		tasks:   make(chan Task, cfg.QueueSize),
		logger:  cfg.Logger.With(zap.String("pool", cfg.Name)),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run(i)
	}

	p.logger.Info("Worker pool started",
		zap.Int("max_workers", p.workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

// Name returns the pool name
func (p *WorkerPool) Name() string {
	return p.name
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.execute(id, task)
		}
	}
}

func (p *WorkerPool) execute(workerID int, task Task) {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}
	if err := ctx.Err(); err != nil {
		p.failed.Add(1)
		p.logger.Debug("Skipping cancelled task",
			zap.String("task_id", task.ID),
			zap.Error(err))
		return
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	if err := invoke(ctx, task.Fn); err != nil {
		p.failed.Add(1)
		p.logger.Error("Task failed",
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// invoke runs fn, turning a panic into an error
func invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Submit enqueues a task, failing when the queue is full or the pool stopped
func (p *WorkerPool) Submit(task Task) error {
	if p.ctx.Err() != nil {
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q is stopped", p.name)
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q queue is full", p.name)
	}
}

// TrySubmit enqueues a task and reports whether it was accepted
func (p *WorkerPool) TrySubmit(task Task) bool {
	return p.Submit(task) == nil
}

// Stop cancels the pool context and waits up to timeout for running tasks.
// Queued tasks that have not started are dropped.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.Duration("timeout", timeout))
		}
	})
	return err
}

// Stats is a point-in-time view of a pool
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.workers,
		ActiveWorkers:  int(p.active.Load()),
		QueueSize:      cap(p.tasks),
		QueuedTasks:    len(p.tasks),
		TotalTasks:     p.submitted.Load(),
		CompletedTasks: p.completed.Load(),
		FailedTasks:    p.failed.Load(),
		RejectedTasks:  p.rejected.Load(),
	}
}
