// Package concurrency provides the bounded-concurrency worker pool used
// for per-order fan-out in the trading core: initial ladder placement and
// bulk and orphan cancellation on stop.
package concurrency

import (
	"fmt"
	"time"

	"gridcore/internal/corelog"

	"github.com/alitto/pond"
)

// PoolConfig holds configuration for a worker pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // if true, Submit returns an error instead of blocking when full
}

// WorkerPool wraps alitto/pond with a standardized config and panic
// recovery so one failing task never crashes the supervisor that owns
// the pool.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger corelog.Logger
}

// NewWorkerPool creates a worker pool. Pass MaxWorkers 10 for the
// bounded-concurrency-of-10 default used across the trading core.
func NewWorkerPool(cfg PoolConfig, logger corelog.Logger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	l := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			l.Error("worker pool panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{pool: pool, config: cfg, logger: l}
}

// Submit adds a task to the pool.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool %q is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait submits a task and blocks until it completes.
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.pool.Submit(func() {
		task()
		close(done)
	})
	<-done
}

// Stop waits for queued and running tasks to finish, then shuts the pool
// down.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats returns pool statistics for observability.
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
	}
}
