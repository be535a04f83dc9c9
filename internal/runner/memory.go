package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryRunner is an in-memory task runner.
// Tasks are queued in a bounded channel and executed by a fixed worker pool.
// If the buffer is full, tasks are rejected (logged + metric incremented).
// A panicking task is recovered and counted; it never takes the process down.
type MemoryRunner struct {
	queue   chan Task
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	// base is the parent of every task context; cancelled when Close times out.
	base       context.Context
	cancelBase context.CancelFunc

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	dropped   atomic.Int64
	inFlight  atomic.Int64

	// mu orders Submit against Close so no task is queued after the drain starts.
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// MetricsRecorder is an optional interface for recording runner metrics.
type MetricsRecorder interface {
	RecordRunnerDropped(ctx context.Context)
	RecordRunnerPanic(ctx context.Context)
	RecordRunnerQueueSize(ctx context.Context, size int64)
}

// NewMemory creates a runner and starts its workers.
func NewMemory(cfg Config, metrics MetricsRecorder) *MemoryRunner {
	cfg = cfg.withDefaults()
	base, cancel := context.WithCancel(context.Background())

	r := &MemoryRunner{
		queue:      make(chan Task, cfg.BufferSize),
		config:     cfg,
		logger:     slog.With("component", "runner"),
		metrics:    metrics,
		base:       base,
		cancelBase: cancel,
		shutdown:   make(chan struct{}),
	}

	r.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go r.worker()
	}

	if metrics != nil {
		go r.reportQueueSize()
	}

	r.logger.Info("Runner started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return r
}

// reportQueueSize periodically reports the queue size metric.
func (r *MemoryRunner) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.metrics.RecordRunnerQueueSize(context.Background(), int64(len(r.queue)))
		}
	}
}

// Submit queues a task for a worker.
func (r *MemoryRunner) Submit(task Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	select {
	case r.queue <- task:
		r.submitted.Add(1)
		return nil
	default:
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RecordRunnerDropped(context.Background())
		}
		r.logger.Warn("Task rejected, queue full", "jobId", task.JobID, "buffer", r.config.BufferSize)
		return ErrQueueFull
	}
}

// Accepting reports whether Submit may succeed: the runner is open and the queue has room.
func (r *MemoryRunner) Accepting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.closed && len(r.queue) < cap(r.queue)
}

// Stats returns current runner statistics.
func (r *MemoryRunner) Stats() Stats {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()

	return Stats{
		QueueDepth: len(r.queue),
		InFlight:   r.inFlight.Load(),
		Submitted:  r.submitted.Load(),
		Succeeded:  r.succeeded.Load(),
		Failed:     r.failed.Load(),
		Panicked:   r.panicked.Load(),
		Dropped:    r.dropped.Load(),
		Workers:    r.config.Workers,
		Closed:     closed,
	}
}

// Close gracefully shuts down the runner.
func (r *MemoryRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // already closed
	}
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("Runner shutting down", "queued", len(r.queue), "inFlight", r.inFlight.Load())

	// Signal workers to drain and stop
	close(r.shutdown)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancelBase()
		r.logger.Info("Runner shutdown complete",
			"succeeded", r.succeeded.Load(),
			"failed", r.failed.Load(),
			"panicked", r.panicked.Load(),
			"dropped", r.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		// Remaining tasks still run to completion, but with a cancelled context.
		r.cancelBase()
		r.logger.Warn("Runner shutdown timed out, cancelling tasks",
			"remaining", len(r.queue), "inFlight", r.inFlight.Load())
		return ctx.Err()
	}
}

// worker runs tasks from the queue.
func (r *MemoryRunner) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.shutdown:
			r.drainQueue()
			return
		case task := <-r.queue:
			r.run(task)
		}
	}
}

// drainQueue runs remaining tasks after the shutdown signal.
func (r *MemoryRunner) drainQueue() {
	for {
		select {
		case task := <-r.queue:
			r.run(task)
		default:
			return // queue empty
		}
	}
}

// run executes one task with a timeout, recovering from panics.
func (r *MemoryRunner) run(task Task) {
	ctx, cancel := context.WithTimeout(r.base, r.config.TaskTimeout)
	defer cancel()

	logger := r.logger.With("jobId", task.JobID)
	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.panicked.Add(1)
			if r.metrics != nil {
				r.metrics.RecordRunnerPanic(ctx)
			}
			logger.Error("Task panicked", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
		}
	}()

	if err := task.Run(ctx); err != nil {
		r.failed.Add(1)
		logger.Debug("Task failed", "error", err, "duration", time.Since(start))
		return
	}
	r.succeeded.Add(1)
	logger.Debug("Task completed", "duration", time.Since(start))
}

// Verify MemoryRunner implements Runner
var _ Runner = (*MemoryRunner)(nil)
