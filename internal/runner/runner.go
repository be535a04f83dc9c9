// Package runner executes orchestration tasks in the background on a bounded worker pool.
package runner

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned when the queue is full and the task is rejected.
	ErrQueueFull = errors.New("runner queue full, task rejected")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("runner is closed")
)

// Runner schedules tasks for asynchronous execution.
type Runner interface {
	// Submit queues a task. Non-blocking.
	// Returns ErrQueueFull or ErrClosed if the task cannot be queued.
	Submit(task Task) error

	// Stats returns current runner statistics.
	Stats() Stats

	// Close stops accepting tasks and drains the queue. When ctx expires
	// first, running tasks are cancelled and ctx.Err() is returned.
	Close(ctx context.Context) error
}

// Task is one unit of background work.
type Task struct {
	JobID string
	Run   func(ctx context.Context) error
}

// Stats holds runner statistics.
type Stats struct {
	QueueDepth int   // tasks waiting for a worker
	InFlight   int64 // tasks currently running
	Submitted  int64 // tasks accepted
	Succeeded  int64
	Failed     int64 // returned an error
	Panicked   int64 // recovered from a panic
	Dropped    int64 // rejected because the queue was full
	Workers    int
	Closed     bool
}
