package runner

import (
	"context"
	"errors"
	"orca/internal/testutil"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	dropped atomic.Int64
	panics  atomic.Int64
}

func (m *fakeMetrics) RecordRunnerDropped(context.Context)          { m.dropped.Add(1) }
func (m *fakeMetrics) RecordRunnerPanic(context.Context)            { m.panics.Add(1) }
func (m *fakeMetrics) RecordRunnerQueueSize(context.Context, int64) {}

func closeRunner(t *testing.T, r *MemoryRunner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, r.Close(ctx))
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	assert.Equal(t, 1000, cfg.BufferSize)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.TaskTimeout)

	cfg = Config{BufferSize: 3, Workers: 1, TaskTimeout: time.Second}.withDefaults()
	assert.Equal(t, Config{BufferSize: 3, Workers: 1, TaskTimeout: time.Second}, cfg)
}

func TestMemoryRunner_RunsTasks(t *testing.T) {
	t.Parallel()
	r := NewMemory(Config{Workers: 2, BufferSize: 10}, nil)
	defer closeRunner(t, r)

	var ran atomic.Int64
	for i := range 5 {
		require.NoError(t, r.Submit(Task{JobID: "job", Run: func(ctx context.Context) error {
			ran.Add(1)
			if i == 0 {
				return errors.New("boom")
			}
			return nil
		}}))
	}

	testutil.MustWaitFor(t, func() bool {
		s := r.Stats()
		return s.Succeeded+s.Failed == 5
	})
	stats := r.Stats()
	assert.Equal(t, int64(5), ran.Load())
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(4), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 2, stats.Workers)
}

func TestMemoryRunner_QueueFull(t *testing.T) {
	t.Parallel()
	metrics := &fakeMetrics{}
	r := NewMemory(Config{Workers: 1, BufferSize: 1}, metrics)
	defer closeRunner(t, r)

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{JobID: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, r.Submit(block))
	<-started

	require.NoError(t, r.Submit(Task{JobID: "queued", Run: func(context.Context) error { return nil }}))
	assert.False(t, r.Accepting())

	err := r.Submit(Task{JobID: "rejected", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), r.Stats().Dropped)
	assert.Equal(t, int64(1), metrics.dropped.Load())

	close(release)
	testutil.MustWaitFor(t, func() bool { return r.Stats().Succeeded == 2 })
	assert.True(t, r.Accepting())
}

func TestMemoryRunner_RecoversPanics(t *testing.T) {
	t.Parallel()
	metrics := &fakeMetrics{}
	r := NewMemory(Config{Workers: 1, BufferSize: 10}, metrics)
	defer closeRunner(t, r)

	require.NoError(t, r.Submit(Task{JobID: "bad", Run: func(context.Context) error {
		panic("unexpected nil map")
	}}))
	var after atomic.Bool
	require.NoError(t, r.Submit(Task{JobID: "good", Run: func(context.Context) error {
		after.Store(true)
		return nil
	}}))

	testutil.MustWaitFor(t, after.Load)
	assert.Equal(t, int64(1), r.Stats().Panicked)
	assert.Equal(t, int64(1), metrics.panics.Load())
	assert.Equal(t, int64(0), r.Stats().InFlight)
}

func TestMemoryRunner_TaskTimeout(t *testing.T) {
	t.Parallel()
	r := NewMemory(Config{Workers: 1, BufferSize: 1, TaskTimeout: 20 * time.Millisecond}, nil)
	defer closeRunner(t, r)

	errCh := make(chan error, 1)
	require.NoError(t, r.Submit(Task{JobID: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestMemoryRunner_CloseDrainsQueue(t *testing.T) {
	t.Parallel()
	r := NewMemory(Config{Workers: 1, BufferSize: 10}, nil)

	var ran atomic.Int64
	for range 5 {
		require.NoError(t, r.Submit(Task{Run: func(context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		}}))
	}

	closeRunner(t, r)
	assert.Equal(t, int64(5), ran.Load())
	assert.True(t, r.Stats().Closed)

	assert.ErrorIs(t, r.Submit(Task{Run: func(context.Context) error { return nil }}), ErrClosed)
	assert.NoError(t, r.Close(context.Background()), "second close is a no-op")
}

func TestMemoryRunner_CloseTimeoutCancelsTasks(t *testing.T) {
	t.Parallel()
	r := NewMemory(Config{Workers: 1, BufferSize: 1}, nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, r.Submit(Task{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("running task was not cancelled after close timeout")
	}
}

func TestMemoryRunner_ConcurrentSubmitAndClose(t *testing.T) {
	t.Parallel()
	r := NewMemory(Config{Workers: 4, BufferSize: 1000}, nil)

	var accepted, ran atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				err := r.Submit(Task{Run: func(context.Context) error {
					ran.Add(1)
					return nil
				}})
				if err == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	closeRunner(t, r)
	wg.Wait()

	assert.Equal(t, accepted.Load(), ran.Load(), "every accepted task runs")
}
