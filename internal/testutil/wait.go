// Package testutil provides polling helpers for asynchronous tests.
package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

// WaitOptions configures polling.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for the polling helpers.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func defaultOptions() WaitOptions {
	return WaitOptions{
		Timeout:  5 * time.Second,
		Interval: 10 * time.Millisecond,
	}
}

// Poll calls fetch until it reports done or the timeout is reached, and
// returns the last value with whether it was done.
func Poll[T any](tb testing.TB, fetch func() (T, bool), opts ...WaitOption) (T, bool) {
	tb.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for {
		v, done := fetch()
		if done {
			return v, true
		}
		if !time.Now().Before(deadline) {
			return v, false
		}
		time.Sleep(o.Interval)
	}
}

// MustPoll is Poll that fails the test on timeout.
func MustPoll[T any](tb testing.TB, fetch func() (T, bool), opts ...WaitOption) T {
	tb.Helper()
	v, done := Poll(tb, fetch, opts...)
	if !done {
		tb.Fatalf("timed out polling, last value: %+v", v)
	}
	return v
}

// WaitFor polls until condition returns true or timeout is reached.
// Returns true if condition was met, false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	_, done := Poll(tb, func() (struct{}, bool) {
		return struct{}{}, condition()
	}, opts...)
	return done
}

// WaitForCount polls until counter reaches the target value or timeout is reached.
func WaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool {
		return counter.Load() >= target
	}, opts...)
}

// MustWaitFor polls until condition returns true or fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}
