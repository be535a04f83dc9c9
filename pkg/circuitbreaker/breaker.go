// Package circuitbreaker fails calls to an unhealthy collaborator fast.
//
// A breaker counts consecutive failures. Once the threshold is reached it
// opens and rejects calls with ErrOpen until the cooldown elapses, then lets a
// single probe through. A successful probe closes it again.
//
// States:
//   - Closed: calls allowed
//   - Open: calls rejected
//   - HalfOpen: one probe in flight
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // calls allowed
	Open                  // calls rejected
	HalfOpen              // probing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // consecutive failures before opening (default: 5)
	Cooldown  time.Duration // time open before a probe is allowed (default: 30s)

	// IsFailure decides whether an error returned through Do counts against
	// the breaker. Defaults to any error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange is called outside the lock after every state change.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.IsFailure == nil {
		c.IsFailure = defaultIsFailure
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Breaker guards a single collaborator.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a breaker. name identifies it in errors and state-change callbacks.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: Closed,
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// Do runs fn if the breaker allows it and records the outcome.
// A rejected call returns an error wrapping ErrOpen without running fn.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case b.cfg.IsFailure(err):
		b.RecordFailure()
	default:
		b.release()
	}
	return err
}

// Allow reports whether a call should be attempted. In half-open state only
// one caller is let through until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := true
	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.lastFailure) < b.cfg.Cooldown {
			allowed = false
			break
		}
		b.state = HalfOpen
		b.probing = true
	case HalfOpen:
		if b.probing {
			allowed = false
		} else {
			b.probing = true
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probing = false
	b.state = Closed
	b.mu.Unlock()

	b.notify(from, Closed)
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	b.lastFailure = b.cfg.Now()
	b.probing = false
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.state = Open
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// release frees the half-open probe slot without judging the outcome.
func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()

	b.notify(from, Closed)
}
