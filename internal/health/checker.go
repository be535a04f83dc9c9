// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"errors"
	"fmt"
	"orca/pkg/circuitbreaker"
	"strings"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is one named readiness check. A failing critical check makes the
// service unhealthy; a failing non-critical check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker runs readiness checks and caches the outcome briefly.
type Checker struct {
	checks  []Check
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker.
func NewChecker(checks ...Check) *Checker {
	return &Checker{
		checks:  checks,
		timeout: 5 * time.Second,
	}
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the service is ready to accept traffic.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	if len(c.checks) == 0 {
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"config": {Status: StatusUnhealthy, Message: "no readiness checks configured"},
			},
		}
	}

	checks := make(map[string]CheckResult, len(c.checks))
	overall := StatusHealthy
	for _, check := range c.checks {
		result := c.run(ctx, check)
		checks[check.Name] = result
		switch {
		case result.Status == StatusHealthy:
		case check.Critical:
			overall = StatusUnhealthy
		case overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	response := &Response{
		Status: overall,
		Checks: checks,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := check.Run(ctx); err != nil {
		status := StatusDegraded
		if check.Critical {
			status = StatusUnhealthy
		}
		return CheckResult{Status: status, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsReady reports whether the service should receive traffic. A degraded
// service is still ready.
func (r *Response) IsReady() bool {
	return r.Status != StatusUnhealthy
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}

// Accepter is implemented by components that can refuse new work.
type Accepter interface {
	Accepting() bool
}

// AcceptingCheck fails when a is not accepting work.
func AcceptingCheck(name string, critical bool, a Accepter) Check {
	return Check{
		Name:     name,
		Critical: critical,
		Run: func(context.Context) error {
			if !a.Accepting() {
				return errors.New("not accepting work")
			}
			return nil
		},
	}
}

// BreakerCheck fails while b is open.
func BreakerCheck(name string, critical bool, b *circuitbreaker.Breaker) Check {
	return Check{
		Name:     name,
		Critical: critical,
		Run: func(context.Context) error {
			if st := b.State(); st == circuitbreaker.Open {
				return fmt.Errorf("circuit breaker %s", st)
			}
			return nil
		},
	}
}

// RegistryCheck fails while any breaker in reg is open and names the open keys.
func RegistryCheck(name string, critical bool, reg *circuitbreaker.Registry) Check {
	return Check{
		Name:     name,
		Critical: critical,
		Run: func(context.Context) error {
			if reg == nil {
				return nil
			}
			if open := reg.OpenKeys(); len(open) > 0 {
				return fmt.Errorf("circuit breaker open for %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}
