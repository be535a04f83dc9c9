package runner

import "time"

// Config holds configuration for the in-memory runner.
type Config struct {
	BufferSize  int           // queued tasks (default: 1000)
	Workers     int           // concurrent tasks (default: 4)
	TaskTimeout time.Duration // per task (default: 5m)
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	return c
}
