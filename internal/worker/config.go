// Package worker runs the bounded pool of goroutines that pull jobs off the
// queue and execute them through the scraper dispatch layer.
package worker

import (
	"errors"
	"time"
)

const (
	DefaultPoolSize            = 10
	DefaultDrainTimeout        = 30 * time.Second
	DefaultOrphanRecoveryAfter = 10 * time.Minute
	MinPoolSize                = 1
	MaxPoolSize                = 100
)

// Config holds configuration for the worker pool.
type Config struct {
	// PoolSize is the number of concurrent workers.
	PoolSize int

	// DrainTimeout is the maximum time to wait for in-flight jobs to finish
	// during a graceful shutdown.
	DrainTimeout time.Duration

	// OrphanRecoveryAfter is how long a job may have been RUNNING, measured
	// from its started_at, before RequeueOrphans reclaims it at startup.
	OrphanRecoveryAfter time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:            DefaultPoolSize,
		DrainTimeout:        DefaultDrainTimeout,
		OrphanRecoveryAfter: DefaultOrphanRecoveryAfter,
	}
}

// Validate checks the configuration's bounds.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 100")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.OrphanRecoveryAfter <= 0 {
		c.OrphanRecoveryAfter = DefaultOrphanRecoveryAfter
	}
	return nil
}
