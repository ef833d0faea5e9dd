// Package throttle adapts how often a watcher polls to how far behind it is.
package throttle

import "time"

// Config holds configuration for adaptive polling.
type Config struct {
	// Enabled controls whether adaptive throttling is active
	Enabled bool

	// Interval bounds
	MinInterval time.Duration // Fastest polling rate (default: 200ms)
	MaxInterval time.Duration // Slowest polling rate (default: 60s)

	// Lag thresholds in blocks
	LagNormalThreshold int64 // Below this = base interval (default: 5)
	LagBurstThreshold  int64 // Above this = max speed (default: 500)
}

// DefaultConfig returns sensible defaults for adaptive polling.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		MinInterval:        200 * time.Millisecond,
		MaxInterval:        60 * time.Second,
		LagNormalThreshold: 5,
		LagBurstThreshold:  500,
	}
}

// Controller computes the delay before a watcher's next tick.
type Controller struct {
	base   time.Duration
	config Config

	// Current state (for status)
	current time.Duration
}

// NewController creates a controller around the configured poll interval.
func NewController(base time.Duration, config Config) *Controller {
	return &Controller{
		base:    base,
		config:  config,
		current: base,
	}
}

// ComputeInterval calculates the next poll interval from the lag after a tick.
//
// Algorithm:
//   - lag < normal: base interval (at chain head, save API calls)
//   - lag < burst: min interval × 2 (catching up)
//   - lag ≥ burst: min interval (maximum catchup speed)
func (c *Controller) ComputeInterval(lag int64) time.Duration {
	if !c.config.Enabled {
		return c.base
	}

	var interval time.Duration
	switch {
	case lag < c.config.LagNormalThreshold:
		interval = c.base
	case lag < c.config.LagBurstThreshold:
		interval = c.config.MinInterval * 2
	default:
		interval = c.config.MinInterval
	}

	// Enforce bounds; a base below the minimum is honoured as is.
	if interval < c.config.MinInterval && interval != c.base {
		interval = c.config.MinInterval
	}
	if c.config.MaxInterval > 0 && interval > c.config.MaxInterval {
		interval = c.config.MaxInterval
	}
	if interval > c.base {
		interval = c.base
	}

	c.current = interval
	return interval
}

// Current returns the last computed interval.
func (c *Controller) Current() time.Duration {
	return c.current
}
