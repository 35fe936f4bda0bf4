package config

import (
	"fmt"
	"time"
)

// RateLimitConfig shapes outbound HTTP traffic through a token bucket.
// The bucket refills RequestsPerMinute tokens per window and allows bursts
// up to the refill rate.
type RateLimitConfig struct {
	RequestsPerMinute int
	WindowMS          int
}

// SetDefaults applies rate-limit defaults.
func (c *RateLimitConfig) SetDefaults() {
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 5
	}
	if c.WindowMS == 0 {
		c.WindowMS = 60000
	}
}

func (c *RateLimitConfig) applyEnv(lookup lookupFunc) error {
	if err := envInt(lookup, "RATE_LIMIT_REQUESTS_PER_MINUTE", &c.RequestsPerMinute); err != nil {
		return err
	}
	return envInt(lookup, "RATE_LIMIT_WINDOW_MS", &c.WindowMS)
}

// Validate checks the rate-limit section.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS_PER_MINUTE must be at least 1, got %d", c.RequestsPerMinute)
	}
	if c.WindowMS < 1000 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MS must be at least 1000, got %d", c.WindowMS)
	}
	return nil
}

// Window returns the refill window as a duration.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}
