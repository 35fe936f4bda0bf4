package config

import (
	"fmt"
	"time"
)

// KnowledgeConfig governs the KNOWLEDGE-phase auto-connection pipeline:
// how many endpoints are queried in parallel, how long each fetch may take,
// and how results are filtered and truncated.
type KnowledgeConfig struct {
	// MaxConcurrency bounds parallel fetches during a single gather.
	MaxConcurrency int
	// TimeoutMS is the per-fetch deadline in milliseconds.
	TimeoutMS int
	// ConfidenceThreshold drops fetch results scored below it.
	ConfidenceThreshold float64
	// MaxResponseSize truncates each body to this many characters.
	MaxResponseSize int
	// AutoConnectionEnabled toggles automatic endpoint fetching entirely.
	AutoConnectionEnabled bool
}

// SetDefaults applies knowledge defaults.
func (c *KnowledgeConfig) SetDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 2
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = 4000
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.4
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = 5000
	}
	c.AutoConnectionEnabled = true
}

func (c *KnowledgeConfig) applyEnv(lookup lookupFunc) error {
	if err := envInt(lookup, "KNOWLEDGE_MAX_CONCURRENCY", &c.MaxConcurrency); err != nil {
		return err
	}
	if err := envInt(lookup, "KNOWLEDGE_TIMEOUT_MS", &c.TimeoutMS); err != nil {
		return err
	}
	if err := envFloat(lookup, "KNOWLEDGE_CONFIDENCE_THRESHOLD", &c.ConfidenceThreshold); err != nil {
		return err
	}
	if err := envInt(lookup, "KNOWLEDGE_MAX_RESPONSE_SIZE", &c.MaxResponseSize); err != nil {
		return err
	}
	return envBool(lookup, "AUTO_CONNECTION_ENABLED", &c.AutoConnectionEnabled)
}

// Validate checks the knowledge section.
func (c *KnowledgeConfig) Validate() error {
	if c.MaxConcurrency < 1 || c.MaxConcurrency > 10 {
		return fmt.Errorf("KNOWLEDGE_MAX_CONCURRENCY must be between 1 and 10, got %d", c.MaxConcurrency)
	}
	if c.TimeoutMS < 1000 || c.TimeoutMS > 30000 {
		return fmt.Errorf("KNOWLEDGE_TIMEOUT_MS must be between 1000 and 30000, got %d", c.TimeoutMS)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("KNOWLEDGE_CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.MaxResponseSize <= 0 {
		return fmt.Errorf("KNOWLEDGE_MAX_RESPONSE_SIZE must be positive, got %d", c.MaxResponseSize)
	}
	return nil
}

// Timeout returns the per-fetch deadline as a duration.
func (c *KnowledgeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
