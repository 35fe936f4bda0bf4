package config

import (
	"fmt"

	"github.com/iron-manus/jarvis"
)

// DefaultMaxContentLength is the hard byte cap on response bodies (2 MiB).
const DefaultMaxContentLength = 2 * 1024 * 1024

// FetchConfig holds the outbound HTTP options shared by all fetches.
type FetchConfig struct {
	// MaxContentLength is the hard cap, in bytes, applied while streaming
	// a response body. Reading stops at the cap; the truncated body is used.
	MaxContentLength int64
	// UserAgent is sent on every outbound request.
	UserAgent string
}

// SetDefaults applies fetch defaults.
func (c *FetchConfig) SetDefaults() {
	if c.MaxContentLength == 0 {
		c.MaxContentLength = DefaultMaxContentLength
	}
	if c.UserAgent == "" {
		c.UserAgent = "Iron-Manus-MCP/" + jarvis.Version
	}
}

func (c *FetchConfig) applyEnv(lookup lookupFunc) error {
	// MAX_BODY_LENGTH is the historical alias; MAX_CONTENT_LENGTH wins
	// when both are set.
	if err := envInt64(lookup, "MAX_BODY_LENGTH", &c.MaxContentLength); err != nil {
		return err
	}
	if err := envInt64(lookup, "MAX_CONTENT_LENGTH", &c.MaxContentLength); err != nil {
		return err
	}
	envString(lookup, "USER_AGENT", &c.UserAgent)
	return nil
}

// Validate checks the fetch section.
func (c *FetchConfig) Validate() error {
	if c.MaxContentLength < 1024 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be at least 1024 bytes, got %d", c.MaxContentLength)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("USER_AGENT must not be empty")
	}
	return nil
}
