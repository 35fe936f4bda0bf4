// Package config loads and validates the Iron Manus server configuration
// from the process environment.
//
// Configuration is loaded exactly once at startup: optional env files
// (.env.local, .env) are merged into the process environment, defaults are
// applied, environment overrides are read, and the result is validated.
// A config that passed Validate is never mutated afterwards; Validate itself
// is idempotent and side-effect free, so it can be called repeatedly (tests
// rely on this).
//
// Every option has an environment-variable name, a default, and a range.
// Out-of-range values are fatal at startup; softer misconfigurations are
// surfaced through Warnings.
package config

import (
	"fmt"
	"os"
)

// Environment names recognized in ENVIRONMENT.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the root configuration for the Iron Manus server.
// Construct via Load; the zero value is not usable.
type Config struct {
	Runtime       RuntimeConfig
	Knowledge     KnowledgeConfig
	RateLimit     RateLimitConfig
	Fetch         FetchConfig
	Verification  VerificationConfig
	Reasoning     ReasoningConfig
	Security      SecurityConfig
	Graph         GraphConfig
	Registry      RegistryConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// Load reads configuration from the process environment.
// Env files (.env.local, .env) are loaded first when present; real
// environment variables always take precedence over file entries.
func Load() (*Config, error) {
	LoadEnvFiles(".env.local", ".env")
	return loadFrom(os.LookupEnv)
}

// loadFrom runs the full pipeline against an injectable environment,
// which keeps tests hermetic.
func loadFrom(lookup lookupFunc) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults populates every section with its documented default.
func (c *Config) SetDefaults() {
	c.Runtime.SetDefaults()
	c.Knowledge.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Fetch.SetDefaults()
	c.Verification.SetDefaults()
	c.Reasoning.SetDefaults()
	c.Security.SetDefaults()
	c.Graph.SetDefaults()
	c.Registry.SetDefaults()
	c.Auth.SetDefaults()
	c.Observability.SetDefaults()
}

// applyEnv overlays environment values on top of the defaults.
// Unset variables leave the current value untouched; unparsable values
// are configuration errors.
func (c *Config) applyEnv(lookup lookupFunc) error {
	sections := []struct {
		name string
		fn   func(lookupFunc) error
	}{
		{"runtime", c.Runtime.applyEnv},
		{"knowledge", c.Knowledge.applyEnv},
		{"rate limit", c.RateLimit.applyEnv},
		{"fetch", c.Fetch.applyEnv},
		{"verification", c.Verification.applyEnv},
		{"reasoning", c.Reasoning.applyEnv},
		{"security", c.Security.applyEnv},
		{"graph", c.Graph.applyEnv},
		{"registry", c.Registry.applyEnv},
		{"auth", c.Auth.applyEnv},
		{"observability", c.Observability.applyEnv},
	}
	for _, s := range sections {
		if err := s.fn(lookup); err != nil {
			return fmt.Errorf("%s config: %w", s.name, err)
		}
	}
	return nil
}

// Validate checks every section plus the cross-section constraints.
// The first violation wins. Validate never mutates the config.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"runtime", c.Runtime.Validate},
		{"knowledge", c.Knowledge.Validate},
		{"rate limit", c.RateLimit.Validate},
		{"fetch", c.Fetch.Validate},
		{"verification", c.Verification.Validate},
		{"reasoning", c.Reasoning.Validate},
		{"security", c.Security.Validate},
		{"graph", c.Graph.Validate},
		{"registry", c.Registry.Validate},
		{"auth", c.Auth.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s config: %w", s.name, err)
		}
	}

	// Disabling the URL guard is only tolerated outside production.
	if c.Runtime.IsProduction() && !c.Security.SSRFProtection {
		return fmt.Errorf("security config: ENABLE_SSRF_PROTECTION must not be disabled when ENVIRONMENT=%s", EnvProduction)
	}
	return nil
}

// Warnings returns non-fatal findings the operator should see at startup.
// A warning never prevents the server from running.
func (c *Config) Warnings() []string {
	var warnings []string
	if !c.Security.SSRFProtection && !c.Runtime.IsProduction() {
		warnings = append(warnings, "ENABLE_SSRF_PROTECTION is off: every outbound fetch target will be admitted")
	}
	if len(c.Security.AllowedHosts) == 0 && !c.Runtime.IsProduction() {
		warnings = append(warnings, "ALLOWED_HOSTS is empty: only private-range filtering restricts outbound fetches")
	}
	if c.RateLimit.RequestsPerMinute > 60 {
		warnings = append(warnings, fmt.Sprintf("RATE_LIMIT_REQUESTS_PER_MINUTE=%d is unusually high for external endpoints", c.RateLimit.RequestsPerMinute))
	}
	return warnings
}
