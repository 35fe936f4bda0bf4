package config

import "fmt"

// RuntimeConfig holds process-level options: deployment environment,
// logging, the session workspace location, and the HTTP listen address.
type RuntimeConfig struct {
	Environment          string
	LogLevel             string
	LogFormat            string
	SessionWorkspaceRoot string
	HTTPAddr             string
}

// SetDefaults applies runtime defaults.
func (c *RuntimeConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
	if c.SessionWorkspaceRoot == "" {
		c.SessionWorkspaceRoot = "./iron-manus-sessions"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
}

func (c *RuntimeConfig) applyEnv(lookup lookupFunc) error {
	envString(lookup, "ENVIRONMENT", &c.Environment)
	envString(lookup, "LOG_LEVEL", &c.LogLevel)
	envString(lookup, "LOG_FORMAT", &c.LogFormat)
	envString(lookup, "SESSION_WORKSPACE_ROOT", &c.SessionWorkspaceRoot)
	envString(lookup, "HTTP_ADDR", &c.HTTPAddr)
	return nil
}

// Validate checks the runtime section.
func (c *RuntimeConfig) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("ENVIRONMENT must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be one of simple, verbose, json, got %q", c.LogFormat)
	}
	if c.SessionWorkspaceRoot == "" {
		return fmt.Errorf("SESSION_WORKSPACE_ROOT must not be empty")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	return nil
}

// IsProduction reports whether the server runs with production hardening.
func (c *RuntimeConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}
