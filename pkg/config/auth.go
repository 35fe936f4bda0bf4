package config

import (
	"fmt"
	"net/url"
)

// AuthConfig enables optional JWT bearer authentication on the HTTP
// transport. Tokens are validated against a remote JWKS.
type AuthConfig struct {
	Enabled  bool
	JWKSURL  string
	Issuer   string
	Audience string
}

// SetDefaults applies auth defaults. Auth is off unless enabled.
func (c *AuthConfig) SetDefaults() {}

func (c *AuthConfig) applyEnv(lookup lookupFunc) error {
	if err := envBool(lookup, "AUTH_ENABLED", &c.Enabled); err != nil {
		return err
	}
	envString(lookup, "AUTH_JWKS_URL", &c.JWKSURL)
	envString(lookup, "AUTH_ISSUER", &c.Issuer)
	envString(lookup, "AUTH_AUDIENCE", &c.Audience)
	return nil
}

// Validate checks the auth section.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ENABLED=true")
	}
	u, err := url.Parse(c.JWKSURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("AUTH_JWKS_URL must be an absolute http(s) URL, got %q", c.JWKSURL)
	}
	return nil
}
