package config

// SecurityConfig controls SSRF protection for outbound fetches.
type SecurityConfig struct {
	// AllowedHosts is the exact-match host allowlist. When non-empty, a
	// fetch target must appear in it (case-insensitive). An empty list in
	// production denies every target.
	AllowedHosts []string
	// SSRFProtection toggles the URL guard. Disabling it is fatal in
	// production and a warning everywhere else.
	SSRFProtection bool
}

// SetDefaults applies security defaults.
func (c *SecurityConfig) SetDefaults() {
	c.SSRFProtection = true
}

func (c *SecurityConfig) applyEnv(lookup lookupFunc) error {
	envStrings(lookup, "ALLOWED_HOSTS", &c.AllowedHosts)
	return envBool(lookup, "ENABLE_SSRF_PROTECTION", &c.SSRFProtection)
}

// Validate checks the security section. The production constraint on
// SSRFProtection is enforced at the root, where the environment is known.
func (c *SecurityConfig) Validate() error {
	return nil
}
