package config

import "fmt"

// VerificationConfig parameterizes the VERIFY-phase completion validator.
type VerificationConfig struct {
	// CompletionThreshold is the todo completion percentage required to
	// pass verification.
	CompletionThreshold int
	// SuccessRateThreshold is the minimum session reasoning effectiveness
	// required to pass verification.
	SuccessRateThreshold float64
}

// SetDefaults applies verification defaults.
func (c *VerificationConfig) SetDefaults() {
	if c.CompletionThreshold == 0 {
		c.CompletionThreshold = 95
	}
	if c.SuccessRateThreshold == 0 {
		c.SuccessRateThreshold = 0.7
	}
}

func (c *VerificationConfig) applyEnv(lookup lookupFunc) error {
	if err := envInt(lookup, "VERIFICATION_COMPLETION_THRESHOLD", &c.CompletionThreshold); err != nil {
		return err
	}
	return envFloat(lookup, "EXECUTION_SUCCESS_RATE_THRESHOLD", &c.SuccessRateThreshold)
}

// Validate checks the verification section.
func (c *VerificationConfig) Validate() error {
	if c.CompletionThreshold < 50 || c.CompletionThreshold > 100 {
		return fmt.Errorf("VERIFICATION_COMPLETION_THRESHOLD must be between 50 and 100, got %d", c.CompletionThreshold)
	}
	if c.SuccessRateThreshold < 0 || c.SuccessRateThreshold > 1 {
		return fmt.Errorf("EXECUTION_SUCCESS_RATE_THRESHOLD must be between 0 and 1, got %v", c.SuccessRateThreshold)
	}
	return nil
}

// ReasoningConfig bounds the per-session reasoning-effectiveness scalar.
// Effectiveness starts at Initial and is nudged up or down after every
// EXECUTE turn, clamped to [Min, Max].
type ReasoningConfig struct {
	InitialEffectiveness float64
	MinEffectiveness     float64
	MaxEffectiveness     float64
}

// SetDefaults applies reasoning defaults.
func (c *ReasoningConfig) SetDefaults() {
	if c.InitialEffectiveness == 0 {
		c.InitialEffectiveness = 0.8
	}
	if c.MinEffectiveness == 0 {
		c.MinEffectiveness = 0.3
	}
	if c.MaxEffectiveness == 0 {
		c.MaxEffectiveness = 1.0
	}
}

func (c *ReasoningConfig) applyEnv(lookup lookupFunc) error {
	if err := envFloat(lookup, "INITIAL_REASONING_EFFECTIVENESS", &c.InitialEffectiveness); err != nil {
		return err
	}
	if err := envFloat(lookup, "MIN_REASONING_EFFECTIVENESS", &c.MinEffectiveness); err != nil {
		return err
	}
	return envFloat(lookup, "MAX_REASONING_EFFECTIVENESS", &c.MaxEffectiveness)
}

// Validate checks the reasoning section.
func (c *ReasoningConfig) Validate() error {
	for _, bound := range []struct {
		name  string
		value float64
	}{
		{"INITIAL_REASONING_EFFECTIVENESS", c.InitialEffectiveness},
		{"MIN_REASONING_EFFECTIVENESS", c.MinEffectiveness},
		{"MAX_REASONING_EFFECTIVENESS", c.MaxEffectiveness},
	} {
		if bound.value < 0 || bound.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", bound.name, bound.value)
		}
	}
	if c.MinEffectiveness > c.MaxEffectiveness {
		return fmt.Errorf("MIN_REASONING_EFFECTIVENESS (%v) must not exceed MAX_REASONING_EFFECTIVENESS (%v)",
			c.MinEffectiveness, c.MaxEffectiveness)
	}
	if c.InitialEffectiveness < c.MinEffectiveness || c.InitialEffectiveness > c.MaxEffectiveness {
		return fmt.Errorf("INITIAL_REASONING_EFFECTIVENESS (%v) must lie within [%v, %v]",
			c.InitialEffectiveness, c.MinEffectiveness, c.MaxEffectiveness)
	}
	return nil
}
