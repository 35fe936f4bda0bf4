package config

import "fmt"

// Tracing exporter names.
const (
	TracingExporterOTLP   = "otlp"
	TracingExporterStdout = "stdout"
	TracingExporterNone   = "none"
)

// ObservabilityConfig enables tracing and metrics. Both default to off;
// when tracing is on, spans are exported via OTLP gRPC or stdout.
type ObservabilityConfig struct {
	TracingEnabled    bool
	TracingExporter   string
	TracingEndpoint   string
	TracingSampleRate float64
	MetricsEnabled    bool
}

// SetDefaults applies observability defaults.
func (c *ObservabilityConfig) SetDefaults() {
	if c.TracingExporter == "" {
		c.TracingExporter = TracingExporterOTLP
	}
	if c.TracingEndpoint == "" {
		c.TracingEndpoint = "localhost:4317"
	}
	if c.TracingSampleRate == 0 {
		c.TracingSampleRate = 1.0
	}
}

func (c *ObservabilityConfig) applyEnv(lookup lookupFunc) error {
	if err := envBool(lookup, "TRACING_ENABLED", &c.TracingEnabled); err != nil {
		return err
	}
	envString(lookup, "TRACING_EXPORTER", &c.TracingExporter)
	envString(lookup, "TRACING_ENDPOINT", &c.TracingEndpoint)
	if err := envFloat(lookup, "TRACING_SAMPLE_RATE", &c.TracingSampleRate); err != nil {
		return err
	}
	return envBool(lookup, "METRICS_ENABLED", &c.MetricsEnabled)
}

// Validate checks the observability section.
func (c *ObservabilityConfig) Validate() error {
	switch c.TracingExporter {
	case TracingExporterOTLP, TracingExporterStdout, TracingExporterNone:
	default:
		return fmt.Errorf("TRACING_EXPORTER must be one of otlp, stdout, none, got %q", c.TracingExporter)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0 and 1, got %v", c.TracingSampleRate)
	}
	if c.TracingEnabled && c.TracingExporter == TracingExporterOTLP && c.TracingEndpoint == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required for the otlp exporter")
	}
	return nil
}
