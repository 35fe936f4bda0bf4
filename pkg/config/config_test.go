package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFrom(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Runtime.Environment)
	assert.Equal(t, "info", cfg.Runtime.LogLevel)
	assert.Equal(t, "simple", cfg.Runtime.LogFormat)
	assert.Equal(t, "./iron-manus-sessions", cfg.Runtime.SessionWorkspaceRoot)
	assert.Equal(t, ":8080", cfg.Runtime.HTTPAddr)

	assert.Equal(t, 2, cfg.Knowledge.MaxConcurrency)
	assert.Equal(t, 4000, cfg.Knowledge.TimeoutMS)
	assert.InDelta(t, 0.4, cfg.Knowledge.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 5000, cfg.Knowledge.MaxResponseSize)
	assert.True(t, cfg.Knowledge.AutoConnectionEnabled)

	assert.Equal(t, 5, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 60000, cfg.RateLimit.WindowMS)

	assert.Equal(t, int64(2*1024*1024), cfg.Fetch.MaxContentLength)
	assert.Contains(t, cfg.Fetch.UserAgent, "Iron-Manus-MCP/")

	assert.Equal(t, 95, cfg.Verification.CompletionThreshold)
	assert.InDelta(t, 0.7, cfg.Verification.SuccessRateThreshold, 1e-9)

	assert.InDelta(t, 0.8, cfg.Reasoning.InitialEffectiveness, 1e-9)
	assert.InDelta(t, 0.3, cfg.Reasoning.MinEffectiveness, 1e-9)
	assert.InDelta(t, 1.0, cfg.Reasoning.MaxEffectiveness, 1e-9)

	assert.True(t, cfg.Security.SSRFProtection)
	assert.Empty(t, cfg.Security.AllowedHosts)

	assert.Equal(t, GraphBackendMemory, cfg.Graph.Backend)
	assert.Equal(t, RegistrySourceEmbedded, cfg.Registry.Source)
	assert.False(t, cfg.Auth.Enabled)
	assert.False(t, cfg.Observability.TracingEnabled)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := loadFrom(envMap(map[string]string{
		"ENVIRONMENT":                     "production",
		"KNOWLEDGE_MAX_CONCURRENCY":       "4",
		"KNOWLEDGE_TIMEOUT_MS":            "2500",
		"KNOWLEDGE_CONFIDENCE_THRESHOLD":  "0.6",
		"KNOWLEDGE_MAX_RESPONSE_SIZE":     "1000",
		"AUTO_CONNECTION_ENABLED":         "false",
		"RATE_LIMIT_REQUESTS_PER_MINUTE":  "10",
		"RATE_LIMIT_WINDOW_MS":            "30000",
		"MAX_CONTENT_LENGTH":              "4096",
		"VERIFICATION_COMPLETION_THRESHOLD": "80",
		"EXECUTION_SUCCESS_RATE_THRESHOLD":  "0.5",
		"ALLOWED_HOSTS":                   "api.github.com, en.wikipedia.org ,",
		"USER_AGENT":                      "custom-agent/1.0",
		"HTTP_ADDR":                       ":9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Runtime.Environment)
	assert.True(t, cfg.Runtime.IsProduction())
	assert.Equal(t, 4, cfg.Knowledge.MaxConcurrency)
	assert.Equal(t, 2500, cfg.Knowledge.TimeoutMS)
	assert.InDelta(t, 0.6, cfg.Knowledge.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 1000, cfg.Knowledge.MaxResponseSize)
	assert.False(t, cfg.Knowledge.AutoConnectionEnabled)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 30000, cfg.RateLimit.WindowMS)
	assert.Equal(t, int64(4096), cfg.Fetch.MaxContentLength)
	assert.Equal(t, 80, cfg.Verification.CompletionThreshold)
	assert.InDelta(t, 0.5, cfg.Verification.SuccessRateThreshold, 1e-9)
	assert.Equal(t, []string{"api.github.com", "en.wikipedia.org"}, cfg.Security.AllowedHosts)
	assert.Equal(t, "custom-agent/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, ":9000", cfg.Runtime.HTTPAddr)
}

func TestMaxBodyLengthAlias(t *testing.T) {
	cfg, err := loadFrom(envMap(map[string]string{"MAX_BODY_LENGTH": "8192"}))
	require.NoError(t, err)
	assert.Equal(t, int64(8192), cfg.Fetch.MaxContentLength)

	// MAX_CONTENT_LENGTH wins when both are present.
	cfg, err = loadFrom(envMap(map[string]string{
		"MAX_BODY_LENGTH":    "8192",
		"MAX_CONTENT_LENGTH": "16384",
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(16384), cfg.Fetch.MaxContentLength)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"non-numeric int", map[string]string{"KNOWLEDGE_MAX_CONCURRENCY": "lots"}, "not an integer"},
		{"non-numeric float", map[string]string{"KNOWLEDGE_CONFIDENCE_THRESHOLD": "high"}, "not a number"},
		{"non-boolean", map[string]string{"ENABLE_SSRF_PROTECTION": "maybe"}, "not a boolean"},
		{"concurrency too high", map[string]string{"KNOWLEDGE_MAX_CONCURRENCY": "11"}, "between 1 and 10"},
		{"concurrency too low", map[string]string{"KNOWLEDGE_MAX_CONCURRENCY": "0"}, "between 1 and 10"},
		{"timeout too low", map[string]string{"KNOWLEDGE_TIMEOUT_MS": "500"}, "between 1000 and 30000"},
		{"timeout too high", map[string]string{"KNOWLEDGE_TIMEOUT_MS": "31000"}, "between 1000 and 30000"},
		{"threshold above one", map[string]string{"KNOWLEDGE_CONFIDENCE_THRESHOLD": "1.5"}, "between 0 and 1"},
		{"negative response size", map[string]string{"KNOWLEDGE_MAX_RESPONSE_SIZE": "-1"}, "positive"},
		{"zero rate", map[string]string{"RATE_LIMIT_REQUESTS_PER_MINUTE": "0"}, "at least 1"},
		{"window too small", map[string]string{"RATE_LIMIT_WINDOW_MS": "100"}, "at least 1000"},
		{"content cap too small", map[string]string{"MAX_CONTENT_LENGTH": "512"}, "at least 1024"},
		{"completion threshold low", map[string]string{"VERIFICATION_COMPLETION_THRESHOLD": "30"}, "between 50 and 100"},
		{"completion threshold high", map[string]string{"VERIFICATION_COMPLETION_THRESHOLD": "120"}, "between 50 and 100"},
		{"success rate out of range", map[string]string{"EXECUTION_SUCCESS_RATE_THRESHOLD": "2"}, "between 0 and 1"},
		{"min above max", map[string]string{
			"MIN_REASONING_EFFECTIVENESS": "0.9",
			"MAX_REASONING_EFFECTIVENESS": "0.5",
		}, "must not exceed"},
		{"initial outside bounds", map[string]string{
			"INITIAL_REASONING_EFFECTIVENESS": "0.2",
		}, "must lie within"},
		{"unknown environment", map[string]string{"ENVIRONMENT": "staging"}, "ENVIRONMENT"},
		{"unknown log level", map[string]string{"LOG_LEVEL": "trace"}, "LOG_LEVEL"},
		{"unknown graph backend", map[string]string{"GRAPH_BACKEND": "cassandra"}, "GRAPH_BACKEND"},
		{"graph backend without dsn", map[string]string{"GRAPH_BACKEND": "postgres"}, "GRAPH_DSN"},
		{"unknown registry source", map[string]string{"REGISTRY_SOURCE": "s3"}, "REGISTRY_SOURCE"},
		{"file source without path", map[string]string{"REGISTRY_SOURCE": "file"}, "REGISTRY_PATH"},
		{"etcd source without endpoints", map[string]string{"REGISTRY_SOURCE": "etcd"}, "REGISTRY_ENDPOINTS"},
		{"auth without jwks", map[string]string{"AUTH_ENABLED": "true"}, "AUTH_JWKS_URL"},
		{"auth with bad jwks", map[string]string{
			"AUTH_ENABLED":  "true",
			"AUTH_JWKS_URL": "not-a-url",
		}, "http(s)"},
		{"unknown tracing exporter", map[string]string{"TRACING_EXPORTER": "jaeger"}, "TRACING_EXPORTER"},
		{"sample rate out of range", map[string]string{"TRACING_SAMPLE_RATE": "1.5"}, "TRACING_SAMPLE_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(envMap(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSSRFDisabledFatalInProduction(t *testing.T) {
	_, err := loadFrom(envMap(map[string]string{
		"ENVIRONMENT":            "production",
		"ENABLE_SSRF_PROTECTION": "false",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENABLE_SSRF_PROTECTION")

	// The same setting outside production is a warning, not an error.
	cfg, err := loadFrom(envMap(map[string]string{
		"ENABLE_SSRF_PROTECTION": "false",
	}))
	require.NoError(t, err)
	warnings := cfg.Warnings()
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "ENABLE_SSRF_PROTECTION")
}

func TestWarnings(t *testing.T) {
	cfg, err := loadFrom(envMap(map[string]string{
		"RATE_LIMIT_REQUESTS_PER_MINUTE": "120",
	}))
	require.NoError(t, err)

	var found bool
	for _, w := range cfg.Warnings() {
		if strings.Contains(w, "RATE_LIMIT_REQUESTS_PER_MINUTE") {
			found = true
		}
	}
	assert.True(t, found, "expected a high rate limit warning, got %v", cfg.Warnings())

	// A production config with an allowlist produces no warnings at all.
	cfg, err = loadFrom(envMap(map[string]string{
		"ENVIRONMENT":   "production",
		"ALLOWED_HOSTS": "api.github.com",
	}))
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings())
}

func TestValidateIdempotent(t *testing.T) {
	cfg, err := loadFrom(envMap(map[string]string{
		"KNOWLEDGE_MAX_CONCURRENCY": "3",
		"ALLOWED_HOSTS":             "api.github.com",
	}))
	require.NoError(t, err)

	before := *cfg
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, before.Knowledge, cfg.Knowledge)
	assert.Equal(t, before.Runtime, cfg.Runtime)
	assert.Equal(t, before.Security.AllowedHosts, cfg.Security.AllowedHosts)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := loadFrom(envMap(map[string]string{
		"KNOWLEDGE_TIMEOUT_MS": "1500",
		"RATE_LIMIT_WINDOW_MS": "30000",
	}))
	require.NoError(t, err)
	assert.Equal(t, "1.5s", cfg.Knowledge.Timeout().String())
	assert.Equal(t, "30s", cfg.RateLimit.Window().String())
}
