package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaShape struct {
	Type                 string                     `json:"type"`
	Properties           map[string]json.RawMessage `json:"properties"`
	Required             []string                   `json:"required"`
	AdditionalProperties json.RawMessage            `json:"additionalProperties"`
}

func TestToolSchemasCoverEveryTool(t *testing.T) {
	schemas := ToolSchemas()
	require.Len(t, schemas, 4)

	for _, name := range []string{ToolJarvis, ToolAPITaskAgent, ToolAPISearch, ToolAPIValidator} {
		raw, ok := schemas[name]
		require.True(t, ok, "missing schema for %s", name)

		var schema schemaShape
		require.NoError(t, json.Unmarshal(raw, &schema))
		assert.Equal(t, "object", schema.Type, name)
		assert.NotEmpty(t, schema.Properties, name)
		assert.JSONEq(t, "false", string(schema.AdditionalProperties),
			"%s: unknown argument names must fail validation", name)
	}
}

func TestJarvisSchemaShape(t *testing.T) {
	var schema schemaShape
	require.NoError(t, json.Unmarshal(mustToolSchema(ToolJarvis), &schema))

	for _, property := range []string{"session_id", "phase_completed", "initial_objective", "payload"} {
		assert.Contains(t, schema.Properties, property)
	}
	assert.Empty(t, schema.Required, "every JARVIS argument is optional")

	var sessionID struct {
		Type      string `json:"type"`
		MinLength int    `json:"minLength"`
		Pattern   string `json:"pattern"`
	}
	require.NoError(t, json.Unmarshal(schema.Properties["session_id"], &sessionID))
	assert.Equal(t, "string", sessionID.Type)
	assert.Equal(t, 8, sessionID.MinLength)
	assert.NotEmpty(t, sessionID.Pattern)

	var phase struct {
		Enum []string `json:"enum"`
	}
	require.NoError(t, json.Unmarshal(schema.Properties["phase_completed"], &phase))
	assert.Len(t, phase.Enum, 7)
	assert.Contains(t, phase.Enum, "EXECUTE")
	assert.NotContains(t, phase.Enum, "INIT", "INIT is never reported as completed")
}

func TestRequiredFieldsMarked(t *testing.T) {
	cases := []struct {
		tool string
		want []string
	}{
		{ToolAPITaskAgent, []string{"objective"}},
		{ToolAPISearch, []string{"objective"}},
		{ToolAPIValidator, nil},
	}
	for _, tc := range cases {
		var schema schemaShape
		require.NoError(t, json.Unmarshal(mustToolSchema(tc.tool), &schema))
		assert.Equal(t, tc.want, schema.Required, tc.tool)
	}
}
