package server

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// toolArgShapes maps each tool to the struct its input schema reflects.
var toolArgShapes = map[string]any{
	ToolJarvis:       jarvisArgs{},
	ToolAPITaskAgent: apiTaskAgentArgs{},
	ToolAPISearch:    apiSearchArgs{},
	ToolAPIValidator: apiValidatorArgs{},
}

// ToolSchemas reflects the JSON schema of every tool's arguments, keyed by
// tool name. Registration embeds these per tool; the CLI prints them.
func ToolSchemas() map[string]json.RawMessage {
	schemas := make(map[string]json.RawMessage, len(toolArgShapes))
	for name, shape := range toolArgShapes {
		schemas[name] = reflectSchema(shape)
	}
	return schemas
}

func mustToolSchema(name string) json.RawMessage {
	shape, ok := toolArgShapes[name]
	if !ok {
		panic(fmt.Sprintf("no schema shape registered for tool %q", name))
	}
	return reflectSchema(shape)
}

// reflectSchema inlines definitions and closes each object, so the agent
// gets one self-contained schema per tool and misspelled argument names
// fail validation instead of being silently dropped.
func reflectSchema(shape any) json.RawMessage {
	reflector := jsonschema.Reflector{DoNotReference: true}
	data, err := json.Marshal(reflector.Reflect(shape))
	if err != nil {
		panic(fmt.Sprintf("marshaling tool schema: %v", err))
	}
	return data
}
