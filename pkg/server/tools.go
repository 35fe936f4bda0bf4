package server

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/iron-manus/jarvis"
	"github.com/iron-manus/jarvis/pkg/endpoints"
	"github.com/iron-manus/jarvis/pkg/fsm"
	"github.com/iron-manus/jarvis/pkg/httpclient"
	"github.com/iron-manus/jarvis/pkg/knowledge"
	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/roles"
)

// Tool names as the agent sees them. The phase prompts reference these, so
// they must match pkg/prompt's allowed-tool tables.
const (
	ToolJarvis       = "JARVIS"
	ToolAPITaskAgent = "APITaskAgent"
	ToolAPISearch    = "APISearch"
	ToolAPIValidator = "APIValidator"
)

const (
	minObjectiveRunes = 10
	maxObjectiveRunes = 1000
	maxSearchResults  = 25
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}$`)

const instructions = `Iron Manus runs an eight-phase agent loop. Call JARVIS first, with an initial_objective, to open a session. After finishing each phase, call JARVIS again with session_id, phase_completed, and the payload the phase prompt asked for; the response names the next phase, its system prompt, and the tools allowed in it. APISearch discovers registry endpoints, APITaskAgent runs a full research pass over them, and APIValidator probes a single endpoint.`

// jarvisArgs is one turn report from the agent.
type jarvisArgs struct {
	SessionID        string         `json:"session_id,omitempty" jsonschema:"minLength=8,pattern=^[A-Za-z0-9_-]+$" jsonschema_description:"Session identifier. Omit on the first call to have one generated."`
	PhaseCompleted   string         `json:"phase_completed,omitempty" jsonschema:"enum=QUERY,enum=ENHANCE,enum=KNOWLEDGE,enum=PLAN,enum=EXECUTE,enum=VERIFY,enum=DONE" jsonschema_description:"The phase just finished. Omit on the first call of a session."`
	InitialObjective string         `json:"initial_objective,omitempty" jsonschema:"minLength=10,maxLength=1000" jsonschema_description:"The user objective that opens a new session."`
	Payload          map[string]any `json:"payload,omitempty" jsonschema_description:"Results of the finished phase, under the keys its prompt asked for."`
}

// apiTaskAgentArgs drives one knowledge pass: select endpoints, fetch them
// in parallel, synthesize an answer.
type apiTaskAgentArgs struct {
	Objective    string `json:"objective" jsonschema:"minLength=3,maxLength=1000" jsonschema_description:"What to find out."`
	Role         string `json:"role,omitempty" jsonschema:"enum=planner,enum=coder,enum=critic,enum=researcher,enum=analyzer,enum=synthesizer,enum=ui_architect,enum=ui_implementer,enum=ui_refiner" jsonschema_description:"Role lens for endpoint selection. Detected from the objective when omitted."`
	MaxEndpoints int    `json:"max_endpoints,omitempty" jsonschema:"minimum=1,maximum=5" jsonschema_description:"How many endpoints to query. Defaults to 3."`
}

// apiSearchArgs queries the endpoint registry without fetching anything.
type apiSearchArgs struct {
	Objective string `json:"objective" jsonschema:"minLength=1,maxLength=1000" jsonschema_description:"Free-text query matched against endpoint names and categories."`
	Role      string `json:"role,omitempty" jsonschema:"enum=planner,enum=coder,enum=critic,enum=researcher,enum=analyzer,enum=synthesizer,enum=ui_architect,enum=ui_implementer,enum=ui_refiner" jsonschema_description:"Role whose affinity boosts matching endpoints."`
	Category  string `json:"category,omitempty" jsonschema_description:"Restrict results to one category."`
	Limit     int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=25" jsonschema_description:"Maximum results. Defaults to 5."`
}

// apiValidatorArgs probes exactly one endpoint, named either by registry id
// or by raw URL.
type apiValidatorArgs struct {
	URL        string `json:"url,omitempty" jsonschema:"format=uri" jsonschema_description:"Raw URL to probe. Mutually exclusive with endpoint_id."`
	EndpointID string `json:"endpoint_id,omitempty" jsonschema_description:"Registry endpoint id to probe. Mutually exclusive with url."`
}

// searchReply is the APISearch result shape.
type searchReply struct {
	Query   string                 `json:"query"`
	Count   int                    `json:"count"`
	Results []endpoints.Descriptor `json:"results"`
}

func (s *Server) buildMCPServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("iron-manus", jarvis.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(instructions),
	)
	srv.AddTool(
		mcp.NewToolWithRawSchema(ToolJarvis,
			"Finite state machine controller for the eight-phase loop. Opens a session on the first call and advances it on every later call.",
			mustToolSchema(ToolJarvis)),
		s.handleJarvis)
	srv.AddTool(
		mcp.NewToolWithRawSchema(ToolAPITaskAgent,
			"Selects matching API endpoints for an objective, fetches them in parallel, and returns a synthesized answer with confidence and usage metrics.",
			mustToolSchema(ToolAPITaskAgent)),
		s.handleAPITaskAgent)
	srv.AddTool(
		mcp.NewToolWithRawSchema(ToolAPISearch,
			"Searches the endpoint registry by free-text query with optional role and category filters.",
			mustToolSchema(ToolAPISearch)),
		s.handleAPISearch)
	srv.AddTool(
		mcp.NewToolWithRawSchema(ToolAPIValidator,
			"Probes one endpoint through the admission guard and rate limiter, reporting reachability, status, and confidence.",
			mustToolSchema(ToolAPIValidator)),
		s.handleAPIValidator)
	return srv
}

func (s *Server) handleJarvis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args jarvisArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	event, err := args.toEvent()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.ctrl.Step(ctx, event))
}

// toEvent validates the turn report. Argument problems come back as errors
// so the handler can surface them as tool results instead of protocol
// failures.
func (a jarvisArgs) toEvent() (fsm.Event, error) {
	event := fsm.Event{
		InitialObjective: strings.TrimSpace(a.InitialObjective),
		Payload:          a.Payload,
	}

	switch {
	case a.SessionID == "":
		event.SessionID = newSessionID()
	case !sessionIDPattern.MatchString(a.SessionID):
		return event, fmt.Errorf("session_id must be at least 8 characters of [A-Za-z0-9_-], got %q", a.SessionID)
	default:
		event.SessionID = a.SessionID
	}

	if a.PhaseCompleted != "" {
		phase, err := phases.Parse(a.PhaseCompleted)
		if err != nil {
			return event, fmt.Errorf("phase_completed: %w", err)
		}
		event.PhaseCompleted = phase
	}

	if event.InitialObjective != "" {
		if n := utf8.RuneCountInString(event.InitialObjective); n < minObjectiveRunes || n > maxObjectiveRunes {
			return event, fmt.Errorf("initial_objective must be %d to %d characters, got %d",
				minObjectiveRunes, maxObjectiveRunes, n)
		}
	}
	return event, nil
}

func (s *Server) handleAPITaskAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args apiTaskAgentArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	objective := strings.TrimSpace(args.Objective)
	if utf8.RuneCountInString(objective) < 3 {
		return mcp.NewToolResultError("objective must be at least 3 characters"), nil
	}
	role, err := resolveRole(args.Role, objective)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.MaxEndpoints < 0 || args.MaxEndpoints > 5 {
		return mcp.NewToolResultError("max_endpoints must be between 1 and 5"), nil
	}

	result := s.knowledge.Gather(ctx, knowledge.Request{
		Objective:    objective,
		Role:         role,
		MaxEndpoints: args.MaxEndpoints,
	})
	return jsonResult(result)
}

func (s *Server) handleAPISearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args apiSearchArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	objective := strings.TrimSpace(args.Objective)
	if objective == "" {
		return mcp.NewToolResultError("objective is required"), nil
	}
	var role roles.Role
	if raw := strings.TrimSpace(args.Role); raw != "" {
		parsed, err := roles.Parse(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		role = parsed
	}
	if args.Limit < 0 || args.Limit > maxSearchResults {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", maxSearchResults)), nil
	}

	results := s.registry.Search(objective, role, strings.TrimSpace(args.Category), args.Limit)
	return jsonResult(searchReply{Query: objective, Count: len(results), Results: results})
}

func (s *Server) handleAPIValidator(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args apiValidatorArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if (args.URL == "") == (args.EndpointID == "") {
		return mcp.NewToolResultError("exactly one of url or endpoint_id is required"), nil
	}

	target := args.URL
	weight := 1.0
	endpointID := ""
	if args.EndpointID != "" {
		descriptor, ok := s.registry.Get(args.EndpointID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown endpoint id %q", args.EndpointID)), nil
		}
		target = descriptor.URL
		weight = descriptor.ConfidenceWeight
		endpointID = descriptor.ID
	}

	result := s.fetcher.Fetch(ctx, target, httpclient.FetchOptions{ConfidenceWeight: weight})
	result.EndpointID = endpointID
	return jsonResult(result)
}

// resolveRole parses an explicit role or falls back to keyword detection.
func resolveRole(raw, objective string) (roles.Role, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return roles.Detect(objective), nil
	}
	return roles.Parse(raw)
}

func newSessionID() string {
	return "session_" + uuid.NewString()
}

// jsonResult renders a tool result as indented JSON text. Indentation costs
// a few tokens but keeps the structures readable to the agent.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
