// Package knowledge orchestrates KNOWLEDGE-phase research: it selects
// registry endpoints for the session's role, fans fetches out through the
// guarded HTTP client with bounded concurrency, and synthesizes the
// surviving bodies into a single answer with an aggregate confidence.
//
// A session can bypass the whole pipeline by writing its own
// synthesized_knowledge.md into the session workspace; that file wins over
// any fetch.
package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/endpoints"
	"github.com/iron-manus/jarvis/pkg/httpclient"
	"github.com/iron-manus/jarvis/pkg/roles"
)

// Knowledge sources reported in UsageMetrics.Source.
const (
	// SourceAgentSynthesis marks an answer read from the session workspace.
	SourceAgentSynthesis = "agent_synthesis"
	// SourceAPIFetch marks an answer synthesized from endpoint responses.
	SourceAPIFetch = "api_fetch"
	// SourceNone marks a degraded result with no usable content.
	SourceNone = "none"
)

// SynthesizedKnowledgeFile is the per-session workspace file that
// short-circuits gathering when present and non-empty.
const SynthesizedKnowledgeFile = "synthesized_knowledge.md"

// DefaultMaxEndpoints is queried per gather unless the request overrides it.
const DefaultMaxEndpoints = 3

// maxEndpointsCeiling bounds caller-supplied overrides.
const maxEndpointsCeiling = 5

// UsageMetrics summarizes one gather for the response payload and logs.
type UsageMetrics struct {
	EndpointsDiscovered int     `json:"endpoints_discovered"`
	EndpointsQueried    int     `json:"endpoints_queried"`
	Successful          int     `json:"successful"`
	TotalDurationMS     int64   `json:"total_duration_ms"`
	SynthesisConfidence float64 `json:"synthesis_confidence"`
	Source              string  `json:"source"`
}

// Result is the gather outcome. Failures degrade the result instead of
// surfacing as errors: a Result is always produced.
type Result struct {
	Answer         string       `json:"answer"`
	Confidence     float64      `json:"confidence"`
	Contradictions []string     `json:"contradictions,omitempty"`
	Metrics        UsageMetrics `json:"metrics"`
}

// Request describes one gather.
type Request struct {
	// SessionID locates the session workspace. Empty disables the
	// workspace short-circuit (tool calls without a session).
	SessionID string
	// Objective is logged and used for degraded answers; selection is
	// role-driven.
	Objective string
	// Role drives endpoint selection.
	Role roles.Role
	// EndpointIDs optionally pins the fetch set to agent-selected registry
	// ids. Unknown ids are dropped; if none survive, role selection applies.
	EndpointIDs []string
	// MaxEndpoints overrides DefaultMaxEndpoints when in [1,5].
	MaxEndpoints int
}

// Fetcher issues one guarded GET. *httpclient.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts httpclient.FetchOptions) httpclient.FetchResult
}

// Selector resolves endpoints for a gather. *endpoints.Registry satisfies it.
type Selector interface {
	SelectByRole(role roles.Role, limit int) []endpoints.Descriptor
	Get(id string) (endpoints.Descriptor, bool)
}

// Orchestrator runs the gather pipeline. Safe for concurrent use.
type Orchestrator struct {
	cfg           config.KnowledgeConfig
	workspaceRoot string
	registry      Selector
	fetcher       Fetcher
}

// New builds an orchestrator over the given registry and fetcher.
func New(cfg *config.Config, registry Selector, fetcher Fetcher) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg.Knowledge,
		workspaceRoot: cfg.Runtime.SessionWorkspaceRoot,
		registry:      registry,
		fetcher:       fetcher,
	}
}

// Gather runs the pipeline: workspace short-circuit, endpoint selection,
// bounded fan-out, filtering, synthesis. It never returns an error; any
// failure yields a degraded Result with confidence 0 and populated metrics.
// Retries happen inside the fetcher, never here.
func (o *Orchestrator) Gather(ctx context.Context, req Request) Result {
	start := time.Now()

	if answer, ok := o.readSynthesized(req.SessionID); ok {
		slog.Debug("Knowledge served from session workspace",
			"session_id", req.SessionID, "chars", len(answer))
		return Result{
			Answer:     answer,
			Confidence: 1.0,
			Metrics: UsageMetrics{
				TotalDurationMS:     time.Since(start).Milliseconds(),
				SynthesisConfidence: 1.0,
				Source:              SourceAgentSynthesis,
			},
		}
	}

	selected := o.selectEndpoints(req)
	if len(selected) == 0 {
		slog.Debug("Knowledge gather found no endpoints",
			"session_id", req.SessionID, "role", req.Role)
		return Result{
			Answer: "no relevant endpoints",
			Metrics: UsageMetrics{
				TotalDurationMS: time.Since(start).Milliseconds(),
				Source:          SourceNone,
			},
		}
	}

	results := o.fanOut(ctx, selected)

	surviving := make([]httpclient.FetchResult, 0, len(results))
	for _, res := range results {
		if res.OK && res.Confidence >= o.cfg.ConfidenceThreshold {
			surviving = append(surviving, res)
		}
	}

	metrics := UsageMetrics{
		EndpointsDiscovered: len(selected),
		EndpointsQueried:    len(selected),
		Successful:          len(surviving),
	}

	if len(surviving) == 0 {
		metrics.TotalDurationMS = time.Since(start).Milliseconds()
		metrics.Source = SourceNone
		slog.Debug("Knowledge gather degraded: no usable responses",
			"session_id", req.SessionID, "queried", len(selected))
		return Result{
			Answer:  degradedAnswer(selected, results),
			Metrics: metrics,
		}
	}

	answer := o.synthesize(selected, surviving)
	confidence := aggregateConfidence(surviving)
	contradictions := DetectContradictions(surviving)

	metrics.TotalDurationMS = time.Since(start).Milliseconds()
	metrics.SynthesisConfidence = confidence
	metrics.Source = SourceAPIFetch

	slog.Debug("Knowledge gather complete",
		"session_id", req.SessionID,
		"queried", metrics.EndpointsQueried,
		"successful", metrics.Successful,
		"confidence", confidence,
		"contradictions", len(contradictions),
		"duration_ms", metrics.TotalDurationMS)

	return Result{
		Answer:         answer,
		Confidence:     confidence,
		Contradictions: contradictions,
		Metrics:        metrics,
	}
}

// readSynthesized reads the workspace short-circuit file. Whitespace-only
// files do not count.
func (o *Orchestrator) readSynthesized(sessionID string) (string, bool) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		// Session ids never contain path separators (enforced at the tool
		// boundary); anything else must not reach the filesystem.
		return "", false
	}
	path := filepath.Join(o.workspaceRoot, sessionID, SynthesizedKnowledgeFile)
	data, err := os.ReadFile(path)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return "", false
	}
	return string(data), true
}

// selectEndpoints resolves the fetch set: agent-pinned ids first, role
// selection otherwise.
func (o *Orchestrator) selectEndpoints(req Request) []endpoints.Descriptor {
	limit := req.MaxEndpoints
	if limit < 1 || limit > maxEndpointsCeiling {
		limit = DefaultMaxEndpoints
	}

	if len(req.EndpointIDs) > 0 {
		pinned := make([]endpoints.Descriptor, 0, limit)
		for _, id := range req.EndpointIDs {
			d, ok := o.registry.Get(id)
			if !ok {
				slog.Debug("Ignoring unknown endpoint id", "endpoint_id", id)
				continue
			}
			pinned = append(pinned, d)
			if len(pinned) == limit {
				break
			}
		}
		if len(pinned) > 0 {
			return pinned
		}
	}

	return o.registry.SelectByRole(req.Role, limit)
}

// fanOut queries every selected endpoint with bounded concurrency. The
// overall budget is N·timeout+1s; whatever has completed by then is used.
func (o *Orchestrator) fanOut(ctx context.Context, selected []endpoints.Descriptor) []httpclient.FetchResult {
	overall := time.Duration(len(selected))*o.cfg.Timeout() + time.Second
	fanCtx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	g, gctx := errgroup.WithContext(fanCtx)
	g.SetLimit(o.cfg.MaxConcurrency)

	results := make([]httpclient.FetchResult, len(selected))
	for i, ep := range selected {
		i, ep := i, ep
		g.Go(func() error {
			res := o.fetcher.Fetch(gctx, ep.URL, httpclient.FetchOptions{
				ConfidenceWeight: ep.ConfidenceWeight,
				Timeout:          o.cfg.Timeout(),
			})
			res.EndpointID = ep.ID
			results[i] = res
			return nil
		})
	}
	// Fetches absorb their own failures, so Wait only reflects ctx expiry.
	_ = g.Wait()
	return results
}

// synthesize concatenates surviving bodies in confidence-descending order
// (ties broken by endpoint id), each introduced by its endpoint name, and
// caps the whole answer at MaxResponseSize characters.
func (o *Orchestrator) synthesize(selected []endpoints.Descriptor, surviving []httpclient.FetchResult) string {
	names := make(map[string]string, len(selected))
	for _, ep := range selected {
		names[ep.ID] = ep.Name
	}

	ordered := make([]httpclient.FetchResult, len(surviving))
	copy(ordered, surviving)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Confidence != ordered[j].Confidence {
			return ordered[i].Confidence > ordered[j].Confidence
		}
		return ordered[i].EndpointID < ordered[j].EndpointID
	})

	var b strings.Builder
	for i, res := range ordered {
		if i > 0 {
			b.WriteString("\n\n")
		}
		name := names[res.EndpointID]
		if name == "" {
			name = res.EndpointID
		}
		fmt.Fprintf(&b, "## %s\n\n%s", name, strings.TrimSpace(res.Body))
	}
	return truncateChars(b.String(), o.cfg.MaxResponseSize)
}

// aggregateConfidence is the body-length-weighted mean of surviving
// confidences, clamped to [0,1]. Zero-length bodies contribute nothing; if
// every surviving body is empty the mean falls back to unweighted.
func aggregateConfidence(surviving []httpclient.FetchResult) float64 {
	var weightSum, acc float64
	for _, res := range surviving {
		w := float64(len([]rune(res.Body)))
		weightSum += w
		acc += w * res.Confidence
	}
	if weightSum == 0 {
		for _, res := range surviving {
			acc += res.Confidence
		}
		weightSum = float64(len(surviving))
	}
	if weightSum == 0 {
		return 0
	}
	mean := acc / weightSum
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

// degradedAnswer summarizes why nothing survived, one line per endpoint in
// id order, so the agent can see what was attempted.
func degradedAnswer(selected []endpoints.Descriptor, results []httpclient.FetchResult) string {
	byID := make(map[string]httpclient.FetchResult, len(results))
	for _, res := range results {
		byID[res.EndpointID] = res
	}
	ids := make([]string, 0, len(selected))
	for _, ep := range selected {
		ids = append(ids, ep.ID)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "knowledge gathering produced no usable responses from %d endpoint(s):", len(selected))
	for _, id := range ids {
		res := byID[id]
		switch {
		case res.Error != "":
			fmt.Fprintf(&b, "\n- %s: %s", id, res.Error)
		case res.OK:
			fmt.Fprintf(&b, "\n- %s: below confidence threshold (%.2f)", id, res.Confidence)
		default:
			fmt.Fprintf(&b, "\n- %s: http status %d", id, res.Status)
		}
	}
	return b.String()
}

// truncateChars caps s at n characters without splitting a rune.
func truncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
