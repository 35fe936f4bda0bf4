// Package roles defines the nine cognitive roles that shape per-phase
// instructions, plus the deterministic heuristic that detects a role from a
// free-form objective.
package roles

import (
	"fmt"
	"strings"
)

// Role is a static cognitive profile tag.
type Role string

const (
	RolePlanner       Role = "planner"
	RoleCoder         Role = "coder"
	RoleCritic        Role = "critic"
	RoleResearcher    Role = "researcher"
	RoleAnalyzer      Role = "analyzer"
	RoleSynthesizer   Role = "synthesizer"
	RoleUIArchitect   Role = "ui_architect"
	RoleUIImplementer Role = "ui_implementer"
	RoleUIRefiner     Role = "ui_refiner"
)

// All lists every role.
var All = []Role{
	RolePlanner,
	RoleCoder,
	RoleCritic,
	RoleResearcher,
	RoleAnalyzer,
	RoleSynthesizer,
	RoleUIArchitect,
	RoleUIImplementer,
	RoleUIRefiner,
}

// Complexity describes how much reasoning depth a role's tasks usually need.
type Complexity string

const (
	ComplexitySimple    Complexity = "simple"
	ComplexityMultiStep Complexity = "multi-step"
	ComplexityComplex   Complexity = "complex"
)

// RoleConfig is the immutable record backing a role.
type RoleConfig struct {
	DefaultOutput   string
	Focus           string
	Complexity      Complexity
	Frameworks      []string
	ValidationRules []string
	Thinking        []string
	Authority       string
}

// Parse converts a string to a Role. Hyphens are normalized to underscores
// so "ui-architect" and "ui_architect" both resolve.
func Parse(s string) (Role, error) {
	r := Role(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the nine roles.
func (r Role) Valid() bool {
	_, ok := configs[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// Config returns the immutable record for r. Unknown roles fall back to the
// researcher record, which is also the heuristic default.
func Config(r Role) RoleConfig {
	if cfg, ok := configs[r]; ok {
		return cfg
	}
	return configs[RoleResearcher]
}

var configs = map[Role]RoleConfig{
	RolePlanner: {
		DefaultOutput: "strategic_architecture",
		Focus:         "systematic_decomposition",
		Complexity:    ComplexityComplex,
		Frameworks:    []string{"systems_thinking", "dependency_analysis"},
		ValidationRules: []string{
			"logical_consistency", "resource_feasibility",
		},
		Thinking: []string{
			"Break the objective into sequential milestones with explicit dependencies",
			"Identify the critical path and the tasks that can run in parallel",
			"State completion criteria for every milestone before decomposing further",
			"Surface risks early and attach a mitigation to each",
		},
		Authority: "STRATEGIZE_AND_COORDINATE",
	},
	RoleCoder: {
		DefaultOutput: "implementation_with_tests",
		Focus:         "modular_development",
		Complexity:    ComplexityMultiStep,
		Frameworks:    []string{"test_driven_development", "modular_architecture"},
		ValidationRules: []string{
			"syntax_correctness", "test_coverage",
		},
		Thinking: []string{
			"Write the interface before the implementation",
			"Prefer small composable units over monoliths",
			"Add error handling at every boundary that can fail",
			"Verify behavior with tests before declaring a task complete",
		},
		Authority: "IMPLEMENT_AND_VALIDATE",
	},
	RoleCritic: {
		DefaultOutput: "quality_assessment",
		Focus:         "security_and_correctness",
		Complexity:    ComplexityMultiStep,
		Frameworks:    []string{"security_review", "code_quality_analysis"},
		ValidationRules: []string{
			"vulnerability_scan", "standards_compliance",
		},
		Thinking: []string{
			"Assume every input is hostile until proven otherwise",
			"Check the failure paths before the happy path",
			"Compare the implementation against its stated requirements line by line",
			"Rank findings by severity and attach concrete remediation steps",
		},
		Authority: "EVALUATE_AND_REFINE",
	},
	RoleResearcher: {
		DefaultOutput: "comprehensive_research",
		Focus:         "parallel_information_gathering",
		Complexity:    ComplexityMultiStep,
		Frameworks:    []string{"systematic_research", "source_triangulation"},
		ValidationRules: []string{
			"source_credibility", "information_relevance",
		},
		Thinking: []string{
			"Gather from multiple independent sources before concluding",
			"Distinguish primary evidence from commentary",
			"Note the confidence and recency of every claim",
			"Contradictions between sources are findings, not noise",
		},
		Authority: "INVESTIGATE_AND_SYNTHESIZE",
	},
	RoleAnalyzer: {
		DefaultOutput: "analytical_insights",
		Focus:         "data_driven_reasoning",
		Complexity:    ComplexityComplex,
		Frameworks:    []string{"statistical_analysis", "pattern_recognition"},
		ValidationRules: []string{
			"methodological_rigor", "statistical_significance",
		},
		Thinking: []string{
			"Profile the data before interpreting it",
			"Quantify uncertainty alongside every estimate",
			"Separate correlation from causation explicitly",
			"Visualize distributions before summarizing them with single numbers",
		},
		Authority: "ANALYZE_AND_REPORT",
	},
	RoleSynthesizer: {
		DefaultOutput: "integrated_solution",
		Focus:         "component_integration",
		Complexity:    ComplexityComplex,
		Frameworks:    []string{"system_integration", "optimization_patterns"},
		ValidationRules: []string{
			"interface_compatibility", "performance_regression",
		},
		Thinking: []string{
			"Map every interface between the parts being combined",
			"Resolve conflicts at the boundary, not inside the components",
			"Measure before and after when optimizing",
			"Keep a rollback path for every integration step",
		},
		Authority: "INTEGRATE_AND_OPTIMIZE",
	},
	RoleUIArchitect: {
		DefaultOutput: "design_system_specification",
		Focus:         "interface_architecture",
		Complexity:    ComplexityComplex,
		Frameworks:    []string{"design_systems", "component_hierarchies"},
		ValidationRules: []string{
			"accessibility_standards", "consistency_check",
		},
		Thinking: []string{
			"Define the design tokens before any component",
			"Describe layout as a hierarchy with explicit breakpoints",
			"Specify interaction states for every interactive element",
			"Accessibility is a structural requirement, not a finish",
		},
		Authority: "DESIGN_AND_SPECIFY",
	},
	RoleUIImplementer: {
		DefaultOutput: "working_interface",
		Focus:         "component_construction",
		Complexity:    ComplexityMultiStep,
		Frameworks:    []string{"component_driven_development", "responsive_layout"},
		ValidationRules: []string{
			"visual_fidelity", "responsive_behavior",
		},
		Thinking: []string{
			"Build components bottom-up from the design system",
			"Match the specification before adding flourish",
			"Test each breakpoint as you build, not after",
			"Keep styling colocated with the component that owns it",
		},
		Authority: "BUILD_AND_STYLE",
	},
	RoleUIRefiner: {
		DefaultOutput: "polished_interface",
		Focus:         "visual_refinement",
		Complexity:    ComplexitySimple,
		Frameworks:    []string{"progressive_enhancement", "micro_interactions"},
		ValidationRules: []string{
			"pixel_accuracy", "interaction_smoothness",
		},
		Thinking: []string{
			"Fix alignment and spacing before color and typography",
			"Motion should explain state changes, never decorate them",
			"Audit contrast and focus states on every pass",
			"Small consistent improvements beat large rewrites",
		},
		Authority: "POLISH_AND_PERFECT",
	},
}
