package roles

import (
	"regexp"
	"strings"
)

var (
	contextTagPattern = regexp.MustCompile(`(?i)\(CONTEXT:\s*([^)]*)\)`)
	roleTagPattern    = regexp.MustCompile(`(?i)\(ROLE:\s*([A-Za-z_-]+)\s*\)`)
)

// uiContextTokens mark a (CONTEXT: ...) tag as interface work.
var uiContextTokens = []string{
	"ui", "ux", "frontend", "front-end", "front_end",
	"interface", "component", "design",
}

// Detect derives a role from a free-form objective. It is the deterministic
// fallback used when the agent supplies no (or an invalid) role selection.
//
// Precedence: a UI-flavored (CONTEXT: ...) tag wins, then an explicit
// (ROLE: ...) tag, then keyword groups evaluated in a fixed order. The
// default is researcher.
func Detect(objective string) Role {
	lower := strings.ToLower(objective)

	if ctx, ok := contextTag(objective); ok && isUIContext(ctx) {
		return detectUIRole(lower)
	}

	if m := roleTagPattern.FindStringSubmatch(objective); m != nil {
		if r, err := Parse(m[1]); err == nil {
			return r
		}
	}

	keywordGroups := []struct {
		role     Role
		keywords []string
	}{
		{RolePlanner, []string{"plan", "strategy", "design", "architect"}},
		{RoleCoder, []string{"implement", "code", "build", "develop", "program"}},
		{RoleCritic, []string{"review", "audit", "validate", "security"}},
		{RoleAnalyzer, []string{"data", "metrics", "statistics"}},
		{RoleSynthesizer, []string{"integrate", "combine", "merge", "optimize"}},
	}

	for _, group := range keywordGroups {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.role
			}
		}
	}

	return RoleResearcher
}

// detectUIRole picks among the three UI roles by objective keywords.
func detectUIRole(lower string) Role {
	refiner := []string{"refine", "polish", "optimize", "styling"}
	for _, kw := range refiner {
		if strings.Contains(lower, kw) {
			return RoleUIRefiner
		}
	}

	architect := []string{"architect", "design system", "plan"}
	for _, kw := range architect {
		if strings.Contains(lower, kw) {
			return RoleUIArchitect
		}
	}

	implementer := []string{"implement", "code", "build"}
	for _, kw := range implementer {
		if strings.Contains(lower, kw) {
			return RoleUIImplementer
		}
	}

	return RoleUIImplementer
}

func contextTag(objective string) (string, bool) {
	m := contextTagPattern.FindStringSubmatch(objective)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func isUIContext(ctx string) bool {
	lower := strings.ToLower(ctx)
	for _, token := range uiContextTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
