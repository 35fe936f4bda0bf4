package todo

import (
	"fmt"
	"regexp"
	"strings"
)

// MetaPrompt is the four-tag delegation block a todo's content may carry:
//
//	(ROLE: coder) (CONTEXT: auth_module) (PROMPT: Add rate limiting) (OUTPUT: code)
//
// The server never spawns agents from these; it surfaces them to the external
// agent through the EXECUTE instruction text.
type MetaPrompt struct {
	Role    string `json:"role"`
	Context string `json:"context"`
	Prompt  string `json:"prompt"`
	Output  string `json:"output"`
}

// metaPromptPattern matches all four tags in order, case-insensitively.
// Tag bodies stop at the first closing parenthesis.
var metaPromptPattern = regexp.MustCompile(
	`(?is)\(ROLE:\s*([^)]*)\)\s*\(CONTEXT:\s*([^)]*)\)\s*\(PROMPT:\s*([^)]*)\)\s*\(OUTPUT:\s*([^)]*)\)`)

// HasMetaPrompt reports whether content contains a complete meta-prompt.
func HasMetaPrompt(content string) bool {
	return metaPromptPattern.MatchString(content)
}

// ParseMetaPrompt extracts the meta-prompt from content. The second return
// is false when any of the four tags is missing.
func ParseMetaPrompt(content string) (MetaPrompt, bool) {
	m := metaPromptPattern.FindStringSubmatch(content)
	if m == nil {
		return MetaPrompt{}, false
	}
	return MetaPrompt{
		Role:    strings.TrimSpace(m[1]),
		Context: strings.TrimSpace(m[2]),
		Prompt:  strings.TrimSpace(m[3]),
		Output:  strings.TrimSpace(m[4]),
	}, true
}

// Render produces the canonical textual form. ParseMetaPrompt(Render(m))
// returns m with whitespace-trimmed fields.
func (m MetaPrompt) Render() string {
	return fmt.Sprintf("(ROLE: %s) (CONTEXT: %s) (PROMPT: %s) (OUTPUT: %s)",
		m.Role, m.Context, m.Prompt, m.Output)
}
