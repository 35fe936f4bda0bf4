package utils

import (
	"path/filepath"
	"strings"
)

// WorkspacePath resolves the workspace directory for sessionID under root.
// Session ids never contain path separators or dot segments (enforced at
// the tool boundary); anything else is quarantined so no id can address
// outside the root.
func WorkspacePath(root, sessionID string) string {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) {
		sessionID = "invalid"
	}
	return filepath.Join(root, sessionID)
}
