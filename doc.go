// Package jarvis is a stateful orchestration server that drives an external
// reasoning agent through a fixed eight-phase workflow.
//
// The server exposes a single MCP tool, JARVIS, as its entry point. Each call
// reports which phase the agent just completed and what it produced; the
// server answers with the next phase, fresh instruction text, the exact set
// of tools the agent may use, and the accumulated session context.
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/iron-manus/jarvis/cmd/jarvis@latest
//
// Run it over stdio (the default MCP transport):
//
//	jarvis serve
//
// Or over streamable HTTP:
//
//	jarvis serve --transport http --http-addr :8080
//
// # Phases
//
// Sessions walk a fixed state machine:
//
//	INIT → QUERY → ENHANCE → KNOWLEDGE → PLAN → EXECUTE → VERIFY → DONE
//
// VERIFY may roll back to PLAN or EXECUTE when the task list does not meet
// the completion thresholds; every other edge only advances.
//
// # Packages
//
//	import (
//	    "github.com/iron-manus/jarvis/pkg/fsm"       // phase controller
//	    "github.com/iron-manus/jarvis/pkg/session"   // session store
//	    "github.com/iron-manus/jarvis/pkg/knowledge" // knowledge orchestrator
//	    "github.com/iron-manus/jarvis/pkg/prompt"    // prompt assembler
//	)
//
// Configuration comes from environment variables (see pkg/config); the
// endpoint registry the knowledge phase queries can be loaded from an
// embedded default set, a file, consul, etcd, or zookeeper.
package jarvis
