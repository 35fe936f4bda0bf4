// Package server assembles and runs the Iron Manus MCP server.
//
// It wires the full component graph (endpoint registry, session store,
// knowledge orchestrator, phase controller) behind four MCP tools and serves
// them over stdio or streamable HTTP. The HTTP transport adds health and
// metrics endpoints plus optional bearer authentication.
package server
