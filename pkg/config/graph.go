package config

import "fmt"

// Graph backend names.
const (
	GraphBackendMemory   = "memory"
	GraphBackendSQLite   = "sqlite"
	GraphBackendPostgres = "postgres"
	GraphBackendMySQL    = "mysql"
	GraphBackendRedis    = "redis"
)

// GraphConfig selects the persistent entity-graph backend behind the
// session store.
type GraphConfig struct {
	// Backend is one of memory, sqlite, postgres, mysql, redis.
	Backend string
	// DSN is the backend connection string. SQLite accepts a file path and
	// defaults to ./iron-manus-graph.db when empty; memory ignores it.
	DSN string
}

// SetDefaults applies graph defaults.
func (c *GraphConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = GraphBackendMemory
	}
}

func (c *GraphConfig) applyEnv(lookup lookupFunc) error {
	envString(lookup, "GRAPH_BACKEND", &c.Backend)
	envString(lookup, "GRAPH_DSN", &c.DSN)
	return nil
}

// Validate checks the graph section.
func (c *GraphConfig) Validate() error {
	switch c.Backend {
	case GraphBackendMemory, GraphBackendSQLite:
	case GraphBackendPostgres, GraphBackendMySQL, GraphBackendRedis:
		if c.DSN == "" {
			return fmt.Errorf("GRAPH_DSN is required when GRAPH_BACKEND=%s", c.Backend)
		}
	default:
		return fmt.Errorf("GRAPH_BACKEND must be one of memory, sqlite, postgres, mysql, redis, got %q", c.Backend)
	}
	return nil
}
