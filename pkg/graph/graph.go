// Package graph persists session state as a small entity graph: named
// entities carrying string observations, connected by typed relations.
// The session store writes through it asynchronously; backends are an
// in-process map (default), SQL databases, and Redis.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/iron-manus/jarvis/pkg/config"
)

// DefaultSQLitePath is used when GRAPH_BACKEND=sqlite and GRAPH_DSN is empty.
const DefaultSQLitePath = "./iron-manus-graph.db"

// Entity is a named node with free-form string observations.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// Relation is a directed, typed edge between two entity names.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// ErrNotFound is returned by GetEntity for unknown entity names.
var ErrNotFound = errors.New("graph: entity not found")

// Store is the persistence contract behind the session store. Upserts are
// idempotent: entities replace by name, relations deduplicate on all three
// fields. Implementations must be safe for concurrent use.
type Store interface {
	UpsertEntities(ctx context.Context, entities []Entity) error
	UpsertRelations(ctx context.Context, relations []Relation) error
	GetEntity(ctx context.Context, name string) (Entity, error)
	RelationsFrom(ctx context.Context, from string) ([]Relation, error)
	Close() error
}

// New builds the Store selected by cfg.Backend.
func New(cfg config.GraphConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.GraphBackendMemory:
		return NewMemory(), nil
	case config.GraphBackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite graph at %s: %w", dsn, err)
		}
		return NewSQL(db, "sqlite")
	case config.GraphBackendPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres graph: %w", err)
		}
		return NewSQL(db, "postgres")
	case config.GraphBackendMySQL:
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql graph: %w", err)
		}
		return NewSQL(db, "mysql")
	case config.GraphBackendRedis:
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis graph DSN: %w", err)
		}
		return NewRedis(redis.NewClient(opts)), nil
	default:
		return nil, fmt.Errorf("unknown graph backend: %s (supported: memory, sqlite, postgres, mysql, redis)", cfg.Backend)
	}
}

// Retriable reports whether a persistence error is worth retrying.
// Network and timeout failures are transient; authentication and permission
// failures are permanent. Errors the backend cannot classify default to
// retriable, so a flaky store still gets its full attempt budget.
func Retriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"permission denied",
		"authentication",
		"access denied",
		"unauthorized",
		"noauth",
	} {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}

// sortRelations orders relations by target then type so backends without a
// natural ordering return deterministic results.
func sortRelations(relations []Relation) {
	sort.Slice(relations, func(i, j int) bool {
		if relations[i].To != relations[j].To {
			return relations[i].To < relations[j].To
		}
		return relations[i].RelationType < relations[j].RelationType
	})
}
