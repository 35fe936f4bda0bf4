package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore persists the graph in a relational database. Concurrency is
// handled by database-level locking; each upsert batch runs in one
// transaction.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Schema creation SQL. The relations primary key doubles as the index for
// RelationsFrom (from_name is its leftmost column).
const createEntitiesSchemaSQL = `
CREATE TABLE IF NOT EXISTS graph_entities (
    name VARCHAR(255) NOT NULL,
    entity_type VARCHAR(64) NOT NULL,
    observations TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name)
)`

const createRelationsSchemaSQL = `
CREATE TABLE IF NOT EXISTS graph_relations (
    from_name VARCHAR(255) NOT NULL,
    to_name VARCHAR(255) NOT NULL,
    relation_type VARCHAR(64) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (from_name, to_name, relation_type)
)`

// NewSQL wraps an open database handle and creates the schema if needed.
func NewSQL(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite", "sqlite3":
		if dialect == "sqlite3" {
			dialect = "sqlite"
		}
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Execute each statement separately for SQLite compatibility
	for _, stmt := range []string{createEntitiesSchemaSQL, createRelationsSchemaSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	now := time.Now()
	query := s.upsertEntityQuery()
	for _, e := range entities {
		obsJSON, err := json.Marshal(e.Observations)
		if err != nil {
			return fmt.Errorf("failed to marshal observations for %s: %w", e.Name, err)
		}
		if _, err := tx.ExecContext(ctx, query, e.Name, e.EntityType, string(obsJSON), now); err != nil {
			return fmt.Errorf("failed to upsert entity %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertRelations(ctx context.Context, relations []Relation) error {
	if len(relations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	query := s.insertRelationQuery()
	for _, r := range relations {
		if _, err := tx.ExecContext(ctx, query, r.From, r.To, r.RelationType, now); err != nil {
			return fmt.Errorf("failed to insert relation %s -> %s: %w", r.From, r.To, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) GetEntity(ctx context.Context, name string) (Entity, error) {
	query := s.toDialect(`SELECT name, entity_type, observations FROM graph_entities WHERE name = ?`)

	var e Entity
	var obsJSON string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&e.Name, &e.EntityType, &obsJSON)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("failed to get entity %s: %w", name, err)
	}

	if obsJSON != "" {
		if err := json.Unmarshal([]byte(obsJSON), &e.Observations); err != nil {
			return Entity{}, fmt.Errorf("failed to unmarshal observations for %s: %w", name, err)
		}
	}
	return e, nil
}

func (s *SQLStore) RelationsFrom(ctx context.Context, from string) ([]Relation, error) {
	query := s.toDialect(`SELECT from_name, to_name, relation_type FROM graph_relations
              WHERE from_name = ? ORDER BY to_name, relation_type`)

	rows, err := s.db.QueryContext(ctx, query, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations from %s: %w", from, err)
	}
	defer rows.Close()

	var relations []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.From, &r.To, &r.RelationType); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

// =============================================================================
// SQL Query Builders (dialect-specific)
// =============================================================================

func (s *SQLStore) upsertEntityQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO graph_entities (name, entity_type, observations, updated_at)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (name) DO UPDATE SET entity_type = $2, observations = $3, updated_at = $4`
	case "mysql":
		return `INSERT INTO graph_entities (name, entity_type, observations, updated_at)
                VALUES (?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE entity_type = VALUES(entity_type), observations = VALUES(observations), updated_at = VALUES(updated_at)`
	default: // sqlite
		return `INSERT INTO graph_entities (name, entity_type, observations, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT (name) DO UPDATE SET entity_type = excluded.entity_type, observations = excluded.observations, updated_at = excluded.updated_at`
	}
}

func (s *SQLStore) insertRelationQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO graph_relations (from_name, to_name, relation_type, created_at)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (from_name, to_name, relation_type) DO NOTHING`
	case "mysql":
		return `INSERT IGNORE INTO graph_relations (from_name, to_name, relation_type, created_at)
                VALUES (?, ?, ?, ?)`
	default: // sqlite
		return `INSERT INTO graph_relations (from_name, to_name, relation_type, created_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT (from_name, to_name, relation_type) DO NOTHING`
	}
}

// toDialect rewrites ? placeholders to $1, $2, ... for postgres.
func (s *SQLStore) toDialect(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Compile-time interface check
var _ Store = (*SQLStore)(nil)
