package graph

import (
	"context"
	"sync"
)

// Memory is the default in-process Store. A single RWMutex guards the whole
// graph; the write-behind queue already serializes writers per session, so
// contention stays low.
type Memory struct {
	mu        sync.RWMutex
	entities  map[string]Entity
	relations map[Relation]struct{}
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[string]Entity),
		relations: make(map[Relation]struct{}),
	}
}

func (m *Memory) UpsertEntities(_ context.Context, entities []Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		e.Observations = append([]string(nil), e.Observations...)
		m.entities[e.Name] = e
	}
	return nil
}

func (m *Memory) UpsertRelations(_ context.Context, relations []Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range relations {
		m.relations[r] = struct{}{}
	}
	return nil
}

func (m *Memory) GetEntity(_ context.Context, name string) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[name]
	if !ok {
		return Entity{}, ErrNotFound
	}
	e.Observations = append([]string(nil), e.Observations...)
	return e, nil
}

func (m *Memory) RelationsFrom(_ context.Context, from string) ([]Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Relation
	for r := range m.relations {
		if r.From == from {
			out = append(out, r)
		}
	}
	sortRelations(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

// Compile-time interface check
var _ Store = (*Memory)(nil)
