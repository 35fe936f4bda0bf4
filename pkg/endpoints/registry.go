package endpoints

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/iron-manus/jarvis/pkg/endpoints/provider"
	"github.com/iron-manus/jarvis/pkg/roles"
)

// Registry is the validated, in-memory descriptor catalog. Reads are lock
// free in the common case; the only writer is the opt-in watch, which swaps
// the whole set atomically after re-validation.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	byID        map[string]Descriptor
}

// New builds a registry from a descriptor set, validating it first.
func New(descriptors []Descriptor) (*Registry, error) {
	if err := Validate(descriptors); err != nil {
		return nil, err
	}
	r := &Registry{}
	r.swap(descriptors)
	return r, nil
}

// Load reads, parses, and validates the registry document from a provider.
func Load(ctx context.Context, p provider.Provider) (*Registry, error) {
	data, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry from %s provider: %w", p.Type(), err)
	}
	descriptors, err := Parse(data)
	if err != nil {
		return nil, err
	}
	r, err := New(descriptors)
	if err != nil {
		return nil, err
	}
	slog.Info("Endpoint registry loaded", "provider", p.Type(), "endpoints", r.Len())
	return r, nil
}

func (r *Registry) swap(descriptors []Descriptor) {
	byID := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}
	r.mu.Lock()
	r.descriptors = descriptors
	r.byID = byID
	r.mu.Unlock()
}

// Len returns the descriptor count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// All returns a copy of every descriptor.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Get returns the descriptor with the given id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// SelectByRole returns up to limit endpoints whose role affinity contains
// role, ordered by confidence weight descending, ties broken by id
// ascending. The ordering is total, so repeated calls agree.
func (r *Registry) SelectByRole(role roles.Role, limit int) []Descriptor {
	r.mu.RLock()
	var matched []Descriptor
	for _, d := range r.descriptors {
		if d.HasAffinity(role) {
			matched = append(matched, d)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ConfidenceWeight != matched[j].ConfidenceWeight {
			return matched[i].ConfidenceWeight > matched[j].ConfidenceWeight
		}
		return matched[i].ID < matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Search ranks endpoints against a free-text query. Tokens are matched
// case-insensitively against name, id, and category; a role match adds an
// affinity bonus; a non-empty category restricts the candidate set.
// Results order by score descending, then confidence weight descending,
// then id ascending.
func (r *Registry) Search(query string, role roles.Role, category string, limit int) []Descriptor {
	if limit <= 0 {
		limit = 5
	}
	tokens := strings.Fields(strings.ToLower(query))

	type scored struct {
		d     Descriptor
		score float64
	}
	var results []scored

	r.mu.RLock()
	candidates := make([]Descriptor, len(r.descriptors))
	copy(candidates, r.descriptors)
	r.mu.RUnlock()

	for _, d := range candidates {
		if category != "" && !strings.EqualFold(d.Category, category) {
			continue
		}
		var score float64
		name := strings.ToLower(d.Name)
		id := strings.ToLower(d.ID)
		cat := strings.ToLower(d.Category)
		for _, token := range tokens {
			switch {
			case strings.Contains(name, token):
				score += 3
			case strings.Contains(id, token):
				score += 2
			case strings.Contains(cat, token):
				score += 2
			case strings.Contains(strings.ToLower(d.URL), token):
				score++
			}
		}
		if role.Valid() && d.HasAffinity(role) {
			score += 2
		}
		if score > 0 {
			results = append(results, scored{d: d, score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].d.ConfidenceWeight != results[j].d.ConfidenceWeight {
			return results[i].d.ConfidenceWeight > results[j].d.ConfidenceWeight
		}
		return results[i].d.ID < results[j].d.ID
	})

	out := make([]Descriptor, 0, limit)
	for _, s := range results {
		out = append(out, s.d)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Watch reloads the registry document whenever the provider signals a
// change and swaps the descriptor set atomically. A document that fails to
// parse or validate is rejected and the current set stays in place. Watch
// blocks until ctx is done or the provider stops signalling.
func (r *Registry) Watch(ctx context.Context, p provider.Provider) error {
	ch, err := p.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			r.reload(ctx, p)
		}
	}
}

func (r *Registry) reload(ctx context.Context, p provider.Provider) {
	data, err := p.Load(ctx)
	if err != nil {
		slog.Warn("Failed to reload registry", "provider", p.Type(), "error", err)
		return
	}
	descriptors, err := Parse(data)
	if err != nil {
		slog.Warn("Rejected registry reload", "provider", p.Type(), "error", err)
		return
	}
	if err := Validate(descriptors); err != nil {
		slog.Warn("Rejected registry reload", "provider", p.Type(), "error", err)
		return
	}
	r.swap(descriptors)
	slog.Info("Endpoint registry reloaded", "provider", p.Type(), "endpoints", len(descriptors))
}
