package endpoints

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iron-manus/jarvis/pkg/endpoints/provider"
	"github.com/iron-manus/jarvis/pkg/roles"
)

const sampleYAML = `
endpoints:
  - id: beta
    name: Beta Service
    url: https://beta.example.com/api
    category: research
    role_affinity: [researcher, analyzer]
    confidence_weight: 0.8
  - id: alpha
    name: Alpha Service
    url: https://alpha.example.com/api
    category: research
    role_affinity: [researcher]
    confidence_weight: 0.8
  - id: gamma
    name: Gamma Service
    url: https://gamma.example.com/api
    category: development
    role_affinity: [coder, researcher]
    confidence_weight: 0.95
`

const sampleJSON = `{
  "endpoints": [
    {
      "id": "delta",
      "name": "Delta Service",
      "url": "https://delta.example.com/api",
      "category": "data",
      "role_affinity": ["analyzer"],
      "confidence_weight": 0.5
    }
  ]
}`

func mustRegistry(t *testing.T, doc string) *Registry {
	t.Helper()
	descriptors, err := Parse([]byte(doc))
	require.NoError(t, err)
	r, err := New(descriptors)
	require.NoError(t, err)
	return r
}

func TestParseYAML(t *testing.T) {
	descriptors, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, descriptors, 3)

	assert.Equal(t, "beta", descriptors[0].ID)
	assert.Equal(t, "Beta Service", descriptors[0].Name)
	assert.Equal(t, []roles.Role{roles.RoleResearcher, roles.RoleAnalyzer}, descriptors[0].RoleAffinity)
	assert.InDelta(t, 0.8, descriptors[0].ConfidenceWeight, 1e-9)
}

func TestParseJSON(t *testing.T) {
	descriptors, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "delta", descriptors[0].ID)
	assert.True(t, descriptors[0].HasAffinity(roles.RoleAnalyzer))
}

func TestValidateRejections(t *testing.T) {
	base := func() []Descriptor {
		d, err := Parse([]byte(sampleYAML))
		require.NoError(t, err)
		return d
	}

	tests := []struct {
		name   string
		mutate func([]Descriptor) []Descriptor
		want   string
	}{
		{"duplicate id", func(d []Descriptor) []Descriptor {
			d[1].ID = d[0].ID
			return d
		}, "duplicate id"},
		{"empty id", func(d []Descriptor) []Descriptor {
			d[0].ID = ""
			return d
		}, "id must not be empty"},
		{"empty name", func(d []Descriptor) []Descriptor {
			d[0].Name = ""
			return d
		}, "name must not be empty"},
		{"relative url", func(d []Descriptor) []Descriptor {
			d[0].URL = "/just/a/path"
			return d
		}, "absolute http(s) URL"},
		{"bad scheme", func(d []Descriptor) []Descriptor {
			d[0].URL = "ftp://example.com/x"
			return d
		}, "absolute http(s) URL"},
		{"weight above one", func(d []Descriptor) []Descriptor {
			d[0].ConfidenceWeight = 1.2
			return d
		}, "confidence_weight"},
		{"negative weight", func(d []Descriptor) []Descriptor {
			d[0].ConfidenceWeight = -0.1
			return d
		}, "confidence_weight"},
		{"unknown role", func(d []Descriptor) []Descriptor {
			d[0].RoleAffinity = []roles.Role{"wizard"}
			return d
		}, "unknown role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mutate(base()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSelectByRoleOrdering(t *testing.T) {
	r := mustRegistry(t, sampleYAML)

	// gamma has the highest weight; alpha and beta tie at 0.8 and are
	// broken lexicographically by id.
	selected := r.SelectByRole(roles.RoleResearcher, 3)
	require.Len(t, selected, 3)
	assert.Equal(t, "gamma", selected[0].ID)
	assert.Equal(t, "alpha", selected[1].ID)
	assert.Equal(t, "beta", selected[2].ID)

	// The ordering is deterministic across calls.
	again := r.SelectByRole(roles.RoleResearcher, 3)
	assert.Equal(t, selected, again)
}

func TestSelectByRoleLimitAndMiss(t *testing.T) {
	r := mustRegistry(t, sampleYAML)

	selected := r.SelectByRole(roles.RoleResearcher, 2)
	require.Len(t, selected, 2)
	assert.Equal(t, "gamma", selected[0].ID)

	assert.Empty(t, r.SelectByRole(roles.RoleUIRefiner, 3))
}

func TestSearch(t *testing.T) {
	r := mustRegistry(t, sampleYAML)

	// Name tokens dominate.
	results := r.Search("beta service", "", "", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "beta", results[0].ID)

	// Role affinity boosts otherwise equal candidates.
	results = r.Search("service", roles.RoleCoder, "", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "gamma", results[0].ID)

	// Category restricts the candidate set.
	results = r.Search("service", "", "development", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "gamma", results[0].ID)

	// Limit caps the result count.
	results = r.Search("service", "", "", 2)
	assert.Len(t, results, 2)

	assert.Empty(t, r.Search("zebra unrelated", "", "", 5))
}

func TestGetAndAll(t *testing.T) {
	r := mustRegistry(t, sampleYAML)

	d, ok := r.Get("gamma")
	require.True(t, ok)
	assert.Equal(t, "Gamma Service", d.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Len(t, r.All(), 3)
	assert.Equal(t, 3, r.Len())
}

func TestEmbeddedCatalogIsValidAndCoversAllRoles(t *testing.T) {
	p := provider.NewEmbeddedProvider()
	r, err := Load(context.Background(), p)
	require.NoError(t, err)
	assert.Greater(t, r.Len(), 5)

	for _, role := range roles.All {
		assert.NotEmpty(t, r.SelectByRole(role, 3), "no embedded endpoint serves role %s", role)
	}
}

// scriptedProvider drives Watch deterministically from a test.
type scriptedProvider struct {
	data   atomic.Value
	signal chan struct{}
}

func newScriptedProvider(doc string) *scriptedProvider {
	p := &scriptedProvider{signal: make(chan struct{}, 1)}
	p.data.Store([]byte(doc))
	return p
}

func (p *scriptedProvider) Type() provider.Type { return "scripted" }

func (p *scriptedProvider) Load(context.Context) ([]byte, error) {
	return p.data.Load().([]byte), nil
}

func (p *scriptedProvider) Watch(context.Context) (<-chan struct{}, error) {
	return p.signal, nil
}

func (p *scriptedProvider) Close() error { return nil }

func TestWatchSwapsOnValidDocument(t *testing.T) {
	p := newScriptedProvider(sampleYAML)
	r, err := Load(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Watch(ctx, p)
	}()

	p.data.Store([]byte(sampleJSON))
	p.signal <- struct{}{}

	require.Eventually(t, func() bool { return r.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, ok := r.Get("delta")
	assert.True(t, ok)

	cancel()
	<-done
}

func TestReloadRejectsInvalidDocument(t *testing.T) {
	p := newScriptedProvider(sampleYAML)
	r, err := Load(context.Background(), p)
	require.NoError(t, err)

	// A document with a duplicate id must not replace the current set.
	p.data.Store([]byte(`
endpoints:
  - id: dup
    name: One
    url: https://one.example.com/
    confidence_weight: 0.5
  - id: dup
    name: Two
    url: https://two.example.com/
    confidence_weight: 0.5
`))
	r.reload(context.Background(), p)
	assert.Equal(t, 3, r.Len())
	_, ok := r.Get("dup")
	assert.False(t, ok)
}
