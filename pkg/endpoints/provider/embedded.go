package provider

import (
	"context"
	_ "embed"
)

// registryYAML is the catalog bundled with the server. Operators override
// it with REGISTRY_SOURCE=file/consul/etcd/zookeeper.
//
//go:embed registry.yaml
var registryYAML []byte

// EmbeddedProvider serves the compiled-in registry document.
type EmbeddedProvider struct{}

// NewEmbeddedProvider returns the provider for the bundled catalog.
func NewEmbeddedProvider() *EmbeddedProvider {
	return &EmbeddedProvider{}
}

// Type returns TypeEmbedded.
func (p *EmbeddedProvider) Type() Type {
	return TypeEmbedded
}

// Load returns the bundled document.
func (p *EmbeddedProvider) Load(ctx context.Context) ([]byte, error) {
	return registryYAML, nil
}

// Watch is unsupported: the bundled document never changes.
func (p *EmbeddedProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	return nil, ErrWatchUnsupported
}

// Close is a no-op.
func (p *EmbeddedProvider) Close() error {
	return nil
}

var _ Provider = (*EmbeddedProvider)(nil)
