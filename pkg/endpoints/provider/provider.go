// Package provider abstracts where the endpoint registry document comes
// from. The embedded provider serves the bundled catalog; file reads from
// disk with optional change notification; consul, etcd, and zookeeper read
// a single key from the respective store.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/iron-manus/jarvis/pkg/config"
)

// Type identifies a provider implementation.
type Type string

// Known provider types.
const (
	TypeEmbedded  Type = "embedded"
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ErrWatchUnsupported is returned by providers that cannot report changes.
var ErrWatchUnsupported = errors.New("provider does not support watching")

// defaultRemoteKey is the registry key used by remote providers when
// REGISTRY_PATH is not set.
const defaultRemoteKey = "jarvis/endpoints"

// Provider supplies the raw registry document.
type Provider interface {
	// Type returns the provider kind.
	Type() Type
	// Load reads the current registry document.
	Load(ctx context.Context) ([]byte, error)
	// Watch returns a channel that receives a signal after each document
	// change. Providers without change detection return
	// ErrWatchUnsupported. The channel closes when watching stops.
	Watch(ctx context.Context) (<-chan struct{}, error)
	// Close releases provider resources.
	Close() error
}

// New builds the provider selected by the registry section.
func New(cfg config.RegistryConfig) (Provider, error) {
	switch cfg.Source {
	case config.RegistrySourceEmbedded:
		return NewEmbeddedProvider(), nil
	case config.RegistrySourceFile:
		return NewFileProvider(cfg.Path)
	case config.RegistrySourceConsul:
		return NewConsulProvider(cfg.Endpoints, keyOrDefault(cfg.Path))
	case config.RegistrySourceEtcd:
		return NewEtcdProvider(cfg.Endpoints, keyOrDefault(cfg.Path))
	case config.RegistrySourceZookeeper:
		return NewZookeeperProvider(cfg.Endpoints, znodeOrDefault(cfg.Path))
	default:
		return nil, fmt.Errorf("unknown registry source %q", cfg.Source)
	}
}

func keyOrDefault(path string) string {
	if path == "" {
		return defaultRemoteKey
	}
	return path
}

func znodeOrDefault(path string) string {
	if path == "" {
		return "/" + defaultRemoteKey
	}
	return path
}
