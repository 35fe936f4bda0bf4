package config

import "fmt"

// Registry source names.
const (
	RegistrySourceEmbedded  = "embedded"
	RegistrySourceFile      = "file"
	RegistrySourceConsul    = "consul"
	RegistrySourceEtcd      = "etcd"
	RegistrySourceZookeeper = "zookeeper"
)

// RegistryConfig selects where the endpoint registry document is loaded
// from at startup.
type RegistryConfig struct {
	// Source is one of embedded, file, consul, etcd, zookeeper.
	Source string
	// Path is the document location: a filesystem path for the file
	// source, or the key/znode for remote sources (default
	// jarvis/endpoints).
	Path string
	// Endpoints lists remote source addresses (host:port). Consul falls
	// back to its client default (127.0.0.1:8500) when empty.
	Endpoints []string
}

// SetDefaults applies registry defaults.
func (c *RegistryConfig) SetDefaults() {
	if c.Source == "" {
		c.Source = RegistrySourceEmbedded
	}
}

func (c *RegistryConfig) applyEnv(lookup lookupFunc) error {
	envString(lookup, "REGISTRY_SOURCE", &c.Source)
	envString(lookup, "REGISTRY_PATH", &c.Path)
	envStrings(lookup, "REGISTRY_ENDPOINTS", &c.Endpoints)
	return nil
}

// Validate checks the registry section.
func (c *RegistryConfig) Validate() error {
	switch c.Source {
	case RegistrySourceEmbedded:
	case RegistrySourceFile:
		if c.Path == "" {
			return fmt.Errorf("REGISTRY_PATH is required when REGISTRY_SOURCE=%s", RegistrySourceFile)
		}
	case RegistrySourceConsul:
	case RegistrySourceEtcd, RegistrySourceZookeeper:
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("REGISTRY_ENDPOINTS is required when REGISTRY_SOURCE=%s", c.Source)
		}
	default:
		return fmt.Errorf("REGISTRY_SOURCE must be one of embedded, file, consul, etcd, zookeeper, got %q", c.Source)
	}
	return nil
}
