package provider

import (
	"context"
	"fmt"

	capi "github.com/hashicorp/consul/api"
)

// ConsulProvider reads the registry document from a Consul KV key.
type ConsulProvider struct {
	client *capi.Client
	key    string
}

// NewConsulProvider connects to Consul. With no address configured the
// client default (127.0.0.1:8500, or CONSUL_HTTP_ADDR) applies.
func NewConsulProvider(addresses []string, key string) (*ConsulProvider, error) {
	cfg := capi.DefaultConfig()
	if len(addresses) > 0 {
		cfg.Address = addresses[0]
	}
	client, err := capi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{client: client, key: key}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load fetches the registry key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	opts := (&capi.QueryOptions{}).WithContext(ctx)
	pair, _, err := p.client.KV().Get(p.key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch is unsupported for consul; the registry is loaded once at startup.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	return nil, ErrWatchUnsupported
}

// Close is a no-op; the consul client holds no persistent connection.
func (p *ConsulProvider) Close() error {
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
