package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider reads the registry document from a znode.
type ZookeeperProvider struct {
	conn  *zk.Conn
	znode string
}

// NewZookeeperProvider connects to the ZooKeeper ensemble.
func NewZookeeperProvider(servers []string, znode string) (*ZookeeperProvider, error) {
	conn, _, err := zk.Connect(servers, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &ZookeeperProvider{conn: conn, znode: znode}, nil
}

// Type returns TypeZookeeper.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load fetches the registry znode.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.znode)
	if err != nil {
		return nil, fmt.Errorf("failed to read znode %s: %w", p.znode, err)
	}
	return data, nil
}

// Watch is unsupported for zookeeper; the registry is loaded once at
// startup.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	return nil, ErrWatchUnsupported
}

// Close closes the ZooKeeper connection.
func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)
