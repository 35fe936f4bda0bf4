package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iron-manus/jarvis/pkg/config"
)

func TestEmbeddedProvider(t *testing.T) {
	p := NewEmbeddedProvider()
	assert.Equal(t, TypeEmbedded, p.Type())

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), "endpoints:")

	_, err = p.Watch(context.Background())
	assert.ErrorIs(t, err, ErrWatchUnsupported)

	assert.NoError(t, p.Close())
}

func TestFileProviderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints: []\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.Equal(t, TypeFile, p.Type())

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "endpoints: []\n", string(data))
}

func TestFileProviderLoadMissingFile(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	_, err = p.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read registry file")
}

func TestFileProviderWatchSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints: []\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("endpoints: []\n# edited\n"), 0o644))

	select {
	case _, ok := <-ch:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal after writing the registry file")
	}

	// Changes to sibling files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	select {
	case <-ch:
		t.Fatal("unexpected signal for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close when the context is cancelled")
	case <-time.After(3 * time.Second):
		t.Fatal("watch channel did not close after cancellation")
	}
}

func TestFileProviderWatchAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints: []\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Watch(context.Background())
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	p, err := New(config.RegistryConfig{Source: config.RegistrySourceEmbedded})
	require.NoError(t, err)
	assert.Equal(t, TypeEmbedded, p.Type())

	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints: []\n"), 0o644))
	p, err = New(config.RegistryConfig{Source: config.RegistrySourceFile, Path: path})
	require.NoError(t, err)
	assert.Equal(t, TypeFile, p.Type())

	_, err = New(config.RegistryConfig{Source: "gopher"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown registry source")
}

func TestRemoteKeyDefaults(t *testing.T) {
	assert.Equal(t, "jarvis/endpoints", keyOrDefault(""))
	assert.Equal(t, "custom/key", keyOrDefault("custom/key"))
	assert.Equal(t, "/jarvis/endpoints", znodeOrDefault(""))
	assert.Equal(t, "/custom", znodeOrDefault("/custom"))
}
