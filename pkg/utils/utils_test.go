package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCounter skips the test when no encoding can be loaded; tiktoken fetches
// BPE tables on first use and offline environments have none cached.
func newCounter(t *testing.T) *TokenCounter {
	t.Helper()
	counter, err := NewTokenCounter("claude")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	return counter
}

func TestNewTokenCounter(t *testing.T) {
	counter := newCounter(t)
	require.NotNil(t, counter)
	assert.Equal(t, "claude", counter.Model())
}

func TestTokenCounterCount(t *testing.T) {
	counter := newCounter(t)

	assert.Zero(t, counter.Count(""))

	short := counter.Count("Hello, world!")
	assert.Positive(t, short)

	long := counter.Count("This is a longer sentence with more words and therefore more tokens than the short one.")
	assert.Greater(t, long, short)
}

func TestTokenCounterSharesEncodings(t *testing.T) {
	first := newCounter(t)
	second, err := NewTokenCounter("claude")
	require.NoError(t, err)

	text := "cached encodings agree"
	assert.Equal(t, first.Count(text), second.Count(text))
}

func TestWorkspacePath(t *testing.T) {
	root := filepath.Join("var", "sessions")

	assert.Equal(t, filepath.Join(root, "session_abc12345"),
		WorkspacePath(root, "session_abc12345"))

	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		assert.Equal(t, filepath.Join(root, "invalid"), WorkspacePath(root, id),
			"id %q must not address outside the root", id)
	}
}
