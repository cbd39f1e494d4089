package keyring

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quam/quam-engine/internal/transcript"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeys(t *testing.T) {
	input := `
# primary pool
k1
k2, k3

k1
  k4
`
	keys, err := ParseKeys(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3", "k4"}, keys)
}

func TestStatic_SnapshotIsACopy(t *testing.T) {
	s := NewStatic([]string{"a", "", "b", "a"})
	assert.Equal(t, 2, s.Len())

	snap := s.Keys()
	snap[0] = "mutated"
	assert.Equal(t, transcript.KeyPool{"a", "b"}, s.Keys())
}

func TestChain(t *testing.T) {
	c := Chain{NewStatic([]string{"a", "b"}), NewStatic([]string{"b", "c"})}
	assert.Equal(t, transcript.KeyPool{"a", "b", "c"}, c.Keys())
	assert.Equal(t, 3, c.Len())
}

func TestFile_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("k1\nk2\n"), 0o600))

	f, err := NewFile(path, zerolog.Nop())
	require.NoError(t, err)
	f.debounce = 20 * time.Millisecond
	assert.Equal(t, transcript.KeyPool{"k1", "k2"}, f.Keys())

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	require.NoError(t, os.WriteFile(path, []byte("k3\n"), 0o600))
	require.Eventually(t, func() bool {
		keys := f.Keys()
		return len(keys) == 1 && keys[0] == "k3"
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, f.Reloads(), int64(2))
}

func TestFile_MissingFile(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "nope.txt"), zerolog.Nop())
	assert.Error(t, err)
}

func TestFile_FailedReloadKeepsPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("k1\n"), 0o600))

	f, err := NewFile(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	assert.Error(t, f.Reload())
	assert.Equal(t, transcript.KeyPool{"k1"}, f.Keys())
}
