package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x\n"), 0o644))
	}
}

func TestGlobberWalkSortsLexicographically(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "zeta.go", "alpha.go", "sub/mid.go")

	g := NewGlobber(Capabilities{})
	paths, strategy, err := g.Glob(context.Background(), "**/*.go", dir, 0)
	require.NoError(t, err)

	assert.Equal(t, "in-process", strategy)
	assert.Equal(t, []string{"alpha.go", "sub/mid.go", "zeta.go"}, paths)
}

func TestGlobberHonoursExcludes(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "keep.go", "node_modules/skip.go", "dist/skip2.go")

	g := NewGlobber(Capabilities{})
	paths, _, err := g.Glob(context.Background(), "**/*.go", dir, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.go"}, paths)
}

func TestGlobberEmptyPatternErrors(t *testing.T) {
	g := NewGlobber(Capabilities{})
	_, _, err := g.Glob(context.Background(), "  ", t.TempDir(), 0)
	require.Error(t, err)
}

func TestGlobberMaxResults(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.go", "b.go", "c.go", "d.go")

	g := NewGlobber(Capabilities{})
	paths, _, err := g.Glob(context.Background(), "*.go", dir, 2)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Equal(t, []string{"a.go", "b.go"}, paths)
}

func TestGlobberNoMatches(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.md")

	g := NewGlobber(Capabilities{})
	paths, _, err := g.Glob(context.Background(), "*.go", dir, 0)
	require.NoError(t, err)
	assert.Empty(t, paths)
}
