package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(`{}`), 0o644))
	}
}

func relPaths(files []FileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	return out
}

func TestWalker_DefaultIncludesJSON(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "b.json", "a.json", "nested/c.json", "notes.txt")

	files, err := NewWalker(nil, nil).Walk(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json", "nested/c.json"}, relPaths(files))
	assert.Equal(t, int64(2), files[0].Size)
}

func TestWalker_Excludes(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "ok/1.json", "failed/2.json", "ok/skip.json")

	files, err := NewWalker([]string{"**/*.json"}, []string{"failed/", "**/skip.json"}).Walk(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok/1.json"}, relPaths(files))
}

func TestWalker_SingleFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "one.json")

	files, err := NewWalker(nil, nil).Walk(filepath.Join(root, "one.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "one.json", files[0].RelPath)
}

func TestWalker_MissingRoot(t *testing.T) {
	_, err := NewWalker(nil, nil).Walk(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
