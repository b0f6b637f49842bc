package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalArchiveWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewLocal(LocalConfig{BaseDir: dir})
	require.NoError(t, err)

	uri, err := a.Archive(context.Background(), "searches/available-now/20260801T120000Z.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)

	path := filepath.Join(dir, "searches", "available-now", "20260801T120000Z.html")
	require.Equal(t, "file://"+path, uri)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(data))
}

func TestLocalArchiveRejectsTraversal(t *testing.T) {
	t.Parallel()

	a, err := NewLocal(LocalConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = a.Archive(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestLocalArchiveRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	a, err := NewLocal(LocalConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = a.Archive(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestNewLocalCreatesBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archive")
	_, err := NewLocal(LocalConfig{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewLocalRejectsFilePath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := NewLocal(LocalConfig{BaseDir: path})
	require.Error(t, err)
}

func TestNoopArchiveDiscards(t *testing.T) {
	t.Parallel()

	uri, err := NewNoop().Archive(context.Background(), "anything", "text/html", []byte("x"))
	require.NoError(t, err)
	require.Empty(t, uri)
}
