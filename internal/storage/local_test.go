package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalUploadDownload(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	src := writeTemp(t, "segment bytes")
	require.NoError(t, s.Upload(ctx, src, "segments/abc"))

	exists, err := s.Exists(ctx, "segments/abc")
	require.NoError(t, err)
	assert.True(t, exists)

	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, s.Download(ctx, "segments/abc", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "segment bytes", string(data))
}

func TestLocalDownloadMissing(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = s.Download(ctx, "segments/missing", filepath.Join(t.TempDir(), "dst"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalDeleteAndList(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	src := writeTemp(t, "x")
	require.NoError(t, s.Upload(ctx, src, "segments/a"))
	require.NoError(t, s.Upload(ctx, src, "segments/b"))
	require.NoError(t, s.Upload(ctx, src, "meta-index/c"))

	objects, err := s.ListObjects(ctx, "segments/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"segments/a", "segments/b"}, objects)

	require.NoError(t, s.Delete(ctx, "segments/a"))
	exists, err := s.Exists(ctx, "segments/a")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing object is not an error.
	assert.NoError(t, s.Delete(ctx, "segments/a"))
}
