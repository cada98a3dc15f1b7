package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFilesystem(t *testing.T) *FilesystemAssetStore {
	t.Helper()
	fs, err := NewFilesystemAssetStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestFilesystemPutGet(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	key := "results/lab-1/study-1/result-1"
	require.NoError(t, fs.PutObject(ctx, key, strings.NewReader("pdf bytes"), "application/pdf"))

	exists, err := fs.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	reader, err := fs.GetObject(ctx, key)
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(content))
}

func TestFilesystemGet_Missing(t *testing.T) {
	fs := setupFilesystem(t)

	_, err := fs.GetObject(context.Background(), "results/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemPut_Overwrite(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	key := "results/lab-1/study-1/result-1"
	require.NoError(t, fs.PutObject(ctx, key, strings.NewReader("first"), "application/pdf"))
	require.NoError(t, fs.PutObject(ctx, key, strings.NewReader("second"), "application/pdf"))

	reader, err := fs.GetObject(ctx, key)
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))
}

func TestFilesystemDelete(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	key := "results/lab-1/study-1/result-1"
	require.NoError(t, fs.PutObject(ctx, key, strings.NewReader("bytes"), "application/pdf"))
	require.NoError(t, fs.DeleteObject(ctx, key))

	exists, err := fs.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing object is not an error.
	assert.NoError(t, fs.DeleteObject(ctx, key))
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	err := fs.PutObject(ctx, "../escape", strings.NewReader("x"), "text/plain")
	assert.Error(t, err)

	_, err = fs.GetObject(ctx, "/etc/passwd")
	assert.Error(t, err)
}

func TestFilesystemHealthCheck(t *testing.T) {
	fs := setupFilesystem(t)
	assert.NoError(t, fs.HealthCheck(context.Background()))
}
