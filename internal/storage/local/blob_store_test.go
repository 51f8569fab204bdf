package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rag-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "snapshots")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		require.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.ErrorContains(t, err, "not a directory")
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		path := "snapshots/docs.example/abc.html"
		uri, err := store.PutObject(ctx, path, "text/html", strings.NewReader("<html>hi</html>"))
		require.NoError(t, err)
		require.Equal(t, "file://"+filepath.Join(dir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, path))
		require.NoError(t, err)
		require.Equal(t, "<html>hi</html>", string(got))
	})

	t.Run("Overwrites", func(t *testing.T) {
		_, err := store.PutObject(ctx, "a.html", "text/html", strings.NewReader("first version"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "a.html", "text/html", strings.NewReader("v2"))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dir, "a.html"))
		require.NoError(t, err)
		require.Equal(t, "v2", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/html", strings.NewReader("x"))
		require.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.html", "text/html", strings.NewReader("x"))
		require.ErrorContains(t, err, "escapes base directory")
	})
}
