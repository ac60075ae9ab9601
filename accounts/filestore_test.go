package accounts

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-labs/gapi"
)

func newTestFileStorage(t *testing.T, path string) *FileStorage {
	t.Helper()
	s := NewFileStorage(path)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s := newTestFileStorage(t, path)
	ctx := context.Background()

	acc := validAccount("u@x.test", "scope-a")
	require.NoError(t, s.Put(ctx, "K", acc))

	got, err := s.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, acc.Equal(got))

	missing, err := s.Get(ctx, "K", "other@x.test")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.Remove(ctx, "K", "u@x.test"))
	got, err = s.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStoragePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	ctx := context.Background()

	s1 := newTestFileStorage(t, path)
	require.NoError(t, s1.Put(ctx, "K", validAccount("u@x.test", "scope-a")))

	s2 := newTestFileStorage(t, path)
	got, err := s2.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u@x.test", got.Name)
}

func TestFileStorageSeesExternalRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	ctx := context.Background()

	s1 := newTestFileStorage(t, path)
	require.NoError(t, s1.Put(ctx, "K", validAccount("u@x.test", "scope-a")))

	// Warm the cache.
	_, err := s1.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)

	// Another process rewrites the file.
	s2 := newTestFileStorage(t, path)
	updated := validAccount("u@x.test", "scope-a", "scope-b")
	require.NoError(t, s2.Put(ctx, "K", updated))

	assert.Eventually(t, func() bool {
		got, err := s1.Get(ctx, "K", "u@x.test")
		return err == nil && got != nil && got.HasScopes([]string{"scope-b"})
	}, 2*time.Second, 20*time.Millisecond, "the watcher must invalidate the stale cache")
}

func TestFileStorageTightensPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no POSIX permissions on windows")
	}
	path := filepath.Join(t.TempDir(), "accounts.json")
	s := newTestFileStorage(t, path)
	require.NoError(t, s.Put(context.Background(), "K", validAccount("u@x.test")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStorageCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	s := newTestFileStorage(t, path)
	_, err := s.Get(context.Background(), "K", "u@x.test")

	var gerr *gapi.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, gapi.CodeInvalidResponse, gerr.Code)
}
