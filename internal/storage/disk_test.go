package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_Put(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskStore(root, "http://localhost:8080/objects")
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), "builds/b1/app.js", "text/javascript", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "builds/b1/app.js", obj.Key)
	assert.Equal(t, "http://localhost:8080/objects/builds/b1/app.js", obj.URL)

	data, err := os.ReadFile(filepath.Join(root, "builds", "b1", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Overwrite replaces content and leaves no temp files behind.
	_, err = store.Put(context.Background(), "builds/b1/app.js", "", []byte("again"))
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(root, "builds", "b1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDiskStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "")
	require.NoError(t, err)

	for _, key := range []string{"../outside", "builds/../../x", ""} {
		_, err := store.Put(context.Background(), key, "", []byte("x"))
		assert.Error(t, err, "key %q", key)
	}
}

func TestDiskStore_CancelledContext(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "k", "", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
