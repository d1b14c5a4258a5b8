package pebble

import (
	"context"
	"sort"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavaro/sync-worker/document"
)

func memOptions(fs vfs.FS) *pebble.Options {
	return &pebble.Options{FS: fs}
}

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	store, err := New(&Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err, "Path required without InMemory")
}

func TestDocumentStore_CacheCRUD(t *testing.T) {
	store := newTestStore(t)

	store.Set("notes", document.Document{"id": "a", "body": "one"})
	store.Set("notes", document.Document{"id": "b", "body": "two"})

	got, ok := store.Get("notes", "a")
	require.True(t, ok)
	assert.Equal(t, "one", got["body"])

	got["body"] = "mutated"
	again, _ := store.Get("notes", "a")
	assert.Equal(t, "one", again["body"], "reads are isolated from caller mutation")

	ids := store.IDs("notes")
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Len(t, store.Values("notes"), 2)

	store.Delete("notes", "a")
	_, ok = store.Get("notes", "a")
	assert.False(t, ok)

	assert.Equal(t, 3, store.PendingLen(), "two sets and one delete pending")
}

func TestDocumentStore_SaveAndReload(t *testing.T) {
	fs := vfs.NewMem()
	store, err := New(&Config{Path: "replica", Options: memOptions(fs)})
	require.NoError(t, err)

	store.Set("notes", document.Document{"id": "a", "body": "one"})
	store.Set("notes", document.Document{"id": "b", "body": "two"})
	require.NoError(t, store.Save(context.Background()))

	store.Delete("notes", "b")
	store.Set("notes", document.Document{"id": "a", "body": "updated"})
	require.NoError(t, store.Save(context.Background()))
	assert.Equal(t, 0, store.PendingLen())
	require.NoError(t, store.Close())

	// Reopening over the same filesystem sees the committed state.
	reloaded, err := New(&Config{Path: "replica", Options: memOptions(fs)})
	require.NoError(t, err)
	defer reloaded.Close()

	got, ok := reloaded.Get("notes", "a")
	require.True(t, ok)
	assert.Equal(t, "updated", got["body"])
	_, ok = reloaded.Get("notes", "b")
	assert.False(t, ok)
}

func TestDocumentStore_UncommittedIsNotPersisted(t *testing.T) {
	fs := vfs.NewMem()
	store, err := New(&Config{Path: "replica", Options: memOptions(fs)})
	require.NoError(t, err)

	store.Set("notes", document.Document{"id": "a"})
	require.NoError(t, store.Close())

	reloaded, err := New(&Config{Path: "replica", Options: memOptions(fs)})
	require.NoError(t, err)
	defer reloaded.Close()
	_, ok := reloaded.Get("notes", "a")
	assert.False(t, ok, "mutations not flushed by Save must not survive")
}

func TestDocumentStore_Clear(t *testing.T) {
	store := newTestStore(t)

	store.Set("notes", document.Document{"id": "a"})
	store.Set("tasks", document.Document{"id": "t"})
	require.NoError(t, store.Save(context.Background()))

	require.NoError(t, store.Clear("notes"))
	require.NoError(t, store.Save(context.Background()))

	assert.Empty(t, store.IDs("notes"))
	assert.Len(t, store.IDs("tasks"), 1)
}

func TestDocumentStore_SaveNoPending(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(context.Background()))
}

func TestDocumentStore_EncodeErrorSurfacesOnSave(t *testing.T) {
	store := newTestStore(t)

	store.Set("notes", document.Document{"id": "a", "bad": func() {}})
	err := store.Save(context.Background())
	require.Error(t, err)

	// The failure is reported once; the store keeps working.
	require.NoError(t, store.Save(context.Background()))
}

func TestDocumentStore_Closed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Save(context.Background()), ErrStoreClosed)
	assert.ErrorIs(t, store.Clear("notes"), ErrStoreClosed)
	require.NoError(t, store.Close())
}
