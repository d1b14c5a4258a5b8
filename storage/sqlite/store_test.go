package sqlite

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavaro/sync-worker/document"
)

func newTestStore(t *testing.T) (*DocumentStore, string) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "replica.db")
	store, err := New(DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dsn
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err, "DataSourceName is required")
}

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig("file:test.db")
	assert.Equal(t, "documents", cfg.TableName)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Contains(t, cfg.DataSourceName, "_journal_mode=WAL")

	// WAL flag appends with & when a query string is already present.
	cfg = &Config{DataSourceName: "file:test.db?cache=shared", EnableWAL: true}
	cfg.setDefaults()
	assert.Contains(t, cfg.DataSourceName, "&_journal_mode=WAL")
}

func TestDocumentStore_CacheCRUD(t *testing.T) {
	store, _ := newTestStore(t)

	store.Set("notes", document.Document{"id": "a", "body": "one"})
	store.Set("notes", document.Document{"id": "b", "body": "two"})

	got, ok := store.Get("notes", "a")
	require.True(t, ok)
	assert.Equal(t, "one", got["body"])

	// Reads are isolated from caller mutation.
	got["body"] = "mutated"
	again, _ := store.Get("notes", "a")
	assert.Equal(t, "one", again["body"])

	ids := store.IDs("notes")
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)

	store.Delete("notes", "b")
	_, ok = store.Get("notes", "b")
	assert.False(t, ok)

	assert.Equal(t, 2, store.DirtyLen(), "a upserted, b deleted")
}

func TestDocumentStore_SaveAndReload(t *testing.T) {
	store, dsn := newTestStore(t)

	store.Set("notes", document.Document{"id": "a", "body": "one"})
	store.Set("notes", document.Document{"id": "b", "body": "two"})
	require.NoError(t, store.Save(context.Background()))
	assert.Equal(t, 0, store.DirtyLen())

	store.Delete("notes", "b")
	store.Set("notes", document.Document{"id": "a", "body": "updated"})
	require.NoError(t, store.Save(context.Background()))
	require.NoError(t, store.Close())

	// A fresh store over the same file sees the flushed state.
	reloaded, err := New(DefaultConfig(dsn))
	require.NoError(t, err)
	defer reloaded.Close()

	got, ok := reloaded.Get("notes", "a")
	require.True(t, ok)
	assert.Equal(t, "updated", got["body"])
	_, ok = reloaded.Get("notes", "b")
	assert.False(t, ok)
}

func TestDocumentStore_SaveNoDirty(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(context.Background()), "empty dirty set is a no-op")
}

func TestDocumentStore_Clear(t *testing.T) {
	store, dsn := newTestStore(t)

	store.Set("notes", document.Document{"id": "a"})
	store.Set("tasks", document.Document{"id": "t"})
	require.NoError(t, store.Save(context.Background()))

	require.NoError(t, store.Clear("notes"))
	assert.Empty(t, store.IDs("notes"))
	assert.Len(t, store.IDs("tasks"), 1)

	require.NoError(t, store.Save(context.Background()))
	require.NoError(t, store.Close())

	reloaded, err := New(DefaultConfig(dsn))
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Empty(t, reloaded.IDs("notes"))
	assert.Len(t, reloaded.IDs("tasks"), 1)
}

func TestDocumentStore_DocumentSemantics(t *testing.T) {
	store, _ := newTestStore(t)

	doc := document.Document{"id": "a", "$rev": float64(3), "body": "x"}
	assert.Equal(t, "a", store.ID(doc))
	assert.True(t, store.Equal(doc, document.Clone(doc)))

	cleaned := store.Clean(doc)
	_, ok := cleaned["$rev"]
	assert.False(t, ok)

	renamed := store.SetID(doc, "z")
	assert.Equal(t, "z", store.ID(renamed))
	assert.Equal(t, "a", store.ID(doc), "SetID must not mutate")
}

func TestDocumentStore_Closed(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Save(context.Background()), ErrStoreClosed)
	assert.ErrorIs(t, store.Clear("notes"), ErrStoreClosed)
	require.NoError(t, store.Close(), "double close is a no-op")
}
