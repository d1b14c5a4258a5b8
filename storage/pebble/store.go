// Package pebble provides a Pebble-backed worker replica. Documents are
// cached in memory for synchronous access; every mutation is appended to
// a write batch that Save commits with a sync to the WAL.
package pebble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdSync "sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	syncErrors "github.com/kavaro/sync-worker/errors"
)

const componentName = "storage/pebble"

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("store is closed")

// keySeparator splits collection from id inside a key. Collection names
// must not contain it.
const keySeparator = byte(0x00)

// Config holds configuration options for the DocumentStore.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory backs the store with an in-memory filesystem. Used by
	// tests and throwaway replicas.
	InMemory bool

	// Options are passed to pebble.Open. Optional.
	Options *pebble.Options
}

// DocumentStore is a Pebble-backed worker replica for map documents.
type DocumentStore struct {
	db *pebble.DB

	mu     stdSync.RWMutex
	closed bool
	cache  map[string]map[string]document.Document
	batch  *pebble.Batch

	// encodeErr records a document that failed to marshal; surfaced by the
	// next Save instead of silently dropping the write.
	encodeErr error
}

var _ syncworker.WorkerStore[document.Document, string] = (*DocumentStore)(nil)

// New opens a DocumentStore and loads every document into the cache.
func New(config *Config) (*DocumentStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	opts := config.Options
	if opts == nil {
		opts = &pebble.Options{}
	}
	if config.InMemory {
		if opts.FS == nil {
			opts.FS = vfs.NewMem()
		}
		if config.Path == "" {
			config.Path = "mem"
		}
	} else if config.Path == "" {
		return nil, fmt.Errorf("Path is required")
	}

	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	store := &DocumentStore{
		db:    db,
		cache: make(map[string]map[string]document.Document),
	}
	store.batch = db.NewBatch()

	if err := store.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	return store, nil
}

func makeKey(collection, id string) []byte {
	key := make([]byte, 0, len(collection)+1+len(id))
	key = append(key, collection...)
	key = append(key, keySeparator)
	key = append(key, id...)
	return key
}

func splitKey(key []byte) (collection, id string, ok bool) {
	i := bytes.IndexByte(key, keySeparator)
	if i < 0 {
		return "", "", false
	}
	return string(key[:i]), string(key[i+1:]), true
}

func (s *DocumentStore) loadAll() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		collection, id, ok := splitKey(iter.Key())
		if !ok {
			continue
		}
		var doc document.Document
		if err := json.Unmarshal(iter.Value(), &doc); err != nil {
			return fmt.Errorf("corrupt document %s/%s: %w", collection, id, err)
		}
		docs, ok := s.cache[collection]
		if !ok {
			docs = make(map[string]document.Document)
			s.cache[collection] = docs
		}
		docs[id] = doc
	}
	return iter.Error()
}

// Get returns the cached document stored under id.
func (s *DocumentStore) Get(collection, id string) (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.cache[collection][id]
	if !ok {
		return nil, false
	}
	return document.Clone(doc), true
}

// Set writes doc to the cache and appends it to the pending batch.
func (s *DocumentStore) Set(collection string, doc document.Document) {
	id := document.ID(doc)
	raw, err := json.Marshal(doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.encodeErr == nil {
			s.encodeErr = fmt.Errorf("document %s/%s: %w", collection, id, err)
		}
		return
	}
	docs, ok := s.cache[collection]
	if !ok {
		docs = make(map[string]document.Document)
		s.cache[collection] = docs
	}
	docs[id] = document.Clone(doc)
	_ = s.batch.Set(makeKey(collection, id), raw, nil)
}

// Delete removes the document from the cache and appends the deletion to
// the pending batch.
func (s *DocumentStore) Delete(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache[collection], id)
	_ = s.batch.Delete(makeKey(collection, id), nil)
}

// ID extracts a document's identity.
func (s *DocumentStore) ID(doc document.Document) string { return document.ID(doc) }

// Equal reports structural document equality.
func (s *DocumentStore) Equal(a, b document.Document) bool { return document.Equal(a, b) }

// SetID returns doc with its identity set.
func (s *DocumentStore) SetID(doc document.Document, id string) document.Document {
	return document.SetID(doc, id)
}

// Clean strips engine-private keys.
func (s *DocumentStore) Clean(doc document.Document) document.Document {
	return document.Clean(doc)
}

// IDs returns the ids of every cached document in a collection.
func (s *DocumentStore) IDs(collection string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cache[collection]))
	for id := range s.cache[collection] {
		ids = append(ids, id)
	}
	return ids
}

// Values returns every cached document in a collection.
func (s *DocumentStore) Values(collection string) []document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]document.Document, 0, len(s.cache[collection]))
	for _, doc := range s.cache[collection] {
		values = append(values, document.Clone(doc))
	}
	return values
}

// Clear removes every document in a collection, appending the deletions
// to the pending batch.
func (s *DocumentStore) Clear(collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for id := range s.cache[collection] {
		if err := s.batch.Delete(makeKey(collection, id), nil); err != nil {
			return syncErrors.WrapOpComponent(err, syncErrors.OpClear, componentName)
		}
	}
	delete(s.cache, collection)
	return nil
}

// Save commits the pending batch with a WAL sync and starts a fresh one.
// On failure the batch is kept so the next Save retries the same
// mutations.
func (s *DocumentStore) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.encodeErr != nil {
		err := s.encodeErr
		s.encodeErr = nil
		return syncErrors.WrapOpComponent(err, syncErrors.OpSave, componentName)
	}
	if s.batch.Empty() {
		return nil
	}
	if err := s.batch.Commit(pebble.Sync); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpSave, componentName)
	}
	s.batch = s.db.NewBatch()
	return nil
}

// PendingLen returns the number of mutations in the uncommitted batch.
// Intended for tests and monitoring.
func (s *DocumentStore) PendingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.batch.Count())
}

// Close closes the batch and the database.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.batch.Close(); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpClose, componentName)
	}
	return s.db.Close()
}
