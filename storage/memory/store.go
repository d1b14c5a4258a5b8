// Package memory provides in-memory replica stores. They are the default
// backends for tests, examples, and single-process deployments where
// durability is handled elsewhere.
package memory

import (
	"context"
	"errors"
	"sync"

	syncworker "github.com/kavaro/sync-worker"
)

// Configuration errors.
var (
	ErrNilGetID = errors.New("memory: Config.GetID is required")
	ErrNilSetID = errors.New("memory: Config.SetID is required for worker stores")
	ErrNilEqual = errors.New("memory: Config.Equal is required")
)

// Config supplies the document semantics a generic store cannot derive on
// its own.
type Config[D any, ID comparable] struct {
	// GetID extracts a document's identity. Required.
	GetID func(D) ID

	// SetID returns a document with its identity set. Required for worker
	// stores, optional otherwise.
	SetID func(D, ID) D

	// Equal reports structural equality. Required.
	Equal func(a, b D) bool

	// Clone returns an independent copy of a document. Optional; when nil
	// documents are stored and returned as-is, which is safe only for
	// value types.
	Clone func(D) D

	// Clean strips engine-private fields before a document leaves the
	// worker tier. Optional; defaults to the identity.
	Clean func(D) D
}

func (c *Config[D, ID]) validate() error {
	if c.GetID == nil {
		return ErrNilGetID
	}
	if c.Equal == nil {
		return ErrNilEqual
	}
	return nil
}

func (c *Config[D, ID]) clone(doc D) D {
	if c.Clone == nil {
		return doc
	}
	return c.Clone(doc)
}

// store is the shared map-of-collections core.
type store[D any, ID comparable] struct {
	cfg  Config[D, ID]
	mu   sync.RWMutex
	data map[string]map[ID]D
}

func newStore[D any, ID comparable](cfg Config[D, ID]) *store[D, ID] {
	return &store[D, ID]{cfg: cfg, data: make(map[string]map[ID]D)}
}

func (s *store[D, ID]) Get(collection string, id ID) (D, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][id]
	if !ok {
		var zero D
		return zero, false
	}
	return s.cfg.clone(doc), true
}

func (s *store[D, ID]) Set(collection string, doc D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(collection, doc)
}

func (s *store[D, ID]) setLocked(collection string, doc D) {
	docs, ok := s.data[collection]
	if !ok {
		docs = make(map[ID]D)
		s.data[collection] = docs
	}
	docs[s.cfg.GetID(doc)] = s.cfg.clone(doc)
}

func (s *store[D, ID]) Delete(collection string, id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
}

func (s *store[D, ID]) ID(doc D) ID       { return s.cfg.GetID(doc) }
func (s *store[D, ID]) Equal(a, b D) bool { return s.cfg.Equal(a, b) }

func (s *store[D, ID]) IDs(collection string) []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]ID, 0, len(s.data[collection]))
	for id := range s.data[collection] {
		ids = append(ids, id)
	}
	return ids
}

func (s *store[D, ID]) Values(collection string) []D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]D, 0, len(s.data[collection]))
	for _, doc := range s.data[collection] {
		values = append(values, s.cfg.clone(doc))
	}
	return values
}

func (s *store[D, ID]) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

// ClientStore is an in-memory client replica. Mutations made through
// Edit and Remove are published to subscribers as change batches; plain
// Set and Delete calls are silent, which is what a sync agent applying
// remote changes needs.
type ClientStore[D, P any, ID comparable] struct {
	*store[D, ID]

	hmu      sync.Mutex
	handlers []func([]syncworker.Change[D, P])
}

// NewClientStore builds an in-memory client replica.
func NewClientStore[D, P any, ID comparable](cfg Config[D, ID]) (*ClientStore[D, P, ID], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ClientStore[D, P, ID]{store: newStore(cfg)}, nil
}

// Subscribe registers a handler for locally-originated change batches.
func (s *ClientStore[D, P, ID]) Subscribe(handler func([]syncworker.Change[D, P])) func() {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers = append(s.handlers, handler)
	i := len(s.handlers) - 1
	return func() {
		s.hmu.Lock()
		defer s.hmu.Unlock()
		s.handlers[i] = nil
	}
}

func (s *ClientStore[D, P, ID]) publish(changes []syncworker.Change[D, P]) {
	s.hmu.Lock()
	handlers := make([]func([]syncworker.Change[D, P]), len(s.handlers))
	copy(handlers, s.handlers)
	s.hmu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(changes)
		}
	}
}

// Edit writes doc and publishes an upsert carrying the patches that
// produced it.
func (s *ClientStore[D, P, ID]) Edit(collection string, doc D, patches []P) {
	s.Set(collection, doc)
	s.publish([]syncworker.Change[D, P]{syncworker.Upsert(collection, doc, patches)})
}

// Remove deletes doc and publishes the deletion.
func (s *ClientStore[D, P, ID]) Remove(collection string, doc D) {
	s.Delete(collection, s.cfg.GetID(doc))
	s.publish([]syncworker.Change[D, P]{syncworker.Delete[D, P](collection, doc)})
}

// WorkerStore is an in-memory worker replica. Save is a no-op unless a
// SaveFunc is installed, which lets callers bolt on their own persistence
// or fault injection.
type WorkerStore[D any, ID comparable] struct {
	*store[D, ID]

	// SaveFunc, when non-nil, runs on every Save call with a snapshot of
	// the full replica state.
	SaveFunc func(ctx context.Context, data map[string][]D) error
}

// NewWorkerStore builds an in-memory worker replica.
func NewWorkerStore[D any, ID comparable](cfg Config[D, ID]) (*WorkerStore[D, ID], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SetID == nil {
		return nil, ErrNilSetID
	}
	return &WorkerStore[D, ID]{store: newStore(cfg)}, nil
}

// Save invokes SaveFunc with a snapshot of the replica, or returns nil
// when no SaveFunc is installed.
func (s *WorkerStore[D, ID]) Save(ctx context.Context) error {
	if s.SaveFunc == nil {
		return nil
	}
	s.mu.RLock()
	snapshot := make(map[string][]D, len(s.data))
	for collection, docs := range s.data {
		values := make([]D, 0, len(docs))
		for _, doc := range docs {
			values = append(values, s.cfg.clone(doc))
		}
		snapshot[collection] = values
	}
	s.mu.RUnlock()
	return s.SaveFunc(ctx, snapshot)
}

// Clear removes every document in a collection.
func (s *WorkerStore[D, ID]) Clear(collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, collection)
	return nil
}

// SetID returns doc with its identity set.
func (s *WorkerStore[D, ID]) SetID(doc D, id ID) D {
	return s.cfg.SetID(doc, id)
}

// Clean strips engine-private fields.
func (s *WorkerStore[D, ID]) Clean(doc D) D {
	if s.cfg.Clean == nil {
		return doc
	}
	return s.cfg.Clean(doc)
}

// ServerStore is an in-memory authoritative replica. Batches commit
// atomically under one lock; an optional sink receives committed batches,
// which is how a local loopback "server" feeds changes back into engines.
type ServerStore[D, P any, ID comparable] struct {
	*store[D, ID]

	// OnCommit, when non-nil, runs after every committed batch.
	OnCommit func(changes []syncworker.Change[D, P])
}

// NewServerStore builds an in-memory authoritative replica.
func NewServerStore[D, P any, ID comparable](cfg Config[D, ID]) (*ServerStore[D, P, ID], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ServerStore[D, P, ID]{store: newStore(cfg)}, nil
}

// Save commits a change batch atomically.
func (s *ServerStore[D, P, ID]) Save(ctx context.Context, changes []syncworker.Change[D, P]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, change := range changes {
		switch change.Type {
		case syncworker.ChangeUpsert:
			s.setLocked(change.Collection, change.Doc)
		case syncworker.ChangeDelete:
			delete(s.data[change.Collection], s.cfg.GetID(change.Doc))
		}
	}
	s.mu.Unlock()

	if s.OnCommit != nil {
		s.OnCommit(changes)
	}
	return nil
}

// KnownIDs returns the authoritative membership of a collection, in the
// shape Compact expects.
func (s *ServerStore[D, P, ID]) KnownIDs(collection string) map[ID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known := make(map[ID]struct{}, len(s.data[collection]))
	for id := range s.data[collection] {
		known[id] = struct{}{}
	}
	return known
}
