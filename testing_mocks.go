package syncworker

import (
	"context"
	"strconv"
	"sync"
)

// Test doubles shared by the package tests. The document type carries a
// Shadow field the client tier never sets, so merges through the worker
// replica can drift from the client's view and exercise corrective echoes.

type testDoc struct {
	ID     string
	Body   string
	Shadow string
}

type testPatch struct {
	Field string
	Value string
}

// applyTestPatches replays patches on a copy of doc.
func applyTestPatches(doc testDoc, patches []testPatch) testDoc {
	out := doc
	for _, p := range patches {
		switch p.Field {
		case "body":
			out.Body = p.Value
		case "shadow":
			out.Shadow = p.Value
		}
	}
	return out
}

// memStore is a minimal in-memory Store for testDoc documents.
type memStore struct {
	mu   sync.Mutex
	docs map[string]map[string]testDoc

	// setHook, when non-nil, runs before every Set. Used to inject panics.
	setHook func(collection string, doc testDoc)
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]map[string]testDoc)}
}

func (s *memStore) Get(collection, id string) (testDoc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[collection][id]
	return doc, ok
}

func (s *memStore) Set(collection string, doc testDoc) {
	if s.setHook != nil {
		s.setHook(collection, doc)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]testDoc)
	}
	s.docs[collection][doc.ID] = doc
}

func (s *memStore) Delete(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], id)
}

func (s *memStore) ID(doc testDoc) string   { return doc.ID }
func (s *memStore) Equal(a, b testDoc) bool { return a == b }

func (s *memStore) count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

// mockClient implements ClientStore with synchronous change notifications
// on Set/Delete, mimicking an interactive client replica.
type mockClient struct {
	*memStore
	handlers []func([]Change[testDoc, testPatch])
}

func newMockClient() *mockClient {
	return &mockClient{memStore: newMemStore()}
}

func (c *mockClient) Subscribe(handler func([]Change[testDoc, testPatch])) func() {
	c.handlers = append(c.handlers, handler)
	i := len(c.handlers) - 1
	return func() { c.handlers[i] = nil }
}

func (c *mockClient) notify(changes []Change[testDoc, testPatch]) {
	for _, handler := range c.handlers {
		if handler != nil {
			handler(changes)
		}
	}
}

// edit mutates the client replica and emits the matching change batch,
// the way a real client store would.
func (c *mockClient) edit(collection string, doc testDoc, patches []testPatch) {
	c.Set(collection, doc)
	c.notify([]Change[testDoc, testPatch]{Upsert(collection, doc, patches)})
}

func (c *mockClient) remove(collection string, doc testDoc) {
	c.Delete(collection, doc.ID)
	c.notify([]Change[testDoc, testPatch]{Delete[testDoc, testPatch](collection, doc)})
}

// mockWorker implements WorkerStore with an injectable save error.
type mockWorker struct {
	*memStore
	saveErr   error
	saveCalls int

	// saveHook, when non-nil, runs inside Save before returning. Used to
	// deliver notifications while a save is in flight.
	saveHook func()
}

func newMockWorker() *mockWorker {
	return &mockWorker{memStore: newMemStore()}
}

func (w *mockWorker) Save(ctx context.Context) error {
	w.saveCalls++
	if w.saveHook != nil {
		w.saveHook()
	}
	return w.saveErr
}

func (w *mockWorker) IDs(collection string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.docs[collection]))
	for id := range w.docs[collection] {
		ids = append(ids, id)
	}
	return ids
}

func (w *mockWorker) Values(collection string) []testDoc {
	w.mu.Lock()
	defer w.mu.Unlock()
	values := make([]testDoc, 0, len(w.docs[collection]))
	for _, doc := range w.docs[collection] {
		values = append(values, doc)
	}
	return values
}

func (w *mockWorker) Clear(collection string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.docs, collection)
	return nil
}

func (w *mockWorker) SetID(doc testDoc, id string) testDoc {
	doc.ID = id
	return doc
}

// Clean blanks the worker-private Shadow field before a document leaves
// the worker tier.
func (w *mockWorker) Clean(doc testDoc) testDoc {
	doc.Shadow = ""
	return doc
}

// mockServer implements ServerStore, recording batches and optionally
// failing.
type mockServer struct {
	mu      sync.Mutex
	batches [][]Change[testDoc, testPatch]
	saveErr error

	saveHook func()
}

func (s *mockServer) Save(ctx context.Context, changes []Change[testDoc, testPatch]) error {
	if s.saveHook != nil {
		s.saveHook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.batches = append(s.batches, changes)
	return nil
}

func (s *mockServer) lastBatch() []Change[testDoc, testPatch] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil
	}
	return s.batches[len(s.batches)-1]
}

// captureSink records worker change batches in emission order.
type captureSink struct {
	mu      sync.Mutex
	batches [][]WorkerChange[testDoc, testPatch, string]
}

func (s *captureSink) WorkerChanged(changes []WorkerChange[testDoc, testPatch, string]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, changes)
}

func (s *captureSink) all() []WorkerChange[testDoc, testPatch, string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WorkerChange[testDoc, testPatch, string]
	for _, batch := range s.batches {
		out = append(out, batch...)
	}
	return out
}

func (s *captureSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// captureOptimisticSink records tagged local change batches. Used when
// testing the Agent in isolation from the Engine.
type captureOptimisticSink struct {
	batches [][]OptimisticChange[testDoc, testPatch, string]
}

func (s *captureOptimisticSink) ClientChanged(changes []OptimisticChange[testDoc, testPatch, string]) {
	s.batches = append(s.batches, changes)
}

// sequentialIDs returns a deterministic change-id factory: "c1", "c2", ...
func sequentialIDs(prefix string) IDFactory[string] {
	n := 0
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + strconv.Itoa(n)
	}
}

func newTestEngine() (*Engine[testDoc, testPatch, string, string], *mockWorker, *mockServer, *captureSink) {
	worker := newMockWorker()
	server := &mockServer{}
	sink := &captureSink{}
	engine := NewEngine[testDoc, testPatch, string, string](worker, server, applyTestPatches, sink, nil)
	return engine, worker, server, sink
}

func optimistic(id string, change Change[testDoc, testPatch]) OptimisticChange[testDoc, testPatch, string] {
	return OptimisticChange[testDoc, testPatch, string]{Change: change, ChangeID: id}
}
