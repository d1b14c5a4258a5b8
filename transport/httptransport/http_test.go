package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	syncErrors "github.com/kavaro/sync-worker/errors"
	"github.com/kavaro/sync-worker/storage/memory"
)

type serverFixture struct {
	store   *memory.ServerStore[document.Document, document.Patch, string]
	handler *SyncHandler
	server  *httptest.Server
}

// membershipAdapter exposes the in-memory server store's id set through
// the context-taking interface the handler expects.
type membershipAdapter struct {
	store *memory.ServerStore[document.Document, document.Patch, string]
}

func (a membershipAdapter) KnownIDs(ctx context.Context, collection string) (map[string]struct{}, error) {
	return a.store.KnownIDs(collection), nil
}

func newServerFixture(t *testing.T, options *ServerOptions) *serverFixture {
	t.Helper()
	store, err := memory.NewServerStore[document.Document, document.Patch, string](memory.Config[document.Document, string]{
		GetID: document.ID,
		SetID: document.SetID,
		Equal: document.Equal,
		Clone: document.Clone,
	})
	require.NoError(t, err)

	handler := NewHandler(store, membershipAdapter{store}, options)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &serverFixture{store: store, handler: handler, server: server}
}

func TestPushAndMembershipRoundTrip(t *testing.T) {
	f := newServerFixture(t, nil)
	client := NewClient(f.server.URL)

	err := client.Save(context.Background(), []syncworker.Change[document.Document, document.Patch]{
		syncworker.Upsert("notes", document.Document{"id": "a", "body": "one", "$rev": 1}, []document.Patch{document.Set("body", "one")}),
		syncworker.Upsert("notes", document.Document{"id": "b", "body": "two"}, []document.Patch(nil)),
		syncworker.Delete[document.Document, document.Patch]("notes", document.Document{"id": "b"}),
	})
	require.NoError(t, err)

	doc, ok := f.store.Get("notes", "a")
	require.True(t, ok)
	assert.Equal(t, "one", doc["body"])
	_, hasPrivate := doc["$rev"]
	assert.False(t, hasPrivate, "engine-private keys must not cross the wire")

	_, ok = f.store.Get("notes", "b")
	assert.False(t, ok)

	known, err := client.KnownIDs(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}}, known)
}

func TestClient_EmptyBatchIsLocalNoOp(t *testing.T) {
	client := NewClient("http://127.0.0.1:1") // nothing listens here
	assert.NoError(t, client.Save(context.Background(), nil))
}

func TestClient_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusInternalServerError, "boom")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Save(context.Background(), []syncworker.Change[document.Document, document.Patch]{
		syncworker.Upsert("notes", document.Document{"id": "a"}, []document.Patch(nil)),
	})
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestHandler_Validation(t *testing.T) {
	f := newServerFixture(t, nil)

	post := func(body string) *http.Response {
		resp, err := http.Post(f.server.URL+"/push", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post(`{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(`{"changes":[{"type":"upsert","collection":"","doc":{"id":"a"}}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing collection")

	resp = post(`{"changes":[{"type":"upsert","collection":"notes","doc":{}}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing document id")

	resp = post(`{"changes":[{"type":"merge","collection":"notes","doc":{"id":"a"}}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown change type")

	getResp, err := http.Get(f.server.URL + "/push")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)

	notFound, err := http.Get(f.server.URL + "/elsewhere")
	require.NoError(t, err)
	notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}

func TestHandler_BatchLimits(t *testing.T) {
	f := newServerFixture(t, &ServerOptions{MaxBatchLen: 2})

	batch := WireBatch{Changes: []WireChange{
		{Type: "upsert", Collection: "notes", Doc: document.Document{"id": "a"}},
		{Type: "upsert", Collection: "notes", Doc: document.Document{"id": "b"}},
		{Type: "upsert", Collection: "notes", Doc: document.Document{"id": "c"}},
	}}
	body, err := json.Marshal(batch)
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+"/push", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHandler_RequestSizeLimit(t *testing.T) {
	f := newServerFixture(t, &ServerOptions{MaxRequestSize: 64})

	body := `{"changes":[{"type":"upsert","collection":"notes","doc":{"id":"a","body":"` +
		strings.Repeat("x", 256) + `"}}]}`
	resp, err := http.Post(f.server.URL+"/push", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHandler_MembershipValidation(t *testing.T) {
	f := newServerFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/membership")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "collection parameter required")

	// Without a membership source the endpoint is absent.
	bare := httptest.NewServer(NewHandler(f.store, nil, nil))
	defer bare.Close()
	resp, err = http.Get(bare.URL + "/membership?collection=notes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_StoreFailure(t *testing.T) {
	// A store that always fails keeps the client's retry semantics honest.
	failing := httptest.NewServer(NewHandler(failingStore{}, nil, nil))
	defer failing.Close()

	client := NewClient(failing.URL)
	err := client.Save(context.Background(), []syncworker.Change[document.Document, document.Patch]{
		syncworker.Upsert("notes", document.Document{"id": "a"}, []document.Patch(nil)),
	})
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
}

type failingStore struct{}

func (failingStore) Save(ctx context.Context, changes []syncworker.Change[document.Document, document.Patch]) error {
	return errors.New("storage offline")
}
