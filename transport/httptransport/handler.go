package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	"github.com/kavaro/sync-worker/logging"
)

// Membership answers authoritative id-set queries for compaction.
// storage/postgres.ChangeLog implements it.
type Membership interface {
	KnownIDs(ctx context.Context, collection string) (map[string]struct{}, error)
}

// SyncHandler exposes an authoritative replica over HTTP:
//
//	POST {prefix}/push        commit a change batch
//	GET  {prefix}/membership  list a collection's ids
type SyncHandler struct {
	store      syncworker.ServerStore[document.Document, document.Patch]
	membership Membership
	options    *ServerOptions
	logger     *logging.Logger
}

// NewHandler creates a sync HTTP handler. membership may be nil, in which
// case the membership endpoint answers 404. If options is nil the
// defaults apply.
func NewHandler(store syncworker.ServerStore[document.Document, document.Patch], membership Membership, options *ServerOptions) *SyncHandler {
	if options == nil {
		options = DefaultServerOptions()
	}
	options.setDefaults()
	return &SyncHandler{
		store:      store,
		membership: membership,
		options:    options,
		logger:     logging.WithComponent(logging.Component("http-handler")),
	}
}

func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i:]
	}
	switch path {
	case "/push":
		h.handlePush(w, r)
	case "/membership":
		h.handleMembership(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *SyncHandler) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.options.RequestTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, h.options.MaxRequestSize)

	var batch WireBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if len(batch.Changes) > h.options.MaxBatchLen {
		respondWithError(w, http.StatusRequestEntityTooLarge, "batch too long")
		return
	}

	changes := make([]syncworker.Change[document.Document, document.Patch], 0, len(batch.Changes))
	for _, wire := range batch.Changes {
		change, err := FromWire(wire)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		changes = append(changes, change)
	}

	if err := h.store.Save(ctx, changes); err != nil {
		h.logger.LogError(ctx, err, "push batch rejected",
			slog.Int("batch", len(changes)))
		respondWithError(w, http.StatusInternalServerError, "failed to commit batch")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]int{"committed": len(changes)})
}

func (h *SyncHandler) handleMembership(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.membership == nil {
		http.NotFound(w, r)
		return
	}

	collection := r.URL.Query().Get("collection")
	if collection == "" {
		respondWithError(w, http.StatusBadRequest, "collection query parameter is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.options.RequestTimeout)
	defer cancel()

	known, err := h.membership.KnownIDs(ctx, collection)
	if err != nil {
		h.logger.LogError(ctx, err, "membership query failed",
			slog.String("collection", collection))
		respondWithError(w, http.StatusInternalServerError, "failed to list membership")
		return
	}

	ids := make([]string, 0, len(known))
	for id := range known {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	respondWithJSON(w, http.StatusOK, MembershipResponse{Collection: collection, IDs: ids})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
