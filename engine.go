package syncworker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	syncErrors "github.com/kavaro/sync-worker/errors"
)

// ErrSaveInFlight is returned by Save when another save has not settled
// yet. The engine supports at most one save in flight per instance.
var ErrSaveInFlight = syncErrors.E(syncErrors.OpSave, syncErrors.ErrCodeSaveInFlight, "a save is already in flight")

// pendingChange is the latest unconfirmed local change for one document.
// For upserts, Change.Patches is the accumulated journal of every local
// edit to the document since the last successful save; ChangeID and
// Change.Doc reflect the most recent edit. A delete record subsumes any
// earlier upsert journal for the document.
type pendingChange[D, P any, CID comparable] struct {
	Change   Change[D, P]
	ChangeID CID
}

// Engine wraps the worker and server replicas. It applies local changes
// optimistically, merges server-originated changes against unconfirmed
// local edits under the client-wins policy, drives the persist-to-server
// pipeline, and defers notifications that arrive while a save is in
// flight.
//
// The engine is the single writer of the worker replica. All state is
// guarded by one mutex; the only suspension points are the two awaited
// persistence calls inside Save, during which incoming notifications are
// buffered and replayed, in arrival order and local before remote, once
// the save settles.
type Engine[D, P any, ID, CID comparable] struct {
	worker       WorkerStore[D, ID]
	server       ServerStore[D, P]
	applyPatches PatchApplier[D, P]
	sink         WorkerSink[D, P, CID]
	logger       *slog.Logger
	metrics      MetricsCollector

	mu      sync.Mutex
	pending map[ID]pendingChange[D, P, CID]

	// Buffering state. saving is true while a save's persistence calls are
	// pending; the buffers exist only in that state.
	saving       bool
	localBuffer  []OptimisticChange[D, P, CID]
	remoteBuffer []Change[D, P]
}

// NewEngine constructs an Engine over the worker and server replicas.
// applyPatches is the caller's patch engine; sink receives the change
// batches flowing back toward the client tier. opts may be nil.
func NewEngine[D, P any, ID, CID comparable](
	worker WorkerStore[D, ID],
	server ServerStore[D, P],
	applyPatches PatchApplier[D, P],
	sink WorkerSink[D, P, CID],
	opts *Options,
) *Engine[D, P, ID, CID] {
	o := opts.withDefaults()
	return &Engine[D, P, ID, CID]{
		worker:       worker,
		server:       server,
		applyPatches: applyPatches,
		sink:         sink,
		logger:       o.Logger.With(slog.String("component", "engine")),
		metrics:      o.Metrics,
		pending:      make(map[ID]pendingChange[D, P, CID]),
	}
}

// PendingLen returns the number of documents with unconfirmed local
// changes. Intended for tests and monitoring.
func (e *Engine[D, P, ID, CID]) PendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ClientChanged processes a batch of tagged local changes. While a save is
// in flight the batch is buffered and replayed after the save settles;
// otherwise each change is applied to the worker replica optimistically
// and recorded as pending. Corrective changes, merges that drifted from
// the client's own view, are emitted back toward the client as one batch.
func (e *Engine[D, P, ID, CID]) ClientChanged(changes []OptimisticChange[D, P, CID]) {
	e.mu.Lock()
	if e.saving {
		e.localBuffer = append(e.localBuffer, changes...)
		buffered := len(e.localBuffer)
		e.mu.Unlock()
		e.logger.Debug("buffered local changes during save",
			slog.Int("count", len(changes)),
			slog.Int("buffered", buffered))
		e.metrics.RecordBuffered(len(changes), 0)
		return
	}
	out := e.applyClientChangesLocked(changes)
	e.mu.Unlock()

	e.emit(out)
}

// applyClientChangesLocked applies a local change batch to the worker
// replica and merges it into the pending table. e.mu must be held.
func (e *Engine[D, P, ID, CID]) applyClientChangesLocked(changes []OptimisticChange[D, P, CID]) []WorkerChange[D, P, CID] {
	var out []WorkerChange[D, P, CID]
	for _, change := range changes {
		docID := e.worker.ID(change.Doc)

		switch change.Type {
		case ChangeDelete:
			ApplyDelete(e.worker, change.Collection, docID)
			// A delete subsumes any earlier upsert journal for this id.
			e.pending[docID] = pendingChange[D, P, CID]{Change: change.Change, ChangeID: change.ChangeID}

		case ChangeUpsert:
			if existing, ok := e.worker.Get(change.Collection, docID); ok {
				// The worker may hold state the client does not track.
				// Replay the client's patches on the worker's document and,
				// if the result drifted from the client's own view, send a
				// corrective echo carrying this edit's id.
				merged := e.applyPatches(existing, change.Patches)
				e.worker.Set(change.Collection, merged)
				if !e.worker.Equal(merged, change.Doc) {
					cid := change.ChangeID
					out = append(out, WorkerChange[D, P, CID]{
						Change:   Upsert[D, P](change.Collection, merged, nil),
						ChangeID: &cid,
					})
				}
			} else {
				e.worker.Set(change.Collection, change.Doc)
			}

			if prev, ok := e.pending[docID]; ok && prev.Change.Type == ChangeUpsert {
				// Accumulate the patch journal; id and doc reflect the most
				// recent edit.
				patches := make([]P, 0, len(prev.Change.Patches)+len(change.Patches))
				patches = append(patches, prev.Change.Patches...)
				patches = append(patches, change.Patches...)
				e.pending[docID] = pendingChange[D, P, CID]{
					Change:   Upsert(change.Collection, change.Doc, patches),
					ChangeID: change.ChangeID,
				}
			} else {
				e.pending[docID] = pendingChange[D, P, CID]{Change: change.Change, ChangeID: change.ChangeID}
			}
		}
	}
	e.metrics.RecordChanges(len(changes), 0)
	return out
}

// Changed processes a batch of server-originated changes. While a save is
// in flight the batch is buffered and replayed after the save settles;
// otherwise each change is reconciled against any pending local change
// under the client-wins policy. Changes that mutated worker state are
// forwarded toward the client as one batch.
func (e *Engine[D, P, ID, CID]) Changed(serverChanges []Change[D, P]) {
	e.mu.Lock()
	if e.saving {
		e.remoteBuffer = append(e.remoteBuffer, serverChanges...)
		buffered := len(e.remoteBuffer)
		e.mu.Unlock()
		e.logger.Debug("buffered remote changes during save",
			slog.Int("count", len(serverChanges)),
			slog.Int("buffered", buffered))
		e.metrics.RecordBuffered(0, len(serverChanges))
		return
	}
	out := e.applyServerChangesLocked(serverChanges)
	e.mu.Unlock()

	e.emit(out)
}

// applyServerChangesLocked reconciles a server change batch against the
// pending table. e.mu must be held.
func (e *Engine[D, P, ID, CID]) applyServerChangesLocked(serverChanges []Change[D, P]) []WorkerChange[D, P, CID] {
	var out []WorkerChange[D, P, CID]
	for _, serverChange := range serverChanges {
		docID := e.worker.ID(serverChange.Doc)

		record, ok := e.pending[docID]
		if !ok {
			// No local edit outstanding: the server change applies as-is
			// and is forwarded without a correlation id.
			if ApplyChange(e.worker, serverChange) {
				out = append(out, WorkerChange[D, P, CID]{Change: serverChange})
			}
			continue
		}

		// Client wins. A pending delete beats any concurrent server
		// change; a pending upsert beats a concurrent server delete.
		if record.Change.Type == ChangeDelete || serverChange.Type == ChangeDelete {
			continue
		}

		// Both sides upserted: the server's document becomes the new base
		// and the local journal is replayed on top.
		merged := e.applyPatches(serverChange.Doc, record.Change.Patches)
		e.worker.Set(serverChange.Collection, merged)
		if !e.worker.Equal(merged, record.Change.Doc) {
			cid := record.ChangeID
			out = append(out, WorkerChange[D, P, CID]{
				Change:   Upsert[D, P](serverChange.Collection, merged, nil),
				ChangeID: &cid,
			})
		}
	}
	e.metrics.RecordChanges(0, len(serverChanges))
	return out
}

// Save persists the worker replica, ships the accumulated pending changes
// to the server replica, and clears the pending table on success. On any
// failure the pending table is left untouched so the next Save retries
// the full batch.
//
// Notifications arriving while the save's persistence calls are pending
// are buffered; whatever the outcome, the buffers are drained exactly
// once, local changes first and then remote, as if they had arrived after
// the save concluded.
func (e *Engine[D, P, ID, CID]) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.saving {
		e.mu.Unlock()
		return ErrSaveInFlight
	}
	e.saving = true
	e.localBuffer = make([]OptimisticChange[D, P, CID], 0)
	e.remoteBuffer = make([]Change[D, P], 0)
	pendingLen := len(e.pending)
	e.mu.Unlock()

	start := time.Now()
	e.logger.Debug("save started", slog.Int("pending", pendingLen))

	defer func() {
		e.metrics.RecordSaveDuration(time.Since(start))
		e.settle()
	}()

	if err := e.worker.Save(ctx); err != nil {
		e.metrics.RecordSaveErrors("worker")
		e.logger.Error("worker persistence failed", slog.Any("error", err))
		return syncErrors.WrapOpComponentKind(err, syncErrors.OpSave, "worker", syncErrors.KindTransient)
	}

	batch := e.buildBatch()

	if err := e.server.Save(ctx, batch); err != nil {
		e.metrics.RecordSaveErrors("server")
		e.logger.Error("server persistence failed",
			slog.Int("batch", len(batch)),
			slog.Any("error", err))
		return syncErrors.WrapOpComponentKind(err, syncErrors.OpSave, "server", syncErrors.KindTransient)
	}

	e.mu.Lock()
	e.pending = make(map[ID]pendingChange[D, P, CID])
	e.mu.Unlock()

	e.logger.Info("save completed",
		slog.Int("batch", len(batch)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// buildBatch assembles the outgoing server batch from the pending table.
// Upserts re-read the current worker document so the server receives the
// latest state (cleaned of engine-private fields) paired with the full
// accumulated journal.
func (e *Engine[D, P, ID, CID]) buildBatch() []Change[D, P] {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := make([]Change[D, P], 0, len(e.pending))
	for docID, record := range e.pending {
		switch record.Change.Type {
		case ChangeDelete:
			batch = append(batch, record.Change)
		case ChangeUpsert:
			doc := record.Change.Doc
			if current, ok := e.worker.Get(record.Change.Collection, docID); ok {
				doc = current
			}
			batch = append(batch, Upsert(record.Change.Collection, e.worker.Clean(doc), record.Change.Patches))
		}
	}
	return batch
}

// settle exits buffering mode and replays what was buffered, local changes
// before remote ones. It runs on every Save exit path.
func (e *Engine[D, P, ID, CID]) settle() {
	e.mu.Lock()
	local := e.localBuffer
	remote := e.remoteBuffer
	e.localBuffer = nil
	e.remoteBuffer = nil
	e.saving = false

	var outLocal, outRemote []WorkerChange[D, P, CID]
	if len(local) > 0 {
		outLocal = e.applyClientChangesLocked(local)
	}
	if len(remote) > 0 {
		outRemote = e.applyServerChangesLocked(remote)
	}
	e.mu.Unlock()

	if len(local)+len(remote) > 0 {
		e.logger.Debug("replayed buffered changes",
			slog.Int("local", len(local)),
			slog.Int("remote", len(remote)))
	}
	e.emit(outLocal)
	e.emit(outRemote)
}

// Compact removes worker documents absent from the server's authoritative
// id set for a collection. The synthetic deletes run through the same
// conflict policy as ordinary remote deletes: a document with a pending
// local upsert survives, a pending local delete is a no-op, and everything
// else is deleted and reported toward the client.
func (e *Engine[D, P, ID, CID]) Compact(collection string, knownIDs map[ID]struct{}) {
	e.mu.Lock()
	var deletes []Change[D, P]
	for _, id := range e.worker.IDs(collection) {
		if _, known := knownIDs[id]; known {
			continue
		}
		if doc, ok := e.worker.Get(collection, id); ok {
			deletes = append(deletes, Delete[D, P](collection, doc))
		}
	}
	e.mu.Unlock()

	if len(deletes) == 0 {
		return
	}
	e.logger.Debug("compacting collection",
		slog.String("collection", collection),
		slog.Int("candidates", len(deletes)),
		slog.Int("known", len(knownIDs)))
	e.metrics.RecordCompaction(collection, len(deletes))
	e.Changed(deletes)
}

func (e *Engine[D, P, ID, CID]) emit(changes []WorkerChange[D, P, CID]) {
	if len(changes) == 0 {
		return
	}
	corrections := 0
	for _, change := range changes {
		if change.ChangeID != nil {
			corrections++
		}
	}
	if corrections > 0 {
		e.metrics.RecordCorrections(corrections)
	}
	e.sink.WorkerChanged(changes)
}
