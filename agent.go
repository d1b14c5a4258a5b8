package syncworker

import (
	"log/slog"
	"sync"
)

// Agent wraps the client replica. It tags outgoing local change batches
// with correlation ids and filters incoming worker changes through the
// tracker so that a stale acknowledgement never overwrites a newer,
// not-yet-acknowledged local edit.
//
// The agent is the single writer of the client replica. Applying a worker
// change to the client replica re-triggers the replica's own change
// notification; the applyingRemote state suppresses that feedback loop.
type Agent[D, P any, ID, CID comparable] struct {
	client  ClientStore[D, P, ID]
	tracker *Tracker[ID, CID]
	sink    OptimisticSink[D, P, CID]
	logger  *slog.Logger
	metrics MetricsCollector

	mu             sync.Mutex
	applyingRemote bool

	unsubscribe func()
}

// NewAgent wires an Agent to the client replica and starts forwarding its
// local change batches to sink. opts may be nil.
func NewAgent[D, P any, ID, CID comparable](
	client ClientStore[D, P, ID],
	tracker *Tracker[ID, CID],
	sink OptimisticSink[D, P, CID],
	opts *Options,
) *Agent[D, P, ID, CID] {
	o := opts.withDefaults()
	a := &Agent[D, P, ID, CID]{
		client:  client,
		tracker: tracker,
		sink:    sink,
		logger:  o.Logger.With(slog.String("component", "agent")),
		metrics: o.Metrics,
	}
	a.unsubscribe = client.Subscribe(a.localChanged)
	return a
}

// Close stops the agent from receiving client replica notifications.
func (a *Agent[D, P, ID, CID]) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// localChanged handles the client replica's own change notifications.
// Each change is tagged with a fresh correlation id and the batch is
// forwarded upward in order, one id per change.
func (a *Agent[D, P, ID, CID]) localChanged(changes []Change[D, P]) {
	a.mu.Lock()
	applying := a.applyingRemote
	a.mu.Unlock()
	if applying || len(changes) == 0 {
		return
	}

	out := make([]OptimisticChange[D, P, CID], 0, len(changes))
	for _, change := range changes {
		id := a.tracker.Add(a.client.ID(change.Doc))
		out = append(out, OptimisticChange[D, P, CID]{Change: change, ChangeID: id})
	}

	a.logger.Debug("forwarding local changes", slog.Int("count", len(out)))
	a.metrics.RecordChanges(len(out), 0)
	a.sink.ClientChanged(out)
}

// WorkerChanged applies a batch of worker changes to the client replica.
// A change is applied only when the tracker clears it: either no local
// edit is outstanding for the document, or the change is the echo of the
// most recent one. Everything else is discarded.
func (a *Agent[D, P, ID, CID]) WorkerChanged(changes []WorkerChange[D, P, CID]) {
	a.mu.Lock()
	a.applyingRemote = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.applyingRemote = false
		a.mu.Unlock()
	}()

	suppressed := 0
	for _, change := range changes {
		docID := a.client.ID(change.Doc)
		if !a.tracker.Remove(docID, change.ChangeID) {
			suppressed++
			continue
		}
		ApplyChange(a.client, change.Change)
	}

	if suppressed > 0 {
		a.logger.Debug("suppressed stale echoes",
			slog.Int("suppressed", suppressed),
			slog.Int("batch", len(changes)))
		a.metrics.RecordEchoesSuppressed(suppressed)
	}
	a.metrics.RecordChanges(0, len(changes)-suppressed)
}
