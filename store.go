package syncworker

import "context"

// Store is the base capability shared by every replica tier. Identity and
// equality are supplied by the implementation so the engine stays agnostic
// to the document representation: ID extracts a document's key, Equal is
// structural (never reference) equality.
//
// Get, Set and Delete are synchronous; persistence, if any, happens behind
// Save on the stores that have one.
type Store[D any, ID comparable] interface {
	// Get returns the document stored under id, and whether it exists.
	Get(collection string, id ID) (D, bool)

	// Set writes doc under its own id, replacing any previous value.
	Set(collection string, doc D)

	// Delete removes the document stored under id, if any.
	Delete(collection string, id ID)

	// ID extracts the identity of a document.
	ID(doc D) ID

	// Equal reports structural equality of two documents.
	Equal(a, b D) bool
}

// ClientStore is the interactive client replica. Local mutations surface
// as batches of plain Changes through Subscribe.
type ClientStore[D, P any, ID comparable] interface {
	Store[D, ID]

	// Subscribe registers a handler for locally-originated change batches.
	// The returned function cancels the registration.
	Subscribe(handler func(changes []Change[D, P])) (unsubscribe func())
}

// WorkerStore is the intermediate worker replica. Besides the base store
// capability it can persist itself, enumerate a collection, and prepare
// documents for leaving the worker tier.
type WorkerStore[D any, ID comparable] interface {
	Store[D, ID]

	// Save persists the replica's current state.
	Save(ctx context.Context) error

	// IDs returns the ids of every document in a collection.
	IDs(collection string) []ID

	// Values returns every document in a collection.
	Values(collection string) []D

	// Clear removes all documents from a collection.
	Clear(collection string) error

	// SetID returns doc with its identity set to id.
	SetID(doc D, id ID) D

	// Clean returns doc stripped of engine-private fields, making it safe
	// to send to another tier.
	Clean(doc D) D
}

// ServerStore is the authoritative server replica, reachable only through
// batched saves. A Save either commits the whole batch or nothing.
type ServerStore[D, P any] interface {
	Save(ctx context.Context, changes []Change[D, P]) error
}

// OptimisticSink receives tagged local change batches flowing upward from
// the client tier. The Engine implements it.
type OptimisticSink[D, P any, CID comparable] interface {
	ClientChanged(changes []OptimisticChange[D, P, CID])
}

// WorkerSink receives change batches flowing downward from the worker
// tier: corrective echoes of local edits and genuinely remote changes.
// The Agent implements it.
type WorkerSink[D, P any, CID comparable] interface {
	WorkerChanged(changes []WorkerChange[D, P, CID])
}

// ServerSink receives server-originated notifications: plain change
// batches and compaction requests asserting authoritative membership of a
// collection. The Engine implements it; server replica integrations
// (listeners, transports) deliver into it.
type ServerSink[D, P any, ID comparable] interface {
	Changed(changes []Change[D, P])
	Compact(collection string, knownIDs map[ID]struct{})
}

// PatchApplier replays an ordered patch journal on top of a base document
// and returns the result. It must be pure and deterministic; the engine is
// agnostic to the patch representation.
type PatchApplier[D, P any] func(doc D, patches []P) D

// IDFactory returns a fresh opaque id on every call. Separate factories
// are injected for document ids and change ids.
type IDFactory[T any] func() T
