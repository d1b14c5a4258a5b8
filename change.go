package syncworker

// ChangeType tags a Change as either an upsert or a delete.
type ChangeType string

const (
	// ChangeUpsert describes a document that was created or modified.
	ChangeUpsert ChangeType = "upsert"

	// ChangeDelete describes a document that was removed. Doc holds the
	// document as it existed immediately before deletion.
	ChangeDelete ChangeType = "delete"
)

// Change describes one mutation to one document in one collection.
// D is the document type, P the patch type produced by the caller's
// patch engine. For upserts, Patches is the ordered sequence of edits
// that produced Doc from its prior state; deletes carry no patches.
type Change[D, P any] struct {
	Type       ChangeType
	Collection string
	Doc        D
	Patches    []P
}

// Upsert builds an upsert Change.
func Upsert[D, P any](collection string, doc D, patches []P) Change[D, P] {
	return Change[D, P]{Type: ChangeUpsert, Collection: collection, Doc: doc, Patches: patches}
}

// Delete builds a delete Change. doc is the document being removed.
func Delete[D, P any](collection string, doc D) Change[D, P] {
	return Change[D, P]{Type: ChangeDelete, Collection: collection, Doc: doc}
}

// OptimisticChange is a Change tagged with the correlation id minted when
// the edit left the client tier. Change ids are opaque tokens compared
// only for equality; a later id issued for the same document supersedes
// any earlier one.
type OptimisticChange[D, P any, CID comparable] struct {
	Change[D, P]
	ChangeID CID
}

// WorkerChange is a Change flowing from the worker tier back toward the
// client. ChangeID is non-nil when the change is a corrective echo of a
// specific local edit and nil when it originated remotely.
type WorkerChange[D, P any, CID comparable] struct {
	Change[D, P]
	ChangeID *CID
}
