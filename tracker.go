package syncworker

import "github.com/puzpuzpuz/xsync/v3"

// Tracker correlates outstanding local edits with their eventual echoes.
// It keeps, per document id, the most recently issued change id; issuing a
// new id for a document invalidates matching against the previous one.
//
// The tracker is safe for concurrent use: Remove's match-and-clear is a
// single atomic step on the underlying map.
type Tracker[ID, CID comparable] struct {
	next IDFactory[CID]
	ids  *xsync.MapOf[ID, CID]
}

// NewTracker returns a Tracker minting change ids from next.
func NewTracker[ID, CID comparable](next IDFactory[CID]) *Tracker[ID, CID] {
	return &Tracker[ID, CID]{
		next: next,
		ids:  xsync.NewMapOf[ID, CID](),
	}
}

// Add mints a fresh change id, records it as the current id for docID
// (overwriting any previous one) and returns it. Subsequent Remove calls
// for docID match only against this id.
func (t *Tracker[ID, CID]) Add(docID ID) CID {
	id := t.next()
	t.ids.Store(docID, id)
	return id
}

// Remove reports whether a remote echo for docID is safe to apply.
//
// It returns true when no id is tracked for docID, or when changeID is
// non-nil and equals the tracked id; in the matching case the tracked id
// is also cleared. It returns false when a different id is tracked, or
// when changeID is nil while an id is tracked: a newer local edit is still
// outstanding and must not be overwritten.
func (t *Tracker[ID, CID]) Remove(docID ID, changeID *CID) bool {
	safe := true
	t.ids.Compute(docID, func(current CID, loaded bool) (CID, bool) {
		if !loaded {
			return current, true
		}
		if changeID != nil && *changeID == current {
			return current, true
		}
		safe = false
		return current, false
	})
	return safe
}

// Len returns the number of documents with an outstanding local edit.
func (t *Tracker[ID, CID]) Len() int {
	return t.ids.Size()
}
