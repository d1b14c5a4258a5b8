package syncworker

// ApplySet writes doc into store unless the present value is already
// structurally equal, reporting whether a mutation occurred. Applying the
// same document twice in a row mutates nothing the second time.
func ApplySet[D any, ID comparable](store Store[D, ID], collection string, doc D) bool {
	id := store.ID(doc)
	if current, ok := store.Get(collection, id); ok && store.Equal(current, doc) {
		return false
	}
	store.Set(collection, doc)
	return true
}

// ApplyDelete removes the document stored under id if one exists,
// reporting whether a mutation occurred.
func ApplyDelete[D any, ID comparable](store Store[D, ID], collection string, id ID) bool {
	if _, ok := store.Get(collection, id); !ok {
		return false
	}
	store.Delete(collection, id)
	return true
}

// ApplyChange dispatches change to ApplySet or ApplyDelete based on its
// tag, reporting whether a mutation occurred.
func ApplyChange[D, P any, ID comparable](store Store[D, ID], change Change[D, P]) bool {
	if change.Type == ChangeDelete {
		return ApplyDelete(store, change.Collection, store.ID(change.Doc))
	}
	return ApplySet(store, change.Collection, change.Doc)
}
