package syncworker

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDFactory returns a document-id factory producing random UUIDs.
func NewUUIDFactory() IDFactory[string] {
	return func() string { return uuid.NewString() }
}

// NewULIDFactory returns a change-id factory producing lexicographically
// sortable ULIDs. Sortability is convenient for debugging; the engine
// itself only ever compares change ids for equality.
func NewULIDFactory() IDFactory[string] {
	return func() string { return ulid.Make().String() }
}
