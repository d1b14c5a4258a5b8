// Package document provides a schemaless map-backed document type with
// the identity, equality, and patch semantics the sync engine expects.
// Keys beginning with "$" are engine-private and are stripped before a
// document leaves the worker tier.
package document

import (
	"reflect"
	"strings"
)

// IDKey is the document key holding the identity.
const IDKey = "id"

// Document is a schemaless record keyed by string.
type Document map[string]any

// Patch operation kinds.
const (
	OpSet    = "set"
	OpDelete = "delete"
)

// Patch is a single field-level edit.
type Patch struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// Set builds a set patch.
func Set(key string, value any) Patch {
	return Patch{Op: OpSet, Key: key, Value: value}
}

// Remove builds a delete patch.
func Remove(key string) Patch {
	return Patch{Op: OpDelete, Key: key}
}

// ID returns the document's identity, or "" when unset.
func ID(doc Document) string {
	id, _ := doc[IDKey].(string)
	return id
}

// SetID returns a copy of doc with the identity set.
func SetID(doc Document, id string) Document {
	out := Clone(doc)
	if out == nil {
		out = Document{}
	}
	out[IDKey] = id
	return out
}

// Equal reports whether two documents hold the same content.
func Equal(a, b Document) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Clone returns a shallow copy of doc. Nested values are shared; patches
// replace whole fields, so field-level copy-on-write is sufficient.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// Clean returns doc without engine-private keys. The input is not
// modified; when nothing needs stripping the input is returned as-is.
func Clean(doc Document) Document {
	private := false
	for k := range doc {
		if strings.HasPrefix(k, "$") {
			private = true
			break
		}
	}
	if !private {
		return doc
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "$") {
			continue
		}
		out[k] = v
	}
	return out
}

// ApplyPatches replays a patch journal over doc and returns the result.
// The input document is never mutated. Unknown ops are ignored.
func ApplyPatches(doc Document, patches []Patch) Document {
	if len(patches) == 0 {
		return doc
	}
	out := Clone(doc)
	if out == nil {
		out = Document{}
	}
	for _, p := range patches {
		switch p.Op {
		case OpSet:
			out[p.Key] = p.Value
		case OpDelete:
			delete(out, p.Key)
		}
	}
	return out
}
