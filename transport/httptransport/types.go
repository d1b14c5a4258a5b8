// Package httptransport carries change batches between worker and server
// processes over HTTP. The server side exposes an authoritative replica
// as a push endpoint plus a membership endpoint for compaction; the
// client side implements the ServerStore contract over those endpoints.
package httptransport

import (
	"fmt"
	"time"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
)

// WireChange is the JSON-serializable representation of one change.
type WireChange struct {
	Type       string            `json:"type"`
	Collection string            `json:"collection"`
	Doc        document.Document `json:"doc"`
	Patches    []document.Patch  `json:"patches,omitempty"`
}

// WireBatch is the push request body. A batch commits atomically.
type WireBatch struct {
	Changes []WireChange `json:"changes"`
}

// MembershipResponse is the body of a membership query: the ids the
// server currently holds for a collection.
type MembershipResponse struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

// ServerOptions configures the HTTP handler behavior.
type ServerOptions struct {
	// MaxRequestSize is the maximum allowed size of incoming request
	// bodies in bytes. If 0, defaults to 10MB.
	MaxRequestSize int64

	// MaxBatchLen is the maximum number of changes accepted per push.
	// If 0, defaults to 1000.
	MaxBatchLen int

	// RequestTimeout is the maximum duration for processing a single
	// request. If 0, defaults to 30 seconds.
	RequestTimeout time.Duration
}

// DefaultServerOptions returns the default server options.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize: 10 * 1024 * 1024,
		MaxBatchLen:    1000,
		RequestTimeout: 30 * time.Second,
	}
}

func (o *ServerOptions) setDefaults() {
	if o.MaxRequestSize == 0 {
		o.MaxRequestSize = 10 * 1024 * 1024
	}
	if o.MaxBatchLen == 0 {
		o.MaxBatchLen = 1000
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
}

// ClientOptions configures the HTTP client behavior.
type ClientOptions struct {
	// MaxResponseSize is the maximum allowed size of response bodies in
	// bytes. If 0, defaults to 10MB.
	MaxResponseSize int64

	// RequestTimeout is the maximum duration for a single request.
	// If 0, defaults to 30 seconds.
	RequestTimeout time.Duration
}

// DefaultClientOptions returns the default client options.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		MaxResponseSize: 10 * 1024 * 1024,
		RequestTimeout:  30 * time.Second,
	}
}

// ToWire converts an engine change to its wire form, stripping
// engine-private document keys.
func ToWire(change syncworker.Change[document.Document, document.Patch]) WireChange {
	return WireChange{
		Type:       string(change.Type),
		Collection: change.Collection,
		Doc:        document.Clean(change.Doc),
		Patches:    change.Patches,
	}
}

// FromWire validates and converts a wire change back to an engine change.
func FromWire(wire WireChange) (syncworker.Change[document.Document, document.Patch], error) {
	var change syncworker.Change[document.Document, document.Patch]

	if wire.Collection == "" {
		return change, fmt.Errorf("change has no collection")
	}
	if document.ID(wire.Doc) == "" {
		return change, fmt.Errorf("change document has no id")
	}

	switch syncworker.ChangeType(wire.Type) {
	case syncworker.ChangeUpsert:
		return syncworker.Upsert(wire.Collection, wire.Doc, wire.Patches), nil
	case syncworker.ChangeDelete:
		return syncworker.Delete[document.Document, document.Patch](wire.Collection, wire.Doc), nil
	default:
		return change, fmt.Errorf("unknown change type %q", wire.Type)
	}
}
