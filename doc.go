// Package syncworker reconciles three tiers of a replicated document
// store (an interactive client replica, an intermediate worker replica
// and an authoritative server replica) under an asymmetric conflict
// policy: locally-originated edits take precedence over concurrent remote
// edits until they are explicitly flushed to the server.
//
// The Agent wraps the client replica. It tags every outgoing local edit
// with a correlation id and drops incoming acknowledgements whose id no
// longer matches the most recent outstanding edit, so a stale echo can
// never clobber newer local state.
//
// The Engine wraps the worker and server replicas. Local changes are
// applied optimistically and journaled per document until a Save ships
// the accumulated batch to the server; server-originated changes are
// merged against the journal by replaying local patches on top of the
// server's document. While a Save's persistence calls are pending, new
// notifications are buffered and replayed afterwards, local before
// remote, so a save observes a stable snapshot without dropping or
// reordering events.
//
// Storage backends, the transport between tiers, the patch representation
// and id generation are all injected; see the Store interfaces,
// PatchApplier and IDFactory.
package syncworker
