// Package sse streams committed server change batches to workers over
// Server-Sent Events. It is the push complement to the httptransport
// package: workers ship batches up over HTTP POST and, where a direct
// database listener is not available, receive the server's committed
// changes back over a long-lived SSE stream.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	"github.com/kavaro/sync-worker/logging"
	"github.com/kavaro/sync-worker/transport/httptransport"
)

// BroadcasterOptions configures the SSE fan-out behavior.
type BroadcasterOptions struct {
	// HeartbeatInterval is how often an SSE comment line is written to
	// keep idle connections alive. If 0, defaults to 15 seconds.
	HeartbeatInterval time.Duration

	// SubscriberBuffer is the per-subscriber batch queue length. A
	// subscriber that falls this far behind starts losing batches; it
	// must resynchronize by compacting against the membership endpoint.
	// If 0, defaults to 16.
	SubscriberBuffer int
}

func (o *BroadcasterOptions) setDefaults() {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	if o.SubscriberBuffer == 0 {
		o.SubscriberBuffer = 16
	}
}

// Broadcaster fans committed change batches out to any number of SSE
// subscribers. Hook Publish into the authoritative replica's commit path.
type Broadcaster struct {
	options BroadcasterOptions
	logger  *logging.Logger

	mu     sync.Mutex
	subs   map[chan httptransport.WireBatch]struct{}
	closed bool
}

// NewBroadcaster creates a Broadcaster. options may be nil.
func NewBroadcaster(options *BroadcasterOptions) *Broadcaster {
	opts := BroadcasterOptions{}
	if options != nil {
		opts = *options
	}
	opts.setDefaults()
	return &Broadcaster{
		options: opts,
		logger:  logging.WithComponent(logging.Component("transport/sse")),
		subs:    make(map[chan httptransport.WireBatch]struct{}),
	}
}

// Publish fans a committed batch out to every connected subscriber.
// Subscribers whose queue is full lose the batch; they catch up through
// compaction, not through replay.
func (b *Broadcaster) Publish(changes []syncworker.Change[document.Document, document.Patch]) {
	if len(changes) == 0 {
		return
	}
	batch := httptransport.WireBatch{Changes: make([]httptransport.WireChange, 0, len(changes))}
	for _, change := range changes {
		batch.Changes = append(batch.Changes, httptransport.ToWire(change))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub <- batch:
		default:
			b.logger.Warn("dropping batch for slow subscriber",
				slog.Int("changes", len(batch.Changes)))
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

func (b *Broadcaster) subscribe() (chan httptransport.WireBatch, func(), bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, false
	}
	sub := make(chan httptransport.WireBatch, b.options.SubscriberBuffer)
	b.subs[sub] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
		}
	}
	return sub, cancel, true
}

// Handler returns the SSE endpoint. Each connection receives every batch
// published after it connected, as one JSON-encoded event per batch.
func (b *Broadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub, cancel, ok := b.subscribe()
		if !ok {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(b.options.HeartbeatInterval)
		defer heartbeat.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case batch, open := <-sub:
				if !open {
					return
				}
				raw, err := json.Marshal(batch)
				if err != nil {
					b.logger.Error("failed to encode batch", slog.Any("error", err))
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
