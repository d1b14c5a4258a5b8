package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	syncErrors "github.com/kavaro/sync-worker/errors"
	"github.com/kavaro/sync-worker/logging"
	"github.com/kavaro/sync-worker/transport/httptransport"
)

const opSubscribe = syncErrors.Operation("subscribe")

// maxEventSize bounds a single SSE line. Batches are bounded on the
// publishing side; this guards against a misbehaving endpoint.
const maxEventSize = 10 * 1024 * 1024

// Subscriber consumes an SSE change stream and delivers the decoded
// batches into a ServerSink, typically an Engine.
type Subscriber struct {
	url    string
	client *http.Client
	sink   syncworker.ServerSink[document.Document, document.Patch, string]
	logger *logging.Logger
}

// SubscriberOption customizes a Subscriber.
type SubscriberOption func(*Subscriber)

// WithHTTPClient sets the HTTP client used for the stream connection.
// The client must not enforce an overall request timeout; the stream is
// expected to stay open indefinitely.
func WithHTTPClient(client *http.Client) SubscriberOption {
	return func(s *Subscriber) {
		s.client = client
	}
}

// NewSubscriber creates a Subscriber for the SSE endpoint at url.
func NewSubscriber(
	url string,
	sink syncworker.ServerSink[document.Document, document.Patch, string],
	opts ...SubscriberOption,
) *Subscriber {
	s := &Subscriber{
		url:    url,
		client: &http.Client{},
		sink:   sink,
		logger: logging.WithComponent(logging.Component("transport/sse")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects to the stream and delivers batches until ctx is cancelled
// or the stream breaks. A broken stream returns a retryable error; after
// reconnecting, the caller resynchronizes by compacting against the
// server's membership, since batches published during the gap are gone.
func (s *Subscriber) Run(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return syncErrors.E(opSubscribe, syncErrors.Component("transport/sse"), syncErrors.KindInvalid, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return syncErrors.E(opSubscribe, syncErrors.Component("transport/sse"), syncErrors.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return syncErrors.E(opSubscribe, syncErrors.Component("transport/sse"), syncErrors.KindTransient,
			syncErrors.ErrCodeTransportFailure, "unexpected status "+resp.Status)
	}

	s.logger.Info("subscribed to change stream", slog.String("url", s.url))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		s.deliver(bytes.TrimPrefix(line, []byte("data: ")))
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return syncErrors.E(opSubscribe, syncErrors.Component("transport/sse"), syncErrors.KindTransient, err)
	}
	return nil
}

// deliver decodes one event payload and forwards it to the sink.
// Malformed payloads and invalid changes are logged and dropped; one bad
// event must not tear down the stream.
func (s *Subscriber) deliver(raw []byte) {
	var batch httptransport.WireBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		s.logger.Warn("dropping malformed event", slog.Any("error", err))
		return
	}

	changes := make([]syncworker.Change[document.Document, document.Patch], 0, len(batch.Changes))
	for _, wire := range batch.Changes {
		change, err := httptransport.FromWire(wire)
		if err != nil {
			s.logger.Warn("dropping invalid change", slog.Any("error", err))
			continue
		}
		changes = append(changes, change)
	}
	if len(changes) == 0 {
		return
	}
	s.sink.Changed(changes)
}

// RunWithRetry runs the subscription, reconnecting with a fixed backoff
// until ctx is cancelled. onReconnect, when non-nil, runs before each
// reconnection attempt so the caller can schedule a resynchronization.
func (s *Subscriber) RunWithRetry(ctx context.Context, backoff time.Duration, onReconnect func()) {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	for {
		if err := s.Run(ctx); err != nil {
			s.logger.Warn("change stream broken", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if onReconnect != nil {
			onReconnect()
		}
	}
}
