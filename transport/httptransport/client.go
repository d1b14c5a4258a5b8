package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	syncErrors "github.com/kavaro/sync-worker/errors"
)

// Client talks to a SyncHandler. It implements the ServerStore contract,
// so an engine can run against a remote authoritative replica without
// knowing it is remote.
type Client struct {
	baseURL string
	http    *http.Client
	options *ClientOptions
}

// Compile-time check that Client satisfies the server contract.
var _ syncworker.ServerStore[document.Document, document.Patch] = (*Client)(nil)

// ClientOption configures a Client using the functional options pattern.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		c.http = cl
	}
}

// WithOptions sets size and timeout limits.
func WithOptions(o *ClientOptions) ClientOption {
	return func(c *Client) {
		c.options = o
	}
}

// NewClient creates a client for the handler mounted at baseURL,
// e.g. "http://server.example.com/sync".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		options: DefaultClientOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		timeout := c.options.RequestTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c
}

// BaseURL returns the base URL for the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Save pushes a change batch. A non-2xx response means the server
// committed nothing, so the caller's pending state stays intact and a
// later Save retries the full batch.
func (c *Client) Save(ctx context.Context, changes []syncworker.Change[document.Document, document.Patch]) error {
	if len(changes) == 0 {
		return nil
	}

	batch := WireBatch{Changes: make([]WireChange, 0, len(changes))}
	for _, change := range changes {
		batch.Changes = append(batch.Changes, ToWire(change))
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return syncErrors.NewTransportError(syncErrors.OpSave, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push", bytes.NewReader(body))
	if err != nil {
		return syncErrors.NewTransportError(syncErrors.OpSave, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return syncErrors.NewTransportError(syncErrors.OpSave, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return syncErrors.NewTransportError(syncErrors.OpSave, c.responseError(resp))
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, c.options.MaxResponseSize))
	return nil
}

// KnownIDs queries the server's membership for a collection, in the
// shape Compact expects.
func (c *Client) KnownIDs(ctx context.Context, collection string) (map[string]struct{}, error) {
	endpoint := c.baseURL + "/membership?collection=" + url.QueryEscape(collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, syncErrors.NewTransportError(syncErrors.OpCompact, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncErrors.NewTransportError(syncErrors.OpCompact, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, syncErrors.NewTransportError(syncErrors.OpCompact, c.responseError(resp))
	}

	var membership MembershipResponse
	limited := io.LimitReader(resp.Body, c.options.MaxResponseSize)
	if err := json.NewDecoder(limited).Decode(&membership); err != nil {
		return nil, syncErrors.NewTransportError(syncErrors.OpCompact, err)
	}

	known := make(map[string]struct{}, len(membership.IDs))
	for _, id := range membership.IDs {
		known[id] = struct{}{}
	}
	return known, nil
}

// responseError extracts the handler's error message from a failed
// response body.
func (c *Client) responseError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	limited := io.LimitReader(resp.Body, 4096)
	if err := json.NewDecoder(limited).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
