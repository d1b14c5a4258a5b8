package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	"github.com/kavaro/sync-worker/logging"
)

// ChangeListener turns the ChangeLog's pg_notify announcements into
// server change batches delivered to a ServerSink. Every worker process
// runs one listener per database; its sink is normally the process's
// sync engine.
type ChangeListener struct {
	channel string
	sink    syncworker.ServerSink[document.Document, document.Patch, string]
	logger  *logging.Logger

	listener *pq.Listener
	closed   int32 // atomic
	done     chan struct{}

	reconnectInterval   time.Duration
	notificationTimeout time.Duration
	pingInterval        time.Duration
}

// NewChangeListener creates a listener on the given channel. The sink
// receives one Changed call per announced change.
func NewChangeListener(connectionString, channel string, sink syncworker.ServerSink[document.Document, document.Patch, string]) (*ChangeListener, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}

	cl := &ChangeListener{
		channel:             channel,
		sink:                sink,
		logger:              logging.WithComponent(logging.Component("postgres-listener")),
		done:                make(chan struct{}),
		reconnectInterval:   5 * time.Second,
		notificationTimeout: 30 * time.Second,
		pingInterval:        90 * time.Second,
	}

	cl.listener = pq.NewListener(
		connectionString,
		cl.reconnectInterval,
		cl.notificationTimeout,
		cl.eventCallback,
	)

	return cl, nil
}

// eventCallback handles pq.Listener connection events.
func (cl *ChangeListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		cl.logger.Info("connected for LISTEN/NOTIFY", slog.String("channel", cl.channel))
	case pq.ListenerEventDisconnected:
		cl.logger.Warn("disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		// pq re-issues LISTEN for known channels after reconnect, but any
		// notifications published in the gap are lost. A Compact against
		// the ChangeLog's KnownIDs resynchronizes membership.
		cl.logger.Info("reconnected", slog.String("channel", cl.channel))
	case pq.ListenerEventConnectionAttemptFailed:
		cl.logger.Error("connection attempt failed", slog.Any("error", err))
	}
}

// Start subscribes to the channel and launches the listen loop.
func (cl *ChangeListener) Start(ctx context.Context) error {
	if atomic.LoadInt32(&cl.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}
	if err := cl.listener.Listen(cl.channel); err != nil {
		return fmt.Errorf("failed to listen on channel %s: %w", cl.channel, err)
	}
	go cl.listenLoop(ctx)
	return nil
}

func (cl *ChangeListener) listenLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.done:
			return
		case notification := <-cl.listener.Notify:
			if notification != nil {
				cl.handleNotification(notification)
			}
		case <-time.After(cl.pingInterval):
			// Keep the connection alive.
			go func() {
				if err := cl.listener.Ping(); err != nil {
					cl.logger.Warn("ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

func (cl *ChangeListener) handleNotification(notification *pq.Notification) {
	var payload notifyPayload
	if err := json.Unmarshal([]byte(notification.Extra), &payload); err != nil {
		cl.logger.Error("malformed notification payload",
			slog.String("channel", notification.Channel),
			slog.Any("error", err))
		return
	}

	var change syncworker.Change[document.Document, document.Patch]
	switch syncworker.ChangeType(payload.Type) {
	case syncworker.ChangeUpsert:
		change = syncworker.Upsert(payload.Collection, payload.Doc, []document.Patch(nil))
	case syncworker.ChangeDelete:
		change = syncworker.Delete[document.Document, document.Patch](payload.Collection, payload.Doc)
	default:
		cl.logger.Error("unknown change type in notification",
			slog.String("type", payload.Type))
		return
	}

	cl.sink.Changed([]syncworker.Change[document.Document, document.Patch]{change})
}

// IsConnected returns true if the listener can reach PostgreSQL.
func (cl *ChangeListener) IsConnected() bool {
	if atomic.LoadInt32(&cl.closed) == 1 {
		return false
	}
	return cl.listener.Ping() == nil
}

// Close shuts down the listener.
func (cl *ChangeListener) Close() error {
	if !atomic.CompareAndSwapInt32(&cl.closed, 0, 1) {
		return nil
	}
	close(cl.done)
	return cl.listener.Close()
}
