package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	"github.com/kavaro/sync-worker/logging"
	"github.com/kavaro/sync-worker/storage/memory"
	"github.com/kavaro/sync-worker/storage/postgres"
	"github.com/kavaro/sync-worker/transport/httptransport"
	"github.com/kavaro/sync-worker/transport/sse"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative sync server",
		Long: `Run the authoritative replica behind an HTTP push endpoint.

Workers ship their accumulated change batches to POST /sync/push and
query collection membership for compaction at GET /sync/membership.

Example:
  syncworker serve --config server.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	logger := logging.WithComponent(logging.Component("serve"))

	broadcaster := sse.NewBroadcaster(nil)
	defer broadcaster.Close()

	store, membership, cleanup, err := openServerStore(cfg, broadcaster)
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	mux.Handle("/sync/stream", broadcaster.Handler())
	mux.Handle("/sync/", httptransport.NewHandler(store, membership, nil))
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", slog.Any("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("addr", cfg.Listen),
			slog.String("driver", cfg.Database.Driver),
			slog.Bool("metrics", cfg.Metrics.Enabled))
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// memoryMembership adapts the in-memory store's synchronous id set to the
// handler's context-taking interface.
type memoryMembership struct {
	store *memory.ServerStore[document.Document, document.Patch, string]
}

func (m memoryMembership) KnownIDs(ctx context.Context, collection string) (map[string]struct{}, error) {
	return m.store.KnownIDs(collection), nil
}

// broadcasterSink republishes server-originated change batches onto the
// SSE stream. Compaction is driven by each worker against the membership
// endpoint, never pushed.
type broadcasterSink struct {
	broadcaster *sse.Broadcaster
}

func (s broadcasterSink) Changed(changes []syncworker.Change[document.Document, document.Patch]) {
	s.broadcaster.Publish(changes)
}

func (s broadcasterSink) Compact(collection string, knownIDs map[string]struct{}) {}

// openServerStore builds the configured authoritative replica, feeding
// committed changes into broadcaster. The returned cleanup is non-nil
// and safe to defer.
func openServerStore(cfg Config, broadcaster *sse.Broadcaster) (syncworker.ServerStore[document.Document, document.Patch], httptransport.Membership, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pgCfg := postgres.DefaultConfig(cfg.Database.DSN)
		if cfg.Database.Channel != "" {
			pgCfg.Channel = cfg.Database.Channel
		}
		store, err := postgres.New(pgCfg)
		if err != nil {
			return nil, nil, func() {}, err
		}

		// Commits from every server process fan out through NOTIFY, so
		// the stream carries changes pushed to any replica of this
		// service, not just this one.
		listener, err := postgres.NewChangeListener(cfg.Database.DSN, pgCfg.Channel, broadcasterSink{broadcaster})
		if err != nil {
			store.Close()
			return nil, nil, func() {}, err
		}
		if err := listener.Start(context.Background()); err != nil {
			listener.Close()
			store.Close()
			return nil, nil, func() {}, err
		}
		return store, store, func() {
			listener.Close()
			store.Close()
		}, nil

	case "memory":
		store, err := memory.NewServerStore[document.Document, document.Patch, string](memory.Config[document.Document, string]{
			GetID: document.ID,
			SetID: document.SetID,
			Equal: document.Equal,
			Clone: document.Clone,
			Clean: document.Clean,
		})
		if err != nil {
			return nil, nil, func() {}, err
		}
		store.OnCommit = broadcaster.Publish
		return store, memoryMembership{store}, func() {}, nil

	default:
		return nil, nil, func() {}, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
