package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	"github.com/kavaro/sync-worker/storage/memory"
)

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a three-tier sync round trip in-process",
		Long: `Wire a client replica, a worker engine and an in-memory authoritative
replica together, make a few edits, save, and print each tier's view.

Useful as a smoke test and as executable documentation of the flow.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, rootOpts)
		},
	}
	return cmd
}

func runDemo(cmd *cobra.Command, rootOpts *RootOptions) error {
	if _, err := loadConfig(rootOpts); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	docCfg := memory.Config[document.Document, string]{
		GetID: document.ID,
		SetID: document.SetID,
		Equal: document.Equal,
		Clone: document.Clone,
		Clean: document.Clean,
	}

	client, err := memory.NewClientStore[document.Document, document.Patch, string](docCfg)
	if err != nil {
		return err
	}
	worker, err := memory.NewWorkerStore[document.Document, string](docCfg)
	if err != nil {
		return err
	}
	server, err := memory.NewServerStore[document.Document, document.Patch, string](docCfg)
	if err != nil {
		return err
	}

	// client -> agent -> engine -> server, and back down again.
	var agent *syncworker.Agent[document.Document, document.Patch, string, string]
	engine, err := syncworker.NewEngineBuilder[document.Document, document.Patch, string, string]().
		WithWorker(worker).
		WithServer(server).
		WithPatchApplier(document.ApplyPatches).
		WithSink(sinkFunc(func(changes []syncworker.WorkerChange[document.Document, document.Patch, string]) {
			agent.WorkerChanged(changes)
		})).
		Build()
	if err != nil {
		return err
	}
	tracker := syncworker.NewTracker[string](syncworker.NewULIDFactory())
	agent = syncworker.NewAgent[document.Document, document.Patch, string, string](
		client,
		tracker,
		optimisticSinkFunc(func(changes []syncworker.OptimisticChange[document.Document, document.Patch, string]) {
			engine.ClientChanged(changes)
		}),
		nil,
	)
	defer agent.Close()

	fmt.Fprintln(out, "editing two documents on the client...")
	noteID := syncworker.NewUUIDFactory()()
	client.Edit("notes", document.Document{"id": noteID, "body": "hello"}, []document.Patch{
		document.Set("body", "hello"),
	})
	client.Edit("notes", document.Document{"id": noteID, "body": "hello world"}, []document.Patch{
		document.Set("body", "hello world"),
	})

	fmt.Fprintf(out, "worker pending: %d document(s)\n", engine.PendingLen())

	fmt.Fprintln(out, "saving...")
	if err := engine.Save(context.Background()); err != nil {
		return err
	}

	serverDoc, _ := server.Get("notes", noteID)
	fmt.Fprintf(out, "server now holds: %v\n", serverDoc)

	fmt.Fprintln(out, "applying a change from another worker...")
	remoteID := syncworker.NewUUIDFactory()()
	engine.Changed([]syncworker.Change[document.Document, document.Patch]{
		syncworker.Upsert("notes", document.Document{"id": remoteID, "body": "from elsewhere"}, []document.Patch(nil)),
	})

	clientDoc, _ := client.Get("notes", remoteID)
	fmt.Fprintf(out, "client now holds the remote document: %v\n", clientDoc)

	// The remote document was never pushed to this demo's server, so the
	// authoritative membership does not include it.
	fmt.Fprintln(out, "compacting against the server's membership...")
	fmt.Fprintf(out, "worker holds %d document(s) before compaction\n", len(worker.IDs("notes")))
	engine.Compact("notes", server.KnownIDs("notes"))
	fmt.Fprintf(out, "worker holds %d document(s) after compaction\n", len(worker.IDs("notes")))

	return nil
}

// sinkFunc adapts a function to the WorkerSink interface.
type sinkFunc func([]syncworker.WorkerChange[document.Document, document.Patch, string])

func (f sinkFunc) WorkerChanged(changes []syncworker.WorkerChange[document.Document, document.Patch, string]) {
	f(changes)
}

// optimisticSinkFunc adapts a function to the OptimisticSink interface.
type optimisticSinkFunc func([]syncworker.OptimisticChange[document.Document, document.Patch, string])

func (f optimisticSinkFunc) ClientChanged(changes []syncworker.OptimisticChange[document.Document, document.Patch, string]) {
	f(changes)
}
