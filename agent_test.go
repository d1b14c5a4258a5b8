package syncworker

import "testing"

func newTestAgent() (*Agent[testDoc, testPatch, string, string], *mockClient, *Tracker[string, string], *captureOptimisticSink) {
	client := newMockClient()
	tracker := NewTracker[string, string](sequentialIDs("c"))
	sink := &captureOptimisticSink{}
	agent := NewAgent[testDoc, testPatch, string, string](client, tracker, sink, nil)
	return agent, client, tracker, sink
}

func TestAgent_TagsLocalChanges(t *testing.T) {
	_, client, _, sink := newTestAgent()

	client.edit("notes", testDoc{ID: "a", Body: "one"}, []testPatch{{Field: "body", Value: "one"}})
	client.edit("notes", testDoc{ID: "b", Body: "two"}, []testPatch{{Field: "body", Value: "two"}})

	if len(sink.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(sink.batches))
	}
	if sink.batches[0][0].ChangeID != "c1" || sink.batches[1][0].ChangeID != "c2" {
		t.Errorf("change ids = %q, %q; want c1, c2",
			sink.batches[0][0].ChangeID, sink.batches[1][0].ChangeID)
	}
	if sink.batches[0][0].Type != ChangeUpsert {
		t.Errorf("change type = %q, want upsert", sink.batches[0][0].Type)
	}
}

func TestAgent_BatchOrderPreserved(t *testing.T) {
	_, client, _, sink := newTestAgent()

	client.notify([]Change[testDoc, testPatch]{
		Upsert("notes", testDoc{ID: "a"}, []testPatch(nil)),
		Delete[testDoc, testPatch]("notes", testDoc{ID: "b"}),
		Upsert("notes", testDoc{ID: "c"}, []testPatch(nil)),
	})

	if len(sink.batches) != 1 {
		t.Fatalf("a batch in should be one batch out, got %d", len(sink.batches))
	}
	batch := sink.batches[0]
	if len(batch) != 3 {
		t.Fatalf("batch len = %d, want 3", len(batch))
	}
	wantIDs := []string{"a", "b", "c"}
	wantCIDs := []string{"c1", "c2", "c3"}
	for i, change := range batch {
		if change.Doc.ID != wantIDs[i] || change.ChangeID != wantCIDs[i] {
			t.Errorf("batch[%d] = (%s, %s), want (%s, %s)",
				i, change.Doc.ID, change.ChangeID, wantIDs[i], wantCIDs[i])
		}
	}
}

func TestAgent_WorkerChangedAppliesAcknowledged(t *testing.T) {
	agent, client, _, _ := newTestAgent()

	// No local edit outstanding: a remote-originated change applies.
	agent.WorkerChanged([]WorkerChange[testDoc, testPatch, string]{
		{Change: Upsert("notes", testDoc{ID: "a", Body: "remote"}, []testPatch(nil))},
	})

	got, ok := client.Get("notes", "a")
	if !ok || got.Body != "remote" {
		t.Fatalf("Get = (%v, %v), want applied remote doc", got, ok)
	}
}

func TestAgent_EchoSuppression(t *testing.T) {
	agent, client, _, sink := newTestAgent()

	// Two successive local edits; only the second id is current.
	client.edit("notes", testDoc{ID: "a", Body: "one"}, nil)
	client.edit("notes", testDoc{ID: "a", Body: "two"}, nil)

	firstID := sink.batches[0][0].ChangeID
	secondID := sink.batches[1][0].ChangeID

	// The echo of the first edit arrives: it must be dropped.
	agent.WorkerChanged([]WorkerChange[testDoc, testPatch, string]{
		{Change: Upsert("notes", testDoc{ID: "a", Body: "one"}, []testPatch(nil)), ChangeID: &firstID},
	})
	if got, _ := client.Get("notes", "a"); got.Body != "two" {
		t.Fatalf("stale echo overwrote newer local edit: Body = %q", got.Body)
	}

	// A remote change with no id must also be dropped while an edit is
	// outstanding.
	agent.WorkerChanged([]WorkerChange[testDoc, testPatch, string]{
		{Change: Upsert("notes", testDoc{ID: "a", Body: "remote"}, []testPatch(nil))},
	})
	if got, _ := client.Get("notes", "a"); got.Body != "two" {
		t.Fatalf("untagged remote change overwrote local edit: Body = %q", got.Body)
	}

	// The echo of the second edit applies.
	agent.WorkerChanged([]WorkerChange[testDoc, testPatch, string]{
		{Change: Upsert("notes", testDoc{ID: "a", Body: "two", Shadow: "s"}, []testPatch(nil)), ChangeID: &secondID},
	})
	if got, _ := client.Get("notes", "a"); got.Shadow != "s" {
		t.Fatalf("matching echo was not applied: %+v", got)
	}
}

// Applying worker changes writes to the client replica, which re-emits its
// own change notification. That feedback must not be forwarded upward.
func TestAgent_SuppressesFeedbackLoop(t *testing.T) {
	agent, _, _, sink := newTestAgent()

	agent.WorkerChanged([]WorkerChange[testDoc, testPatch, string]{
		{Change: Upsert("notes", testDoc{ID: "a", Body: "remote"}, []testPatch(nil))},
	})

	if len(sink.batches) != 0 {
		t.Fatalf("remote apply leaked %d batches upward", len(sink.batches))
	}
}

// The applyingRemote state must be released even when an apply panics.
func TestAgent_ExitSafety(t *testing.T) {
	agent, client, _, sink := newTestAgent()
	client.setHook = func(string, testDoc) { panic("store blew up") }

	func() {
		defer func() { recover() }()
		agent.WorkerChanged([]WorkerChange[testDoc, testPatch, string]{
			{Change: Upsert("notes", testDoc{ID: "a"}, []testPatch(nil))},
		})
	}()

	// If applyingRemote leaked, this local edit would be swallowed.
	client.setHook = nil
	client.edit("notes", testDoc{ID: "b", Body: "after"}, nil)
	if len(sink.batches) != 1 {
		t.Fatal("agent stuck in applyingRemote after a panicking apply")
	}
}

func TestAgent_Close(t *testing.T) {
	agent, client, _, sink := newTestAgent()
	agent.Close()

	client.edit("notes", testDoc{ID: "a"}, nil)
	if len(sink.batches) != 0 {
		t.Error("closed agent must not forward local changes")
	}
}
