package syncworker

import (
	"strconv"
	"sync"
	"testing"
)

func strptr(s string) *string { return &s }

func TestTracker_RemoveUntracked(t *testing.T) {
	tracker := NewTracker[string, string](sequentialIDs("c"))

	if !tracker.Remove("doc1", nil) {
		t.Error("removing an untracked doc id without a change id should be safe")
	}
	if !tracker.Remove("doc1", strptr("c99")) {
		t.Error("removing an untracked doc id with any change id should be safe")
	}
}

func TestTracker_AddThenRemove(t *testing.T) {
	tracker := NewTracker[string, string](sequentialIDs("c"))

	id := tracker.Add("doc1")
	if id != "c1" {
		t.Fatalf("Add returned %q, want c1", id)
	}

	if tracker.Remove("doc1", nil) {
		t.Error("a tracked doc id must not clear on a nil change id")
	}
	if tracker.Remove("doc1", strptr("other")) {
		t.Error("a tracked doc id must not clear on a mismatched change id")
	}
	if !tracker.Remove("doc1", &id) {
		t.Error("the matching change id should clear the tracked id")
	}

	// Cleared: any subsequent remove is safe.
	if !tracker.Remove("doc1", nil) {
		t.Error("after clearing, the doc id should be untracked again")
	}
}

func TestTracker_LaterIDSupersedes(t *testing.T) {
	tracker := NewTracker[string, string](sequentialIDs("c"))

	first := tracker.Add("doc1")
	second := tracker.Add("doc1")

	if tracker.Remove("doc1", &first) {
		t.Error("the superseded id must not match")
	}
	if !tracker.Remove("doc1", &second) {
		t.Error("the most recently issued id must match")
	}
	_ = second
}

// Out-of-order acknowledgements: only the ack for the most recent edit is
// ever accepted, regardless of arrival order.
func TestTracker_OutOfOrderAcks(t *testing.T) {
	tracker := NewTracker[string, string](sequentialIDs("c"))

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = tracker.Add("doc1")
	}

	// Acks arrive newest-first: the first one clears, the rest are stale
	// but the doc is already untracked so they report safe (idempotent).
	if !tracker.Remove("doc1", &ids[4]) {
		t.Fatal("newest ack should clear")
	}

	// Re-issue and deliver acks oldest-first: all but the last are unsafe.
	for i := range ids {
		ids[i] = tracker.Add("doc1")
	}
	for i := 0; i < 4; i++ {
		if tracker.Remove("doc1", &ids[i]) {
			t.Errorf("stale ack %d should be rejected", i)
		}
	}
	if !tracker.Remove("doc1", &ids[4]) {
		t.Error("final ack should clear")
	}
}

func TestTracker_IndependentDocs(t *testing.T) {
	tracker := NewTracker[string, string](sequentialIDs("c"))

	a := tracker.Add("docA")
	tracker.Add("docB")

	if tracker.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tracker.Len())
	}
	if !tracker.Remove("docA", &a) {
		t.Error("docA ack should clear independently of docB")
	}
	if tracker.Remove("docB", &a) {
		t.Error("docA's id must not clear docB")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tracker := NewTracker[string, string](NewULIDFactory())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			docID := "doc" + strconv.Itoa(n)
			for j := 0; j < 100; j++ {
				id := tracker.Add(docID)
				tracker.Remove(docID, &id)
			}
		}(i)
	}
	wg.Wait()

	if tracker.Len() != 0 {
		t.Errorf("Len = %d after matched removes, want 0", tracker.Len())
	}
}
