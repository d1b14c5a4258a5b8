package syncworker

import "testing"

func TestApplySet(t *testing.T) {
	store := newMemStore()
	doc := testDoc{ID: "a", Body: "one"}

	if !ApplySet(Store[testDoc, string](store), "notes", doc) {
		t.Error("first set should mutate")
	}
	if ApplySet(Store[testDoc, string](store), "notes", doc) {
		t.Error("identical second set should be a no-op")
	}

	doc.Body = "two"
	if !ApplySet(Store[testDoc, string](store), "notes", doc) {
		t.Error("a structurally different doc should mutate")
	}
	got, _ := store.Get("notes", "a")
	if got.Body != "two" {
		t.Errorf("Body = %q, want two", got.Body)
	}
}

func TestApplyDelete(t *testing.T) {
	store := newMemStore()
	store.Set("notes", testDoc{ID: "a"})

	if !ApplyDelete(Store[testDoc, string](store), "notes", "a") {
		t.Error("deleting an existing doc should mutate")
	}
	if ApplyDelete(Store[testDoc, string](store), "notes", "a") {
		t.Error("deleting an absent doc should be a no-op")
	}
}

func TestApplyChange_Idempotent(t *testing.T) {
	store := newMemStore()

	tests := []struct {
		name   string
		change Change[testDoc, testPatch]
		setup  func()
	}{
		{
			name:   "upsert",
			change: Upsert("notes", testDoc{ID: "a", Body: "x"}, []testPatch(nil)),
		},
		{
			name:   "delete",
			change: Delete[testDoc, testPatch]("notes", testDoc{ID: "a", Body: "x"}),
			setup:  func() { store.Set("notes", testDoc{ID: "a", Body: "x"}) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			if !ApplyChange(Store[testDoc, string](store), tt.change) {
				t.Error("first application should mutate")
			}
			if ApplyChange(Store[testDoc, string](store), tt.change) {
				t.Error("second application should be a no-op")
			}
		})
	}
}
