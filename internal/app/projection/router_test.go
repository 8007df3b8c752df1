package projection

import (
	"testing"
)

func TestRoute_UnknownFamily_TreatedAsProcessed(t *testing.T) {
	store := newMemStore()
	// A future event family from a newer client; must not error.
	apply(t, store,
		event(t, "e1", "notes.note.created", 100, map[string]any{"noteId": "N1"}),
		event(t, "e2", "tasks", 100, map[string]any{}),
	)
	if len(store.lists) != 0 || len(store.tasks) != 0 || len(store.tags) != 0 {
		t.Fatalf("unroutable events mutated state")
	}
}

func TestRoute_MalformedPayload_ConsumedWithoutEffect(t *testing.T) {
	store := newMemStore()
	ev := event(t, "e1", "tasks.task.created", 100, map[string]any{})
	ev.Payload = []byte(`{not json`)
	apply(t, store, ev)

	// Valid type but missing its required domain ID.
	apply(t, store,
		event(t, "e2", "tasks.task.created", 100, map[string]any{"title": "no id"}),
		event(t, "e3", "tasks.list.created", 100, map[string]any{"name": "no id"}),
	)
	if len(store.tasks) != 0 || len(store.lists) != 0 {
		t.Fatalf("malformed payloads mutated state")
	}
}

func TestRoute_UnknownActionWithinFamily_Ignored(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.list.archived", 200, map[string]any{"listId": "L1"}),
	)
	list := mustList(t, store, "L1")
	if list.UpdatedAt != 100 {
		t.Fatalf("unknown action mutated state: %+v", list)
	}
}
