package projection

import (
	"testing"

	"github.com/tasksync/tasksync/internal/contracts"
)

func TestTaskCreated_IncrementsListCount(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1", "name": "Home"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1", "title": "Buy milk"}),
	)

	list := mustList(t, store, "L1")
	if list.Name != "Home" || list.TaskCount != 1 || list.CompletedTaskCount != 0 || list.Tombstoned {
		t.Fatalf("unexpected list state: %+v", list)
	}
	task := mustTask(t, store, "T1")
	if task.Title != "Buy milk" || task.ListID != "L1" || task.Priority != "none" {
		t.Fatalf("unexpected task state: %+v", task)
	}
	if task.CreatedAt != 200 || task.UpdatedAt != 200 || task.LastEventID != "e2" {
		t.Fatalf("unexpected task provenance: %+v", task)
	}
}

func TestTaskCreated_AlreadyCompleted_CountsCompleted(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{
			"taskId": "T1", "listId": "L1", "title": "Done already", "completed": true,
		}),
	)

	list := mustList(t, store, "L1")
	if list.TaskCount != 1 || list.CompletedTaskCount != 1 {
		t.Fatalf("unexpected counts: %+v", list)
	}
	task := mustTask(t, store, "T1")
	if !task.Completed || task.CompletedAt == nil || *task.CompletedAt != 200 {
		t.Fatalf("unexpected completion state: %+v", task)
	}
}

func TestTaskCreated_WithoutListID_Dropped(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.task.created", 100, map[string]any{"taskId": "T1", "title": "orphan"}),
	)
	task, err := store.GetTask(ctx(), testUser, "T1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task != nil {
		t.Fatalf("expected orphan task to be dropped, got %+v", task)
	}
}

func TestTaskCreated_DuplicateRedelivery_NoDoubleCount(t *testing.T) {
	store := newMemStore()
	create := event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1", "title": "Buy milk"})
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		create,
		create, // retried batch delivers the identical event again
	)

	list := mustList(t, store, "L1")
	if list.TaskCount != 1 {
		t.Fatalf("duplicate create changed counts: %+v", list)
	}
}

func TestTaskUpdated_BeforeCreate_UpgradesToCreate(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e3", "tasks.task.updated", 300, map[string]any{"taskId": "T1", "listId": "L1", "title": "From update"}),
	)

	task := mustTask(t, store, "T1")
	if task.Title != "From update" || task.CreatedAt != 300 {
		t.Fatalf("unexpected upgraded task: %+v", task)
	}
	if mustList(t, store, "L1").TaskCount != 1 {
		t.Fatalf("upgrade did not count task")
	}

	// The create arrives afterwards with an older timestamp: stale, no-op.
	apply(t, store,
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1", "title": "Original"}),
	)
	task = mustTask(t, store, "T1")
	if task.Title != "From update" {
		t.Fatalf("stale create overwrote newer update: %+v", task)
	}
	if mustList(t, store, "L1").TaskCount != 1 {
		t.Fatalf("stale create changed counts")
	}
}

func TestTaskUpdated_PartialFieldsAndExplicitNull(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{
			"taskId": "T1", "listId": "L1", "title": "Buy milk",
			"notes": "2 liters", "priority": "high", "dueAt": int64(5000), "dueHasTime": true,
		}),
		// Only the title changes; every absent field keeps its value.
		event(t, "e3", "tasks.task.updated", 300, map[string]any{"taskId": "T1", "title": "Buy oat milk"}),
	)

	task := mustTask(t, store, "T1")
	if task.Title != "Buy oat milk" || task.Notes == nil || *task.Notes != "2 liters" || task.Priority != "high" {
		t.Fatalf("partial update clobbered fields: %+v", task)
	}
	if task.DueAt == nil || *task.DueAt != 5000 || !task.DueHasTime {
		t.Fatalf("partial update clobbered due fields: %+v", task)
	}

	// Explicit nulls clear the nullable fields.
	apply(t, store,
		event(t, "e4", "tasks.task.updated", 400, map[string]any{"taskId": "T1", "notes": nil, "dueAt": nil}),
	)
	task = mustTask(t, store, "T1")
	if task.Notes != nil || task.DueAt != nil || task.DueHasTime {
		t.Fatalf("explicit null did not clear fields: %+v", task)
	}
	if task.Title != "Buy oat milk" {
		t.Fatalf("null update clobbered title: %+v", task)
	}
}

func TestTaskUpdated_CommutesUnderTimestampOrder(t *testing.T) {
	base := []map[string]any{
		{"taskId": "T1", "listId": "L1", "title": "v1", "priority": "low"},
		{"taskId": "T1", "title": "v2"},
	}
	e1 := func(t *testing.T) contracts.Event { return event(t, "e1", "tasks.task.created", 100, base[0]) }
	e2 := func(t *testing.T) contracts.Event { return event(t, "e2", "tasks.task.updated", 200, base[1]) }

	forward := newMemStore()
	apply(t, forward, event(t, "e0", "tasks.list.created", 50, map[string]any{"listId": "L1"}), e1(t), e2(t))

	reversed := newMemStore()
	apply(t, reversed, event(t, "e0", "tasks.list.created", 50, map[string]any{"listId": "L1"}), e2(t), e1(t))

	ft := mustTask(t, forward, "T1")
	rt := mustTask(t, reversed, "T1")
	if ft.Title != "v2" || rt.Title != "v2" {
		t.Fatalf("newest write did not win: forward=%q reversed=%q", ft.Title, rt.Title)
	}
	if ft.Priority != rt.Priority || ft.UpdatedAt != rt.UpdatedAt || ft.LastEventID != rt.LastEventID {
		t.Fatalf("orders diverged: forward=%+v reversed=%+v", ft, rt)
	}
	if mustList(t, forward, "L1").TaskCount != mustList(t, reversed, "L1").TaskCount {
		t.Fatalf("counts diverged between orders")
	}
}

func TestTaskCompleted_StaleReplayIsNoOp(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1", "title": "Buy milk"}),
		event(t, "e3", "tasks.task.completed", 300, map[string]any{"taskId": "T1"}),
		// Older completion processed after the newer one: must be a no-op.
		event(t, "e4", "tasks.task.completed", 150, map[string]any{"taskId": "T1"}),
	)

	task := mustTask(t, store, "T1")
	if !task.Completed || task.CompletedAt == nil || *task.CompletedAt != 300 {
		t.Fatalf("stale completion altered state: %+v", task)
	}
	if task.UpdatedAt != 300 {
		t.Fatalf("stale completion moved updatedAt: %+v", task)
	}
	if mustList(t, store, "L1").CompletedTaskCount != 1 {
		t.Fatalf("completion counted more than once")
	}
}

func TestTaskCompleted_DuplicateDoesNotDoubleCount(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1"}),
		event(t, "e3", "tasks.task.completed", 300, map[string]any{"taskId": "T1"}),
		// Second completion with a newer timestamp: applies, but the boolean
		// does not flip, so the counter must not move.
		event(t, "e4", "tasks.task.completed", 400, map[string]any{"taskId": "T1"}),
	)

	if got := mustList(t, store, "L1").CompletedTaskCount; got != 1 {
		t.Fatalf("expected completedTaskCount 1, got %d", got)
	}
}

func TestTaskUncompleted_DecrementsOnlyOnFlip(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1", "completed": true}),
		event(t, "e3", "tasks.task.uncompleted", 300, map[string]any{"taskId": "T1"}),
		event(t, "e4", "tasks.task.uncompleted", 400, map[string]any{"taskId": "T1"}),
	)

	list := mustList(t, store, "L1")
	if list.TaskCount != 1 || list.CompletedTaskCount != 0 {
		t.Fatalf("unexpected counts: %+v", list)
	}
	task := mustTask(t, store, "T1")
	if task.Completed || task.CompletedAt != nil {
		t.Fatalf("uncomplete did not clear state: %+v", task)
	}
}

func TestTaskDeleted_TombstonesAndDecrements(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1"}),
		event(t, "e3", "tasks.task.completed", 300, map[string]any{"taskId": "T1"}),
		event(t, "e4", "tasks.task.deleted", 400, map[string]any{"taskId": "T1"}),
	)

	task := mustTask(t, store, "T1")
	if !task.Tombstoned || task.TombstonedAt != 400 {
		t.Fatalf("task not tombstoned: %+v", task)
	}
	list := mustList(t, store, "L1")
	if list.TaskCount != 0 || list.CompletedTaskCount != 0 {
		t.Fatalf("delete did not settle counts: %+v", list)
	}

	// Redelivered delete and delete of an unknown task are both no-ops.
	apply(t, store,
		event(t, "e5", "tasks.task.deleted", 500, map[string]any{"taskId": "T1"}),
		event(t, "e6", "tasks.task.deleted", 500, map[string]any{"taskId": "T-missing"}),
	)
	list = mustList(t, store, "L1")
	if list.TaskCount != 0 || list.CompletedTaskCount != 0 {
		t.Fatalf("redelivered delete moved counts: %+v", list)
	}
}

func TestTaskUpdated_AfterDelete_Resurrects(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1"}),
		event(t, "e3", "tasks.task.deleted", 300, map[string]any{"taskId": "T1"}),
		event(t, "e4", "tasks.task.updated", 400, map[string]any{"taskId": "T1", "title": "back"}),
	)

	task := mustTask(t, store, "T1")
	if task.Tombstoned || task.Title != "back" {
		t.Fatalf("newer update did not supersede tombstone: %+v", task)
	}
	if mustList(t, store, "L1").TaskCount != 1 {
		t.Fatalf("resurrected task missing from counts")
	}

	// Same pair in the opposite arrival order converges identically.
	other := newMemStore()
	apply(t, other,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1"}),
		event(t, "e4", "tasks.task.updated", 400, map[string]any{"taskId": "T1", "title": "back"}),
		event(t, "e3", "tasks.task.deleted", 300, map[string]any{"taskId": "T1"}),
	)
	a, b := mustTask(t, store, "T1"), mustTask(t, other, "T1")
	if a.Tombstoned != b.Tombstoned || a.Title != b.Title || a.UpdatedAt != b.UpdatedAt {
		t.Fatalf("delete/update orders diverged: %+v vs %+v", a, b)
	}
	if mustList(t, other, "L1").TaskCount != 1 {
		t.Fatalf("reversed order counts diverged")
	}
}

func TestTaskMoved_AdjustsBothListsAtomically(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "A"}),
		event(t, "e2", "tasks.list.created", 110, map[string]any{"listId": "B"}),
		event(t, "e3", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "A", "completed": true}),
		event(t, "e4", "tasks.task.moved", 300, map[string]any{"taskId": "T1", "listId": "B", "title": "renamed in move"}),
	)

	a, b := mustList(t, store, "A"), mustList(t, store, "B")
	if a.TaskCount != 0 || a.CompletedTaskCount != 0 {
		t.Fatalf("source list not decremented: %+v", a)
	}
	if b.TaskCount != 1 || b.CompletedTaskCount != 1 {
		t.Fatalf("destination list not incremented: %+v", b)
	}
	task := mustTask(t, store, "T1")
	if task.ListID != "B" || task.Title != "renamed in move" {
		t.Fatalf("move did not apply merged field update: %+v", task)
	}
}

func TestTaskMoved_UnknownTask_NeverCreates(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.task.moved", 100, map[string]any{"taskId": "T1", "listId": "B"}),
	)
	task, err := store.GetTask(ctx(), testUser, "T1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task != nil {
		t.Fatalf("moved created a missing task: %+v", task)
	}
}

func TestTaskReordered_TouchesOnlySortOrder(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "A"}),
		event(t, "e2", "tasks.list.created", 110, map[string]any{"listId": "B"}),
		event(t, "e3", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "A", "title": "stay"}),
		// A reorder payload smuggling extra fields: only sortOrder applies.
		event(t, "e4", "tasks.task.reordered", 300, map[string]any{
			"taskId": "T1", "sortOrder": 7.5, "title": "smuggled", "listId": "B",
		}),
	)

	task := mustTask(t, store, "T1")
	if task.SortOrder != 7.5 {
		t.Fatalf("reorder did not apply sortOrder: %+v", task)
	}
	if task.Title != "stay" || task.ListID != "A" {
		t.Fatalf("reorder applied more than sortOrder: %+v", task)
	}
	if mustList(t, store, "A").TaskCount != 1 || mustList(t, store, "B").TaskCount != 0 {
		t.Fatalf("reorder moved counts between lists")
	}
}

func TestTaskCompletion_UnknownTask_NoOp(t *testing.T) {
	store := newMemStore()
	apply(t, store,
		event(t, "e1", "tasks.task.completed", 100, map[string]any{"taskId": "T-missing"}),
	)
	task, err := store.GetTask(ctx(), testUser, "T-missing")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task != nil {
		t.Fatalf("completion created a missing task: %+v", task)
	}
}

func TestCounters_NeverNegative_DespiteSkippedEvents(t *testing.T) {
	store := newMemStore()
	// The create was never observed (e.g. still in flight from another
	// device), so the delete's decrement has nothing to remove.
	apply(t, store,
		event(t, "e1", "tasks.list.created", 100, map[string]any{"listId": "L1"}),
		event(t, "e2", "tasks.task.created", 200, map[string]any{"taskId": "T1", "listId": "L1"}),
		event(t, "e3", "tasks.task.deleted", 300, map[string]any{"taskId": "T1"}),
		event(t, "e4", "tasks.task.deleted", 400, map[string]any{"taskId": "T1"}),
	)
	list := mustList(t, store, "L1")
	if list.TaskCount != 0 || list.CompletedTaskCount != 0 {
		t.Fatalf("counters went out of range: %+v", list)
	}
}
