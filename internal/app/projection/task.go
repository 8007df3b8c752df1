package projection

import (
	"context"
	"log"
	"strings"

	"github.com/tasksync/tasksync/internal/contracts"
)

func applyTaskEvent(ctx context.Context, store Store, event contracts.Event, action string) error {
	payload, err := contracts.DecodeTaskPayload(event.Payload)
	if err != nil {
		log.Printf("dropping malformed %s payload event=%s: %v", event.EventType, event.EventID, err)
		return nil
	}
	switch action {
	case contracts.ActionCreated, contracts.ActionUpdated:
		return upsertTask(ctx, store, event, payload)
	case contracts.ActionDeleted:
		return deleteTask(ctx, store, event, payload)
	case contracts.ActionCompleted:
		return setTaskCompletion(ctx, store, event, payload, true)
	case contracts.ActionUncompleted:
		return setTaskCompletion(ctx, store, event, payload, false)
	case contracts.ActionMoved:
		return moveTask(ctx, store, event, payload)
	case contracts.ActionReordered:
		return reorderTask(ctx, store, event, payload)
	default:
		log.Printf("ignoring event %s with unknown task action %q", event.EventID, action)
		return nil
	}
}

// upsertTask is the single entry point for created and updated events. A
// duplicate created degrades to an update; an update for a missing row
// upgrades to a create when the payload carries a listId. Both directions
// share the same staleness guard, which is what makes the pair idempotent
// and order-independent.
func upsertTask(ctx context.Context, store Store, event contracts.Event, payload contracts.TaskPayload) error {
	existing, err := store.GetTask(ctx, event.UserID, payload.TaskID)
	if err != nil {
		return err
	}
	if existing == nil {
		return createTask(ctx, store, event, payload)
	}
	return updateTask(ctx, store, event, payload, existing, true)
}

func createTask(ctx context.Context, store Store, event contracts.Event, payload contracts.TaskPayload) error {
	listID := strings.TrimSpace(payload.ListID.Or(""))
	if listID == "" {
		log.Printf("dropping %s event=%s task=%s: no listId to create with",
			event.EventType, event.EventID, payload.TaskID)
		return nil
	}

	task := &Task{
		TaskID:      payload.TaskID,
		UserID:      event.UserID,
		ListID:      listID,
		Title:       payload.Title.Or(""),
		Priority:    payload.Priority.Or(contracts.DefaultTaskPriority),
		Flagged:     payload.Flagged.Or(false),
		SortOrder:   payload.SortOrder.Or(0),
		CreatedAt:   event.Timestamp,
		UpdatedAt:   event.Timestamp,
		LastEventID: event.EventID,
	}
	if payload.Notes.Set() {
		v := payload.Notes.Value
		task.Notes = &v
	}
	if payload.DueAt.Set() {
		v := payload.DueAt.Value
		task.DueAt = &v
		task.DueHasTime = payload.DueHasTime.Or(false)
	}
	if payload.TagIDs.Set() {
		task.TagIDs = payload.TagIDs.Value
	}
	if payload.Completed.Or(false) {
		task.Completed = true
		at := payload.CompletedAt.Or(event.Timestamp)
		task.CompletedAt = &at
	}

	if err := store.PutTask(ctx, task); err != nil {
		return err
	}
	return adjustListCounts(ctx, store, event.UserID, listID, 1, boolDelta(task.Completed))
}

// updateTask applies the payload onto an existing row under the LWW guard,
// then settles counter deltas for list membership, completion, and
// resurrection in the same transaction. allowMove controls whether a listId
// in the payload is honored (reordered events never move).
func updateTask(ctx context.Context, store Store, event contracts.Event, payload contracts.TaskPayload, existing *Task, allowMove bool) error {
	if event.Timestamp <= existing.UpdatedAt {
		return nil
	}

	wasActive := !existing.Tombstoned
	wasCompleted := existing.Completed
	prevListID := existing.ListID

	if allowMove && payload.ListID.Set() && strings.TrimSpace(payload.ListID.Value) != "" {
		existing.ListID = payload.ListID.Value
	}
	if payload.Title.Set() {
		existing.Title = payload.Title.Value
	}
	if payload.Notes.Clear() {
		existing.Notes = nil
	} else if payload.Notes.Set() {
		v := payload.Notes.Value
		existing.Notes = &v
	}
	if payload.DueAt.Clear() {
		existing.DueAt = nil
		existing.DueHasTime = false
	} else if payload.DueAt.Set() {
		v := payload.DueAt.Value
		existing.DueAt = &v
	}
	if payload.DueHasTime.Set() && existing.DueAt != nil {
		existing.DueHasTime = payload.DueHasTime.Value
	}
	if payload.Priority.Set() {
		existing.Priority = payload.Priority.Value
	}
	if payload.Flagged.Set() {
		existing.Flagged = payload.Flagged.Value
	}
	if payload.SortOrder.Set() {
		existing.SortOrder = payload.SortOrder.Value
	}
	if payload.TagIDs.Clear() {
		existing.TagIDs = nil
	} else if payload.TagIDs.Set() {
		existing.TagIDs = payload.TagIDs.Value
	}
	if payload.Completed.Set() {
		existing.Completed = payload.Completed.Value
		if existing.Completed {
			at := payload.CompletedAt.Or(event.Timestamp)
			existing.CompletedAt = &at
		} else {
			existing.CompletedAt = nil
		}
	} else if payload.CompletedAt.Clear() {
		existing.CompletedAt = nil
	} else if payload.CompletedAt.Set() && existing.Completed {
		v := payload.CompletedAt.Value
		existing.CompletedAt = &v
	}

	// A newer write supersedes a tombstone; without resurrection, an update
	// and a delete on the same task would not commute.
	existing.Tombstoned = false
	existing.TombstonedAt = 0
	existing.UpdatedAt = event.Timestamp
	existing.LastEventID = event.EventID

	if err := store.PutTask(ctx, existing); err != nil {
		return err
	}

	switch {
	case !wasActive:
		// The tombstone already removed the task from its list's counters.
		return adjustListCounts(ctx, store, event.UserID, existing.ListID, 1, boolDelta(existing.Completed))
	case existing.ListID != prevListID:
		if err := adjustListCounts(ctx, store, event.UserID, prevListID, -1, -boolDelta(wasCompleted)); err != nil {
			return err
		}
		return adjustListCounts(ctx, store, event.UserID, existing.ListID, 1, boolDelta(existing.Completed))
	case existing.Completed != wasCompleted:
		if existing.Completed {
			return adjustListCounts(ctx, store, event.UserID, existing.ListID, 0, 1)
		}
		return adjustListCounts(ctx, store, event.UserID, existing.ListID, 0, -1)
	default:
		return nil
	}
}

func deleteTask(ctx context.Context, store Store, event contracts.Event, payload contracts.TaskPayload) error {
	existing, err := store.GetTask(ctx, event.UserID, payload.TaskID)
	if err != nil {
		return err
	}
	if existing == nil {
		// Nothing to delete; redelivered deletes stay idempotent.
		return nil
	}
	if event.Timestamp <= existing.UpdatedAt {
		return nil
	}

	wasActive := !existing.Tombstoned
	wasCompleted := existing.Completed
	existing.Tombstoned = true
	existing.TombstonedAt = event.Timestamp
	existing.UpdatedAt = event.Timestamp
	existing.LastEventID = event.EventID
	if err := store.PutTask(ctx, existing); err != nil {
		return err
	}
	if !wasActive {
		return nil
	}
	return adjustListCounts(ctx, store, event.UserID, existing.ListID, -1, -boolDelta(wasCompleted))
}

func setTaskCompletion(ctx context.Context, store Store, event contracts.Event, payload contracts.TaskPayload, completed bool) error {
	existing, err := store.GetTask(ctx, event.UserID, payload.TaskID)
	if err != nil {
		return err
	}
	if existing == nil {
		log.Printf("ignoring %s event=%s for unknown task %s", event.EventType, event.EventID, payload.TaskID)
		return nil
	}
	if event.Timestamp <= existing.UpdatedAt {
		return nil
	}

	wasActive := !existing.Tombstoned
	wasCompleted := existing.Completed
	existing.Completed = completed
	if completed {
		at := payload.CompletedAt.Or(event.Timestamp)
		existing.CompletedAt = &at
	} else {
		existing.CompletedAt = nil
	}
	existing.Tombstoned = false
	existing.TombstonedAt = 0
	existing.UpdatedAt = event.Timestamp
	existing.LastEventID = event.EventID
	if err := store.PutTask(ctx, existing); err != nil {
		return err
	}

	switch {
	case !wasActive:
		return adjustListCounts(ctx, store, event.UserID, existing.ListID, 1, boolDelta(completed))
	case completed != wasCompleted:
		if completed {
			return adjustListCounts(ctx, store, event.UserID, existing.ListID, 0, 1)
		}
		return adjustListCounts(ctx, store, event.UserID, existing.ListID, 0, -1)
	default:
		return nil
	}
}

// moveTask runs the general update path (a move may carry field changes in
// the same payload) but never creates a missing row.
func moveTask(ctx context.Context, store Store, event contracts.Event, payload contracts.TaskPayload) error {
	existing, err := store.GetTask(ctx, event.UserID, payload.TaskID)
	if err != nil {
		return err
	}
	if existing == nil {
		log.Printf("ignoring %s event=%s for unknown task %s", event.EventType, event.EventID, payload.TaskID)
		return nil
	}
	return updateTask(ctx, store, event, payload, existing, true)
}

func reorderTask(ctx context.Context, store Store, event contracts.Event, payload contracts.TaskPayload) error {
	existing, err := store.GetTask(ctx, event.UserID, payload.TaskID)
	if err != nil {
		return err
	}
	if existing == nil {
		log.Printf("ignoring %s event=%s for unknown task %s", event.EventType, event.EventID, payload.TaskID)
		return nil
	}
	reorder := contracts.TaskPayload{TaskID: payload.TaskID, SortOrder: payload.SortOrder}
	return updateTask(ctx, store, event, reorder, existing, false)
}
