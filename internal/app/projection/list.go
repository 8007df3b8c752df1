package projection

import (
	"context"
	"log"

	"github.com/tasksync/tasksync/internal/contracts"
)

func applyListEvent(ctx context.Context, store Store, event contracts.Event, action string) error {
	payload, err := contracts.DecodeListPayload(event.Payload)
	if err != nil {
		log.Printf("dropping malformed %s payload event=%s: %v", event.EventType, event.EventID, err)
		return nil
	}
	switch action {
	case contracts.ActionCreated, contracts.ActionUpdated:
		return upsertList(ctx, store, event, payload)
	case contracts.ActionDeleted:
		return deleteList(ctx, store, event, payload)
	default:
		log.Printf("ignoring event %s with unknown list action %q", event.EventID, action)
		return nil
	}
}

// upsertList handles created and updated as one transition. Lists are always
// upgradeable from an update: missing creation fields fall back to defaults.
func upsertList(ctx context.Context, store Store, event contracts.Event, payload contracts.ListPayload) error {
	existing, err := store.GetList(ctx, event.UserID, payload.ListID)
	if err != nil {
		return err
	}
	if existing == nil {
		list := &List{
			ListID:      payload.ListID,
			UserID:      event.UserID,
			Name:        payload.Name.Or(""),
			Color:       payload.Color.Or(contracts.DefaultListColor),
			SortOrder:   payload.SortOrder.Or(0),
			CreatedAt:   event.Timestamp,
			UpdatedAt:   event.Timestamp,
			LastEventID: event.EventID,
		}
		return store.PutList(ctx, list)
	}

	if event.Timestamp <= existing.UpdatedAt {
		return nil
	}
	if payload.Name.Set() {
		existing.Name = payload.Name.Value
	}
	if payload.Color.Set() {
		existing.Color = payload.Color.Value
	}
	if payload.SortOrder.Set() {
		existing.SortOrder = payload.SortOrder.Value
	}
	// A newer write supersedes a tombstone. Cascaded task tombstones are not
	// undone, so the zeroed counters stay truthful.
	existing.Tombstoned = false
	existing.TombstonedAt = 0
	existing.UpdatedAt = event.Timestamp
	existing.LastEventID = event.EventID
	return store.PutList(ctx, existing)
}

// deleteList tombstones the list and cascades the same tombstone onto every
// task still pointing at it, stamped with the delete event's timestamp and
// ID. Counters zero in the same transaction, keeping them equal to the
// (now empty) set of active tasks.
func deleteList(ctx context.Context, store Store, event contracts.Event, payload contracts.ListPayload) error {
	existing, err := store.GetList(ctx, event.UserID, payload.ListID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if event.Timestamp <= existing.UpdatedAt {
		return nil
	}

	if !existing.Tombstoned {
		tasks, err := store.ActiveTasksInList(ctx, event.UserID, payload.ListID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			task.Tombstoned = true
			task.TombstonedAt = event.Timestamp
			task.UpdatedAt = event.Timestamp
			task.LastEventID = event.EventID
			if err := store.PutTask(ctx, task); err != nil {
				return err
			}
		}
	}

	existing.Tombstoned = true
	existing.TombstonedAt = event.Timestamp
	existing.UpdatedAt = event.Timestamp
	existing.TaskCount = 0
	existing.CompletedTaskCount = 0
	existing.LastEventID = event.EventID
	return store.PutList(ctx, existing)
}
