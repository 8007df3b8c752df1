package projection

import (
	"context"
	"log"

	"github.com/tasksync/tasksync/internal/contracts"
)

func applyTagEvent(ctx context.Context, store Store, event contracts.Event, action string) error {
	payload, err := contracts.DecodeTagPayload(event.Payload)
	if err != nil {
		log.Printf("dropping malformed %s payload event=%s: %v", event.EventType, event.EventID, err)
		return nil
	}
	switch action {
	case contracts.ActionCreated, contracts.ActionUpdated:
		return upsertTag(ctx, store, event, payload)
	case contracts.ActionDeleted:
		return deleteTag(ctx, store, event, payload)
	default:
		log.Printf("ignoring event %s with unknown tag action %q", event.EventID, action)
		return nil
	}
}

func upsertTag(ctx context.Context, store Store, event contracts.Event, payload contracts.TagPayload) error {
	existing, err := store.GetTag(ctx, event.UserID, payload.TagID)
	if err != nil {
		return err
	}
	if existing == nil {
		tag := &Tag{
			TagID:       payload.TagID,
			UserID:      event.UserID,
			Name:        payload.Name.Or(""),
			Color:       payload.Color.Or(""),
			CreatedAt:   event.Timestamp,
			UpdatedAt:   event.Timestamp,
			LastEventID: event.EventID,
		}
		return store.PutTag(ctx, tag)
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
	existing.Tombstoned = false
	existing.TombstonedAt = 0
	existing.UpdatedAt = event.Timestamp
	existing.LastEventID = event.EventID
	return store.PutTag(ctx, existing)
}

// deleteTag tombstones the tag record only. Task tagIds arrays keep their
// references; clients reconcile dangling tag IDs themselves.
func deleteTag(ctx context.Context, store Store, event contracts.Event, payload contracts.TagPayload) error {
	existing, err := store.GetTag(ctx, event.UserID, payload.TagID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if event.Timestamp <= existing.UpdatedAt {
		return nil
	}
	existing.Tombstoned = true
	existing.TombstonedAt = event.Timestamp
	existing.UpdatedAt = event.Timestamp
	existing.LastEventID = event.EventID
	return store.PutTag(ctx, existing)
}
