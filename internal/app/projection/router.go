package projection

import (
	"context"
	"log"

	"github.com/tasksync/tasksync/internal/contracts"
)

// Route applies one stored event to the projection state behind store. The
// first two segments of the event type select the entity family; an event
// from an unknown family is logged and treated as processed, so logs written
// by newer clients keep flowing through older projectors.
func Route(ctx context.Context, store Store, event contracts.Event) error {
	if event.SchemaVersion > contracts.CurrentSchemaVersion {
		log.Printf("event %s carries schema version %d (current %d), decoding best-effort",
			event.EventID, event.SchemaVersion, contracts.CurrentSchemaVersion)
	}
	family, action := contracts.SplitEventType(event.EventType)
	switch family {
	case contracts.FamilyList:
		return applyListEvent(ctx, store, event, action)
	case contracts.FamilyTask:
		return applyTaskEvent(ctx, store, event, action)
	case contracts.FamilyTag:
		return applyTagEvent(ctx, store, event, action)
	default:
		log.Printf("ignoring event %s with unroutable type %q", event.EventID, event.EventType)
		return nil
	}
}
