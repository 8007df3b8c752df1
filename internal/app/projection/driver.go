package projection

import (
	"context"
	"fmt"
	"log"

	"github.com/tasksync/tasksync/internal/contracts"
)

// EventSource is the slice of the event log the driver reads from.
type EventSource interface {
	GetEvent(ctx context.Context, eventID string) (contracts.Event, error)
	UserEvents(ctx context.Context, userID string, fromTs int64) ([]contracts.Event, error)
}

// RouteFunc applies one event against a Store.
type RouteFunc func(ctx context.Context, store Store, event contracts.Event) error

// Ack is the acknowledgment for a single live-path event.
type Ack struct {
	Processed bool   `json:"processed"`
	EventType string `json:"eventType"`
}

// BatchResult reports one event's outcome within a batch.
type BatchResult struct {
	EventID   string `json:"eventId"`
	Processed bool   `json:"processed"`
	Error     string `json:"error,omitempty"`
}

// RebuildReport summarizes a projection rebuild.
type RebuildReport struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Driver runs events through the routing path, one transaction per event.
// The same path serves live ingestion and replay; idempotency is structural,
// not a replay mode.
type Driver struct {
	Events EventSource
	Txs    TxRunner
	Route  RouteFunc
}

func NewDriver(events EventSource, txs TxRunner) *Driver {
	return &Driver{
		Events: events,
		Txs:    txs,
		Route:  Route,
	}
}

// ProcessEvent loads and applies one stored event. A missing event row is
// the single fatal path: events are only ever referenced after insertion, so
// absence means the caller broke the contract, not a data race.
func (d *Driver) ProcessEvent(ctx context.Context, eventID string) (Ack, error) {
	event, err := d.Events.GetEvent(ctx, eventID)
	if err != nil {
		return Ack{}, fmt.Errorf("load event %s: %w", eventID, err)
	}
	err = d.Txs.InTx(ctx, func(store Store) error {
		return d.Route(ctx, store, event)
	})
	if err != nil {
		return Ack{}, fmt.Errorf("apply event %s: %w", eventID, err)
	}
	return Ack{Processed: true, EventType: event.EventType}, nil
}

// ProcessEventBatch applies events in the given order. Failures are caught
// per event; the batch never aborts early.
func (d *Driver) ProcessEventBatch(ctx context.Context, eventIDs []string) []BatchResult {
	results := make([]BatchResult, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		if _, err := d.ProcessEvent(ctx, eventID); err != nil {
			log.Printf("batch event %s failed: %v", eventID, err)
			results = append(results, BatchResult{EventID: eventID, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{EventID: eventID, Processed: true})
	}
	return results
}

// RebuildProjections replays a user's history, ascending by timestamp,
// through the same routing path as live ingestion. With fromTs <= 0 the
// user's projection rows are reset first. Counters are recomputed from the
// task table afterwards rather than trusting replayed deltas; this is the
// authoritative repair path for counter drift.
func (d *Driver) RebuildProjections(ctx context.Context, userID string, fromTs int64) (RebuildReport, error) {
	if fromTs < 0 {
		fromTs = 0
	}
	events, err := d.Events.UserEvents(ctx, userID, fromTs)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("load events for user %s: %w", userID, err)
	}

	if fromTs == 0 {
		err := d.Txs.InTx(ctx, func(store Store) error {
			return store.ResetUser(ctx, userID)
		})
		if err != nil {
			return RebuildReport{}, fmt.Errorf("reset projections for user %s: %w", userID, err)
		}
	}

	report := RebuildReport{Total: len(events)}
	for _, event := range events {
		err := d.Txs.InTx(ctx, func(store Store) error {
			return d.Route(ctx, store, event)
		})
		if err != nil {
			log.Printf("rebuild: event %s failed: %v", event.EventID, err)
			report.Errors++
			continue
		}
		report.Processed++
	}

	err = d.Txs.InTx(ctx, func(store Store) error {
		return store.RecomputeListCounts(ctx, userID)
	})
	if err != nil {
		return report, fmt.Errorf("recompute counters for user %s: %w", userID, err)
	}
	return report, nil
}
