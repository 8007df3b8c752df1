package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/tasksync/tasksync/internal/contracts"
	"github.com/tasksync/tasksync/internal/platform/metrics"
	"github.com/tasksync/tasksync/internal/sharding"
)

var ingestedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "sync_events_ingested_total",
	Help: "Events ingested by acknowledgment status.",
}, []string{"status"})

func init() {
	metrics.Default.MustRegister(ingestedTotal)
}

var (
	ErrUserRequired   = errors.New("user id is required")
	ErrNoEvents       = errors.New("batch contains no events")
	ErrDeviceMismatch = errors.New("device_id does not match session token")
)

// Statuses reported per event in a batch acknowledgment. Duplicates count as
// processed for the client: the event is already in the log.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// EventInserter is the slice of the event log the boundary writes to.
type EventInserter interface {
	InsertEvent(ctx context.Context, event contracts.Event) (bool, error)
}

type PublishFunc func(subject string, payload []byte) error

// Service is the authenticated ingestion boundary: it stamps provenance onto
// client events, appends them to the log deduplicated by event ID, and
// schedules projection by publishing a notice per inserted event.
type Service struct {
	Events  EventInserter
	Publish PublishFunc
	Now     func() time.Time
}

func NewService(events EventInserter, publish PublishFunc) *Service {
	return &Service{
		Events:  events,
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// EventAck reports one event's ingestion outcome.
type EventAck struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse acknowledges a batch upload.
type BatchResponse struct {
	Accepted   int        `json:"accepted"`
	Duplicates int        `json:"duplicates"`
	Rejected   int        `json:"rejected"`
	Results    []EventAck `json:"results"`
}

// AcceptBatch ingests a device's event batch. Per-event problems are
// reported in the result array and never abort the rest of the batch; only
// an invalid envelope fails as a whole.
func (s *Service) AcceptBatch(ctx context.Context, userID, tokenDeviceID string, batch contracts.BatchInput) (BatchResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return BatchResponse{}, ErrUserRequired
	}
	deviceID := strings.TrimSpace(batch.DeviceID)
	if tokenDeviceID != "" && deviceID != "" && deviceID != tokenDeviceID {
		return BatchResponse{}, ErrDeviceMismatch
	}
	if len(batch.Events) == 0 {
		return BatchResponse{}, ErrNoEvents
	}

	serverTs := s.Now().UnixMilli()
	resp := BatchResponse{Results: make([]EventAck, 0, len(batch.Events))}
	for _, input := range batch.Events {
		ack := s.acceptOne(ctx, userID, deviceID, batch.AppID, serverTs, input)
		ingestedTotal.WithLabelValues(ack.Status).Inc()
		switch ack.Status {
		case StatusAccepted:
			resp.Accepted++
		case StatusDuplicate:
			resp.Duplicates++
		default:
			resp.Rejected++
		}
		resp.Results = append(resp.Results, ack)
	}
	return resp, nil
}

func (s *Service) acceptOne(ctx context.Context, userID, deviceID, appID string, serverTs int64, input contracts.EventInput) EventAck {
	eventID := strings.TrimSpace(input.EventID)
	if eventID == "" {
		return EventAck{Status: StatusRejected, Error: "eventId is required"}
	}
	if strings.TrimSpace(input.EventType) == "" {
		return EventAck{EventID: eventID, Status: StatusRejected, Error: "eventType is required"}
	}
	if input.Timestamp <= 0 {
		return EventAck{EventID: eventID, Status: StatusRejected, Error: "timestamp is required"}
	}
	schemaVersion := input.SchemaVersion
	if schemaVersion <= 0 {
		schemaVersion = contracts.CurrentSchemaVersion
	}

	event := contracts.Event{
		EventID:         eventID,
		UserID:          userID,
		DeviceID:        deviceID,
		AppID:           appID,
		Timestamp:       input.Timestamp,
		ServerTimestamp: serverTs,
		EventType:       input.EventType,
		SchemaVersion:   schemaVersion,
		Payload:         input.Payload,
		MediaRefs:       input.MediaRefs,
	}

	inserted, err := s.Events.InsertEvent(ctx, event)
	if err != nil {
		return EventAck{EventID: eventID, Status: StatusRejected, Error: err.Error()}
	}
	if !inserted {
		return EventAck{EventID: eventID, Status: StatusDuplicate}
	}

	notice, err := json.Marshal(contracts.EventNotice{EventID: eventID, UserID: userID})
	if err != nil {
		return EventAck{EventID: eventID, Status: StatusRejected, Error: err.Error()}
	}
	if err := s.Publish(sharding.EventSubject(userID), notice); err != nil {
		// The event is durably logged; a failed notice only delays
		// projection until the next rebuild or redelivery.
		log.Printf("publish notice for event %s failed: %v", eventID, err)
	}
	return EventAck{EventID: eventID, Status: StatusAccepted}
}
