package contracts

// CurrentSchemaVersion is the payload shape version this build understands.
// Events carrying a higher version are decoded best-effort and logged.
const CurrentSchemaVersion = 1

// Event is a stored, immutable sync event. Clients generate the EventID and
// assert Timestamp; the ingestion boundary stamps ServerTimestamp on insert.
// Timestamp drives all ordering and conflict decisions, ServerTimestamp is
// audit-only.
type Event struct {
	EventID         string     `json:"eventId"`
	UserID          string     `json:"userId"`
	DeviceID        string     `json:"deviceId"`
	AppID           string     `json:"appId"`
	Timestamp       int64      `json:"timestamp"`
	ServerTimestamp int64      `json:"serverTimestamp"`
	EventType       string     `json:"eventType"`
	SchemaVersion   int        `json:"schemaVersion"`
	Payload         RawPayload `json:"payload,omitempty"`
	MediaRefs       []string   `json:"mediaRefs,omitempty"`
}

// EventInput is one event of a batch upload. Provenance fields come from the
// batch envelope and the authenticated session, not from the client payload.
type EventInput struct {
	EventID       string     `json:"eventId"`
	Timestamp     int64      `json:"timestamp"`
	EventType     string     `json:"eventType"`
	SchemaVersion int        `json:"schemaVersion"`
	Payload       RawPayload `json:"payload,omitempty"`
	MediaRefs     []string   `json:"mediaRefs,omitempty"`
}

// BatchInput is the envelope posted by a device to the ingestion boundary.
type BatchInput struct {
	DeviceID          string       `json:"deviceId"`
	AppID             string       `json:"appId"`
	ConsentSnapshotID string       `json:"consentSnapshotId"`
	Events            []EventInput `json:"events"`
}

// EventNotice is published to JetStream for every newly inserted event and
// consumed by the projector worker.
type EventNotice struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
}
