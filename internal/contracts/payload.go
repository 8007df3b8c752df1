package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMissingEntityID marks a payload without its required domain ID.
var ErrMissingEntityID = errors.New("payload missing entity id")

// RawPayload is the undecoded per-event-type payload as stored in the log.
type RawPayload = json.RawMessage

// Event type families routed by the projection engine. The family is the
// first two dot segments of the event type; the remainder is the action.
const (
	FamilyList = "tasks.list"
	FamilyTask = "tasks.task"
	FamilyTag  = "tasks.tag"
)

const (
	ActionCreated     = "created"
	ActionUpdated     = "updated"
	ActionDeleted     = "deleted"
	ActionCompleted   = "completed"
	ActionUncompleted = "uncompleted"
	ActionMoved       = "moved"
	ActionReordered   = "reordered"
)

// Documented defaults for optional creation fields.
const (
	DefaultListColor    = "#2D88FF"
	DefaultTaskPriority = "none"
)

// SplitEventType splits a dot-namespaced event type into family (first two
// segments) and action (the rest). An event type with fewer than three
// segments has an empty action.
func SplitEventType(eventType string) (family, action string) {
	parts := strings.SplitN(eventType, ".", 3)
	if len(parts) < 3 {
		return eventType, ""
	}
	return parts[0] + "." + parts[1], parts[2]
}

var jsonNull = []byte("null")

// Optional is a tri-state JSON field: absent, explicit null, or a value.
// Absent means "no change requested"; explicit null means "clear", honored
// only where the target field is nullable.
type Optional[T any] struct {
	Present bool
	Null    bool
	Value   T
}

// Set reports whether the field carries a concrete value.
func (o Optional[T]) Set() bool { return o.Present && !o.Null }

// Clear reports whether the field is an explicit null.
func (o Optional[T]) Clear() bool { return o.Present && o.Null }

// Or returns the carried value, or fallback when the field is absent or null.
func (o Optional[T]) Or(fallback T) T {
	if o.Set() {
		return o.Value
	}
	return fallback
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Present = true
	if bytes.Equal(data, jsonNull) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Present || o.Null {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}

// Value constructs a set Optional.
func Value[T any](v T) Optional[T] {
	return Optional[T]{Present: true, Value: v}
}

// Null constructs an explicit-null Optional.
func Null[T any]() Optional[T] {
	return Optional[T]{Present: true, Null: true}
}

// ListPayload is the payload shape for tasks.list.* events.
type ListPayload struct {
	ListID    string            `json:"listId"`
	Name      Optional[string]  `json:"name"`
	Color     Optional[string]  `json:"color"`
	SortOrder Optional[float64] `json:"sortOrder"`
}

// TaskPayload is the payload shape for tasks.task.* events. Notes, DueAt and
// CompletedAt are nullable: an explicit null clears them.
type TaskPayload struct {
	TaskID      string             `json:"taskId"`
	ListID      Optional[string]   `json:"listId"`
	Title       Optional[string]   `json:"title"`
	Notes       Optional[string]   `json:"notes"`
	DueAt       Optional[int64]    `json:"dueAt"`
	DueHasTime  Optional[bool]     `json:"dueHasTime"`
	Priority    Optional[string]   `json:"priority"`
	Flagged     Optional[bool]     `json:"flagged"`
	Completed   Optional[bool]     `json:"completed"`
	CompletedAt Optional[int64]    `json:"completedAt"`
	SortOrder   Optional[float64]  `json:"sortOrder"`
	TagIDs      Optional[[]string] `json:"tagIds"`
}

// TagPayload is the payload shape for tasks.tag.* events.
type TagPayload struct {
	TagID string           `json:"tagId"`
	Name  Optional[string] `json:"name"`
	Color Optional[string] `json:"color"`
}

// DecodeListPayload validates and decodes a tasks.list.* payload.
func DecodeListPayload(raw RawPayload) (ListPayload, error) {
	var p ListPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ListPayload{}, err
	}
	if strings.TrimSpace(p.ListID) == "" {
		return ListPayload{}, ErrMissingEntityID
	}
	return p, nil
}

// DecodeTaskPayload validates and decodes a tasks.task.* payload.
func DecodeTaskPayload(raw RawPayload) (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TaskPayload{}, err
	}
	if strings.TrimSpace(p.TaskID) == "" {
		return TaskPayload{}, ErrMissingEntityID
	}
	return p, nil
}

// DecodeTagPayload validates and decodes a tasks.tag.* payload.
func DecodeTagPayload(raw RawPayload) (TagPayload, error) {
	var p TagPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TagPayload{}, err
	}
	if strings.TrimSpace(p.TagID) == "" {
		return TagPayload{}, ErrMissingEntityID
	}
	return p, nil
}
