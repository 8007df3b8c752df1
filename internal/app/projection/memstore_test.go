package projection

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/tasksync/tasksync/internal/app/eventlog"
	"github.com/tasksync/tasksync/internal/contracts"
)

// memStore is an in-memory Store and TxRunner. Gets hand out copies so a
// projector mutating a row without Put cannot leak partial state, matching
// the read-modify-write behavior of the Postgres store.
type memStore struct {
	lists map[string]*List
	tasks map[string]*Task
	tags  map[string]*Tag
}

func newMemStore() *memStore {
	return &memStore{
		lists: map[string]*List{},
		tasks: map[string]*Task{},
		tags:  map[string]*Tag{},
	}
}

func key(userID, id string) string { return userID + "\x00" + id }

func cloneList(l *List) *List {
	c := *l
	return &c
}

func cloneTask(t *Task) *Task {
	c := *t
	if t.Notes != nil {
		v := *t.Notes
		c.Notes = &v
	}
	if t.DueAt != nil {
		v := *t.DueAt
		c.DueAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.TagIDs != nil {
		c.TagIDs = append([]string(nil), t.TagIDs...)
	}
	return &c
}

func cloneTag(t *Tag) *Tag {
	c := *t
	return &c
}

func (m *memStore) InTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *memStore) GetList(_ context.Context, userID, listID string) (*List, error) {
	if l, ok := m.lists[key(userID, listID)]; ok {
		return cloneList(l), nil
	}
	return nil, nil
}

func (m *memStore) PutList(_ context.Context, list *List) error {
	m.lists[key(list.UserID, list.ListID)] = cloneList(list)
	return nil
}

func (m *memStore) GetTask(_ context.Context, userID, taskID string) (*Task, error) {
	if t, ok := m.tasks[key(userID, taskID)]; ok {
		return cloneTask(t), nil
	}
	return nil, nil
}

func (m *memStore) PutTask(_ context.Context, task *Task) error {
	m.tasks[key(task.UserID, task.TaskID)] = cloneTask(task)
	return nil
}

func (m *memStore) GetTag(_ context.Context, userID, tagID string) (*Tag, error) {
	if t, ok := m.tags[key(userID, tagID)]; ok {
		return cloneTag(t), nil
	}
	return nil, nil
}

func (m *memStore) PutTag(_ context.Context, tag *Tag) error {
	m.tags[key(tag.UserID, tag.TagID)] = cloneTag(tag)
	return nil
}

func (m *memStore) ActiveTasksInList(_ context.Context, userID, listID string) ([]*Task, error) {
	var result []*Task
	for _, t := range m.tasks {
		if t.UserID == userID && t.ListID == listID && !t.Tombstoned {
			result = append(result, cloneTask(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TaskID < result[j].TaskID })
	return result, nil
}

func (m *memStore) ResetUser(_ context.Context, userID string) error {
	for k, l := range m.lists {
		if l.UserID == userID {
			delete(m.lists, k)
		}
	}
	for k, t := range m.tasks {
		if t.UserID == userID {
			delete(m.tasks, k)
		}
	}
	for k, t := range m.tags {
		if t.UserID == userID {
			delete(m.tags, k)
		}
	}
	return nil
}

func (m *memStore) RecomputeListCounts(_ context.Context, userID string) error {
	type counts struct{ total, completed int }
	perList := map[string]counts{}
	for _, t := range m.tasks {
		if t.UserID != userID || t.Tombstoned {
			continue
		}
		c := perList[t.ListID]
		c.total++
		if t.Completed {
			c.completed++
		}
		perList[t.ListID] = c
	}
	for _, l := range m.lists {
		if l.UserID != userID {
			continue
		}
		c := perList[l.ListID]
		l.TaskCount = c.total
		l.CompletedTaskCount = c.completed
	}
	return nil
}

// memEvents is an in-memory EventSource.
type memEvents struct {
	events map[string]contracts.Event
}

func newMemEvents() *memEvents {
	return &memEvents{events: map[string]contracts.Event{}}
}

func (m *memEvents) add(events ...contracts.Event) {
	for _, ev := range events {
		if _, exists := m.events[ev.EventID]; exists {
			continue
		}
		m.events[ev.EventID] = ev
	}
}

func (m *memEvents) GetEvent(_ context.Context, eventID string) (contracts.Event, error) {
	if ev, ok := m.events[eventID]; ok {
		return ev, nil
	}
	return contracts.Event{}, eventlog.ErrEventNotFound
}

func (m *memEvents) UserEvents(_ context.Context, userID string, fromTs int64) ([]contracts.Event, error) {
	var result []contracts.Event
	for _, ev := range m.events {
		if ev.UserID == userID && ev.Timestamp >= fromTs {
			result = append(result, ev)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].EventID < result[j].EventID
	})
	return result, nil
}

const testUser = "u1"

func ctx() context.Context { return context.Background() }

func event(t *testing.T, eventID, eventType string, ts int64, payload map[string]any) contracts.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return contracts.Event{
		EventID:         eventID,
		UserID:          testUser,
		DeviceID:        "device-1",
		AppID:           "app-1",
		Timestamp:       ts,
		ServerTimestamp: ts + 5,
		EventType:       eventType,
		SchemaVersion:   contracts.CurrentSchemaVersion,
		Payload:         raw,
	}
}

func apply(t *testing.T, store Store, events ...contracts.Event) {
	t.Helper()
	for _, ev := range events {
		if err := Route(context.Background(), store, ev); err != nil {
			t.Fatalf("route %s (%s): %v", ev.EventID, ev.EventType, err)
		}
	}
}

func mustList(t *testing.T, store Store, listID string) *List {
	t.Helper()
	l, err := store.GetList(context.Background(), testUser, listID)
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	if l == nil {
		t.Fatalf("list %s not found", listID)
	}
	return l
}

func mustTask(t *testing.T, store Store, taskID string) *Task {
	t.Helper()
	task, err := store.GetTask(context.Background(), testUser, taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task == nil {
		t.Fatalf("task %s not found", taskID)
	}
	return task
}
