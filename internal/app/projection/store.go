package projection

import "context"

// List is the materialized projection of a task list. TaskCount and
// CompletedTaskCount are derived counters over the user's non-tombstoned
// tasks; RecomputeListCounts is the authoritative repair for them.
type List struct {
	ListID             string
	UserID             string
	Name               string
	Color              string
	SortOrder          float64
	TaskCount          int
	CompletedTaskCount int
	CreatedAt          int64
	UpdatedAt          int64
	Tombstoned         bool
	TombstonedAt       int64
	LastEventID        string
}

// Task is the materialized projection of a task. All timestamps are
// client-asserted event milliseconds, never apply-time wall clock.
type Task struct {
	TaskID       string
	UserID       string
	ListID       string
	Title        string
	Notes        *string
	DueAt        *int64
	DueHasTime   bool
	Priority     string
	Flagged      bool
	Completed    bool
	CompletedAt  *int64
	SortOrder    float64
	TagIDs       []string
	CreatedAt    int64
	UpdatedAt    int64
	Tombstoned   bool
	TombstonedAt int64
	LastEventID  string
}

// Tag is the materialized projection of a tag. Tags are referenced by tasks
// via ID, never owned; deleting a tag tombstones only the tag row.
type Tag struct {
	TagID        string
	UserID       string
	Name         string
	Color        string
	CreatedAt    int64
	UpdatedAt    int64
	Tombstoned   bool
	TombstonedAt int64
	LastEventID  string
}

// Store is the projection state accessed while applying one event. Get
// methods return (nil, nil) when no row exists, tombstoned rows included
// (tombstones stay readable for staleness and counter checks).
type Store interface {
	GetList(ctx context.Context, userID, listID string) (*List, error)
	PutList(ctx context.Context, list *List) error

	GetTask(ctx context.Context, userID, taskID string) (*Task, error)
	PutTask(ctx context.Context, task *Task) error

	GetTag(ctx context.Context, userID, tagID string) (*Tag, error)
	PutTag(ctx context.Context, tag *Tag) error

	// ActiveTasksInList returns the non-tombstoned tasks currently pointing
	// at a list, for cascade tombstoning.
	ActiveTasksInList(ctx context.Context, userID, listID string) ([]*Task, error)

	// ResetUser removes all of a user's projection rows (not events).
	ResetUser(ctx context.Context, userID string) error

	// RecomputeListCounts rebuilds every list's counters from the task
	// table instead of trusting accumulated deltas.
	RecomputeListCounts(ctx context.Context, userID string) error
}

// TxRunner executes fn against a Store inside one transaction. Each event is
// applied as a single read-decide-write transaction; no locks are taken in
// the projection logic itself.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}
