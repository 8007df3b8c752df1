package query

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// SmartView is one of the fixed task views offered to clients.
type SmartView string

const (
	ViewToday     SmartView = "today"
	ViewScheduled SmartView = "scheduled"
	ViewFlagged   SmartView = "flagged"
	ViewCompleted SmartView = "completed"
	ViewAll       SmartView = "all"
)

var ErrUnknownView = errors.New("unknown smart view")

// ListView is the read-side shape of a projected list.
type ListView struct {
	ListID             string  `json:"listId"`
	Name               string  `json:"name"`
	Color              string  `json:"color"`
	SortOrder          float64 `json:"sortOrder"`
	TaskCount          int     `json:"taskCount"`
	CompletedTaskCount int     `json:"completedTaskCount"`
	CreatedAt          int64   `json:"createdAt"`
	UpdatedAt          int64   `json:"updatedAt"`
}

// TaskView is the read-side shape of a projected task.
type TaskView struct {
	TaskID      string   `json:"taskId"`
	ListID      string   `json:"listId"`
	Title       string   `json:"title"`
	Notes       *string  `json:"notes,omitempty"`
	DueAt       *int64   `json:"dueAt,omitempty"`
	DueHasTime  bool     `json:"dueHasTime"`
	Priority    string   `json:"priority"`
	Flagged     bool     `json:"flagged"`
	Completed   bool     `json:"completed"`
	CompletedAt *int64   `json:"completedAt,omitempty"`
	SortOrder   float64  `json:"sortOrder"`
	TagIDs      []string `json:"tagIds"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// TagView is the read-side shape of a projected tag.
type TagView struct {
	TagID     string `json:"tagId"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

const taskColumns = `task_id, list_id, title, notes, due_at, due_has_time, priority,
       flagged, completed, completed_at, sort_order, tag_ids, created_at, updated_at`

// Repository serves read-only accessors over the projection tables. All
// queries exclude tombstoned rows; tombstones are an internal convergence
// detail, never a user-facing state.
type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

func (r *Repository) GetList(ctx context.Context, userID, listID string) (ListView, error) {
	var v ListView
	err := r.Pool.QueryRow(ctx,
		`SELECT list_id, name, color, sort_order, task_count, completed_task_count,
		        created_at, updated_at
		 FROM lists
		 WHERE user_id = $1 AND list_id = $2 AND NOT tombstoned`,
		userID, listID,
	).Scan(&v.ListID, &v.Name, &v.Color, &v.SortOrder,
		&v.TaskCount, &v.CompletedTaskCount, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ListView{}, ErrNotFound
		}
		return ListView{}, err
	}
	return v, nil
}

func (r *Repository) ListsForUser(ctx context.Context, userID string) ([]ListView, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT list_id, name, color, sort_order, task_count, completed_task_count,
		        created_at, updated_at
		 FROM lists
		 WHERE user_id = $1 AND NOT tombstoned
		 ORDER BY sort_order ASC, created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]ListView, 0)
	for rows.Next() {
		var v ListView
		if err := rows.Scan(&v.ListID, &v.Name, &v.Color, &v.SortOrder,
			&v.TaskCount, &v.CompletedTaskCount, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (r *Repository) GetTask(ctx context.Context, userID, taskID string) (TaskView, error) {
	v, err := scanTaskView(r.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE user_id = $1 AND task_id = $2 AND NOT tombstoned`,
		userID, taskID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaskView{}, ErrNotFound
		}
		return TaskView{}, err
	}
	return v, nil
}

// TasksByList pages through a list's tasks with a keyset cursor: the caller
// passes the last task ID of the previous page. Sorted by sortOrder, then
// createdAt, with taskId as the tiebreaker that makes the cursor stable.
func (r *Repository) TasksByList(ctx context.Context, userID, listID string, includeCompleted bool, cursor string, limit int) ([]TaskView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	where := `user_id = $1 AND list_id = $2 AND NOT tombstoned`
	args := []any{userID, listID}
	if !includeCompleted {
		where += ` AND NOT completed`
	}
	if cursor != "" {
		args = append(args, cursor)
		where += ` AND (sort_order, created_at, task_id) > (
		  SELECT sort_order, created_at, task_id FROM tasks
		  WHERE user_id = $1 AND task_id = $3
		)`
	}
	args = append(args, limit)

	rows, err := r.Pool.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE `+where+`
		 ORDER BY sort_order ASC, created_at ASC, task_id ASC
		 LIMIT $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectTaskViews(rows)
}

// SmartViewTasks serves the fixed views. dayStart/dayEnd bound "today" in
// the caller's timezone (ms); they are ignored by the other views.
func (r *Repository) SmartViewTasks(ctx context.Context, userID string, view SmartView, dayStart, dayEnd int64, limit int) ([]TaskView, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	var sql string
	args := []any{userID}
	switch view {
	case ViewToday:
		// Timed tasks first in time order, then untimed by priority.
		sql = `SELECT ` + taskColumns + `
		 FROM tasks
		 WHERE user_id = $1 AND NOT tombstoned AND NOT completed
		   AND due_at IS NOT NULL AND due_at >= $2 AND due_at <= $3
		 ORDER BY due_has_time DESC,
		          CASE WHEN due_has_time THEN due_at END ASC,
		          CASE priority
		            WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0
		          END DESC,
		          created_at ASC
		 LIMIT $4`
		args = append(args, dayStart, dayEnd, limit)
	case ViewScheduled:
		sql = `SELECT ` + taskColumns + `
		 FROM tasks
		 WHERE user_id = $1 AND NOT tombstoned AND NOT completed AND due_at IS NOT NULL
		 ORDER BY due_at ASC, sort_order ASC
		 LIMIT $2`
		args = append(args, limit)
	case ViewFlagged:
		sql = `SELECT ` + taskColumns + `
		 FROM tasks
		 WHERE user_id = $1 AND NOT tombstoned AND NOT completed AND flagged
		 ORDER BY sort_order ASC, created_at ASC
		 LIMIT $2`
		args = append(args, limit)
	case ViewCompleted:
		sql = `SELECT ` + taskColumns + `
		 FROM tasks
		 WHERE user_id = $1 AND NOT tombstoned AND completed
		 ORDER BY completed_at DESC
		 LIMIT $2`
		args = append(args, limit)
	case ViewAll:
		sql = `SELECT ` + taskColumns + `
		 FROM tasks
		 WHERE user_id = $1 AND NOT tombstoned AND NOT completed
		 ORDER BY created_at DESC
		 LIMIT $2`
		args = append(args, limit)
	default:
		return nil, ErrUnknownView
	}

	rows, err := r.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectTaskViews(rows)
}

// SearchTasks matches task titles by word, scoped to the user and
// optionally to one list and one completion state.
func (r *Repository) SearchTasks(ctx context.Context, userID, text, listID string, completed *bool, limit int) ([]TaskView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []TaskView{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	where := `user_id = $1 AND NOT tombstoned
	   AND to_tsvector('simple', title) @@ plainto_tsquery('simple', $2)`
	args := []any{userID, text}
	if listID != "" {
		args = append(args, listID)
		where += ` AND list_id = $` + strconv.Itoa(len(args))
	}
	if completed != nil {
		args = append(args, *completed)
		where += ` AND completed = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)

	rows, err := r.Pool.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE `+where+`
		 ORDER BY updated_at DESC
		 LIMIT $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectTaskViews(rows)
}

func (r *Repository) GetTag(ctx context.Context, userID, tagID string) (TagView, error) {
	var v TagView
	err := r.Pool.QueryRow(ctx,
		`SELECT tag_id, name, color, created_at, updated_at
		 FROM tags
		 WHERE user_id = $1 AND tag_id = $2 AND NOT tombstoned`,
		userID, tagID,
	).Scan(&v.TagID, &v.Name, &v.Color, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TagView{}, ErrNotFound
		}
		return TagView{}, err
	}
	return v, nil
}

func (r *Repository) TagsForUser(ctx context.Context, userID string) ([]TagView, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT tag_id, name, color, created_at, updated_at
		 FROM tags
		 WHERE user_id = $1 AND NOT tombstoned
		 ORDER BY name ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]TagView, 0)
	for rows.Next() {
		var v TagView
		if err := rows.Scan(&v.TagID, &v.Name, &v.Color, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func collectTaskViews(rows pgx.Rows) ([]TaskView, error) {
	defer rows.Close()
	result := make([]TaskView, 0)
	for rows.Next() {
		v, err := scanTaskView(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskView(row rowScanner) (TaskView, error) {
	var v TaskView
	err := row.Scan(&v.TaskID, &v.ListID, &v.Title, &v.Notes, &v.DueAt, &v.DueHasTime,
		&v.Priority, &v.Flagged, &v.Completed, &v.CompletedAt, &v.SortOrder, &v.TagIDs,
		&v.CreatedAt, &v.UpdatedAt)
	return v, err
}
