package projection

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createListsTableSQL = `
CREATE TABLE IF NOT EXISTS lists (
  user_id text NOT NULL,
  list_id text NOT NULL,
  name text NOT NULL DEFAULT '',
  color text NOT NULL DEFAULT '',
  sort_order double precision NOT NULL DEFAULT 0,
  task_count integer NOT NULL DEFAULT 0,
  completed_task_count integer NOT NULL DEFAULT 0,
  created_at bigint NOT NULL,
  updated_at bigint NOT NULL,
  tombstoned boolean NOT NULL DEFAULT false,
  tombstoned_at bigint NOT NULL DEFAULT 0,
  last_event_id text NOT NULL DEFAULT '',
  PRIMARY KEY (user_id, list_id)
)`

const createListsActiveIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_lists_user_active ON lists (user_id, tombstoned)`

const createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  user_id text NOT NULL,
  task_id text NOT NULL,
  list_id text NOT NULL,
  title text NOT NULL DEFAULT '',
  notes text,
  due_at bigint,
  due_has_time boolean NOT NULL DEFAULT false,
  priority text NOT NULL DEFAULT 'none',
  flagged boolean NOT NULL DEFAULT false,
  completed boolean NOT NULL DEFAULT false,
  completed_at bigint,
  sort_order double precision NOT NULL DEFAULT 0,
  tag_ids text[] NOT NULL DEFAULT '{}',
  created_at bigint NOT NULL,
  updated_at bigint NOT NULL,
  tombstoned boolean NOT NULL DEFAULT false,
  tombstoned_at bigint NOT NULL DEFAULT 0,
  last_event_id text NOT NULL DEFAULT '',
  PRIMARY KEY (user_id, task_id)
)`

const createTasksActiveIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_user_active ON tasks (user_id, tombstoned)`

const createTasksListIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_user_list ON tasks (user_id, list_id, tombstoned)`

const createTasksSearchScopeIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_search_scope ON tasks (user_id, list_id, completed, tombstoned)`

const createTasksTitleIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_title_fts ON tasks USING gin (to_tsvector('simple', title))`

const createTagsTableSQL = `
CREATE TABLE IF NOT EXISTS tags (
  user_id text NOT NULL,
  tag_id text NOT NULL,
  name text NOT NULL DEFAULT '',
  color text NOT NULL DEFAULT '',
  created_at bigint NOT NULL,
  updated_at bigint NOT NULL,
  tombstoned boolean NOT NULL DEFAULT false,
  tombstoned_at bigint NOT NULL DEFAULT 0,
  last_event_id text NOT NULL DEFAULT '',
  PRIMARY KEY (user_id, tag_id)
)`

const createTagsActiveIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tags_user_active ON tags (user_id, tombstoned)`

const selectListSQL = `
SELECT user_id, list_id, name, color, sort_order, task_count, completed_task_count,
       created_at, updated_at, tombstoned, tombstoned_at, last_event_id
FROM lists
WHERE user_id = $1 AND list_id = $2
`

const upsertListSQL = `
INSERT INTO lists (
  user_id, list_id, name, color, sort_order, task_count, completed_task_count,
  created_at, updated_at, tombstoned, tombstoned_at, last_event_id
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (user_id, list_id) DO UPDATE
SET name = EXCLUDED.name,
    color = EXCLUDED.color,
    sort_order = EXCLUDED.sort_order,
    task_count = EXCLUDED.task_count,
    completed_task_count = EXCLUDED.completed_task_count,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    tombstoned = EXCLUDED.tombstoned,
    tombstoned_at = EXCLUDED.tombstoned_at,
    last_event_id = EXCLUDED.last_event_id
`

const selectTaskSQL = `
SELECT user_id, task_id, list_id, title, notes, due_at, due_has_time, priority,
       flagged, completed, completed_at, sort_order, tag_ids,
       created_at, updated_at, tombstoned, tombstoned_at, last_event_id
FROM tasks
WHERE user_id = $1 AND task_id = $2
`

const selectActiveTasksInListSQL = `
SELECT user_id, task_id, list_id, title, notes, due_at, due_has_time, priority,
       flagged, completed, completed_at, sort_order, tag_ids,
       created_at, updated_at, tombstoned, tombstoned_at, last_event_id
FROM tasks
WHERE user_id = $1 AND list_id = $2 AND NOT tombstoned
`

const upsertTaskSQL = `
INSERT INTO tasks (
  user_id, task_id, list_id, title, notes, due_at, due_has_time, priority,
  flagged, completed, completed_at, sort_order, tag_ids,
  created_at, updated_at, tombstoned, tombstoned_at, last_event_id
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (user_id, task_id) DO UPDATE
SET list_id = EXCLUDED.list_id,
    title = EXCLUDED.title,
    notes = EXCLUDED.notes,
    due_at = EXCLUDED.due_at,
    due_has_time = EXCLUDED.due_has_time,
    priority = EXCLUDED.priority,
    flagged = EXCLUDED.flagged,
    completed = EXCLUDED.completed,
    completed_at = EXCLUDED.completed_at,
    sort_order = EXCLUDED.sort_order,
    tag_ids = EXCLUDED.tag_ids,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    tombstoned = EXCLUDED.tombstoned,
    tombstoned_at = EXCLUDED.tombstoned_at,
    last_event_id = EXCLUDED.last_event_id
`

const selectTagSQL = `
SELECT user_id, tag_id, name, color, created_at, updated_at,
       tombstoned, tombstoned_at, last_event_id
FROM tags
WHERE user_id = $1 AND tag_id = $2
`

const upsertTagSQL = `
INSERT INTO tags (
  user_id, tag_id, name, color, created_at, updated_at,
  tombstoned, tombstoned_at, last_event_id
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, tag_id) DO UPDATE
SET name = EXCLUDED.name,
    color = EXCLUDED.color,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    tombstoned = EXCLUDED.tombstoned,
    tombstoned_at = EXCLUDED.tombstoned_at,
    last_event_id = EXCLUDED.last_event_id
`

const recomputeListCountsSQL = `
UPDATE lists l
SET task_count = c.total,
    completed_task_count = c.completed
FROM (
  SELECT list_id,
         COUNT(*) FILTER (WHERE NOT tombstoned) AS total,
         COUNT(*) FILTER (WHERE NOT tombstoned AND completed) AS completed
  FROM tasks
  WHERE user_id = $1
  GROUP BY list_id
) c
WHERE l.user_id = $1 AND l.list_id = c.list_id
`

const zeroEmptyListCountsSQL = `
UPDATE lists
SET task_count = 0,
    completed_task_count = 0
WHERE user_id = $1
  AND list_id NOT IN (
    SELECT DISTINCT list_id FROM tasks WHERE user_id = $1 AND NOT tombstoned
  )
`

// Repository is the Postgres projection store. Each event is applied inside
// one transaction via InTx; the transactional read-modify-write is the only
// concurrency control the projectors rely on.
type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		createListsTableSQL,
		createListsActiveIndexSQL,
		createTasksTableSQL,
		createTasksActiveIndexSQL,
		createTasksListIndexSQL,
		createTasksSearchScopeIndexSQL,
		createTasksTitleIndexSQL,
		createTagsTableSQL,
		createTagsActiveIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetList(ctx context.Context, userID, listID string) (*List, error) {
	var l List
	err := s.tx.QueryRow(ctx, selectListSQL, userID, listID).Scan(
		&l.UserID, &l.ListID, &l.Name, &l.Color, &l.SortOrder,
		&l.TaskCount, &l.CompletedTaskCount,
		&l.CreatedAt, &l.UpdatedAt, &l.Tombstoned, &l.TombstonedAt, &l.LastEventID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (s *txStore) PutList(ctx context.Context, list *List) error {
	_, err := s.tx.Exec(ctx, upsertListSQL,
		list.UserID, list.ListID, list.Name, list.Color, list.SortOrder,
		list.TaskCount, list.CompletedTaskCount,
		list.CreatedAt, list.UpdatedAt, list.Tombstoned, list.TombstonedAt, list.LastEventID,
	)
	return err
}

func (s *txStore) GetTask(ctx context.Context, userID, taskID string) (*Task, error) {
	task, err := scanTask(s.tx.QueryRow(ctx, selectTaskSQL, userID, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

func (s *txStore) PutTask(ctx context.Context, task *Task) error {
	tagIDs := task.TagIDs
	if tagIDs == nil {
		tagIDs = []string{}
	}
	_, err := s.tx.Exec(ctx, upsertTaskSQL,
		task.UserID, task.TaskID, task.ListID, task.Title, task.Notes,
		task.DueAt, task.DueHasTime, task.Priority, task.Flagged,
		task.Completed, task.CompletedAt, task.SortOrder, tagIDs,
		task.CreatedAt, task.UpdatedAt, task.Tombstoned, task.TombstonedAt, task.LastEventID,
	)
	return err
}

func (s *txStore) GetTag(ctx context.Context, userID, tagID string) (*Tag, error) {
	var t Tag
	err := s.tx.QueryRow(ctx, selectTagSQL, userID, tagID).Scan(
		&t.UserID, &t.TagID, &t.Name, &t.Color,
		&t.CreatedAt, &t.UpdatedAt, &t.Tombstoned, &t.TombstonedAt, &t.LastEventID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *txStore) PutTag(ctx context.Context, tag *Tag) error {
	_, err := s.tx.Exec(ctx, upsertTagSQL,
		tag.UserID, tag.TagID, tag.Name, tag.Color,
		tag.CreatedAt, tag.UpdatedAt, tag.Tombstoned, tag.TombstonedAt, tag.LastEventID,
	)
	return err
}

func (s *txStore) ActiveTasksInList(ctx context.Context, userID, listID string) ([]*Task, error) {
	rows, err := s.tx.Query(ctx, selectActiveTasksInListSQL, userID, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *txStore) ResetUser(ctx context.Context, userID string) error {
	for _, table := range []string{"tasks", "lists", "tags"} {
		if _, err := s.tx.Exec(ctx, "DELETE FROM "+table+" WHERE user_id = $1", userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *txStore) RecomputeListCounts(ctx context.Context, userID string) error {
	if _, err := s.tx.Exec(ctx, recomputeListCountsSQL, userID); err != nil {
		return err
	}
	_, err := s.tx.Exec(ctx, zeroEmptyListCountsSQL, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	if err := row.Scan(
		&t.UserID, &t.TaskID, &t.ListID, &t.Title, &t.Notes,
		&t.DueAt, &t.DueHasTime, &t.Priority, &t.Flagged,
		&t.Completed, &t.CompletedAt, &t.SortOrder, &t.TagIDs,
		&t.CreatedAt, &t.UpdatedAt, &t.Tombstoned, &t.TombstonedAt, &t.LastEventID,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
