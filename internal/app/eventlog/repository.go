package eventlog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tasksync/tasksync/internal/contracts"
)

// ErrEventNotFound is returned when an event ID has no stored row. Callers
// that pass explicit IDs treat this as a contract violation.
var ErrEventNotFound = errors.New("event not found")

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
  event_id text PRIMARY KEY,
  user_id text NOT NULL,
  device_id text NOT NULL DEFAULT '',
  app_id text NOT NULL DEFAULT '',
  event_type text NOT NULL,
  schema_version integer NOT NULL DEFAULT 1,
  ts bigint NOT NULL,
  server_ts bigint NOT NULL,
  payload jsonb NOT NULL DEFAULT '{}',
  media_refs text[] NOT NULL DEFAULT '{}',
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createEventsUserTsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_events_user_ts ON events (user_id, ts)`

const createEventsUserTypeIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_events_user_type ON events (user_id, event_type)`

const insertEventSQL = `
INSERT INTO events (
  event_id, user_id, device_id, app_id, event_type,
  schema_version, ts, server_ts, payload, media_refs
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (event_id) DO NOTHING
`

const selectEventSQL = `
SELECT event_id, user_id, device_id, app_id, event_type,
       schema_version, ts, server_ts, payload, media_refs
FROM events
WHERE event_id = $1
`

const selectUserEventsSQL = `
SELECT event_id, user_id, device_id, app_id, event_type,
       schema_version, ts, server_ts, payload, media_refs
FROM events
WHERE user_id = $1 AND ts >= $2
ORDER BY ts ASC, event_id ASC
`

// Repository is the append-only event store. Rows are deduplicated by
// event_id and never updated or deleted.
type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createEventsTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createEventsUserTsIndexSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createEventsUserTypeIndexSQL); err != nil {
		return err
	}
	return nil
}

// InsertEvent appends one event. It reports false when the event ID is
// already present (duplicate delivery).
func (r *Repository) InsertEvent(ctx context.Context, event contracts.Event) (bool, error) {
	payload := event.Payload
	if len(payload) == 0 {
		payload = contracts.RawPayload(`{}`)
	}
	mediaRefs := event.MediaRefs
	if mediaRefs == nil {
		mediaRefs = []string{}
	}
	tag, err := r.Pool.Exec(ctx, insertEventSQL,
		event.EventID,
		event.UserID,
		event.DeviceID,
		event.AppID,
		event.EventType,
		event.SchemaVersion,
		event.Timestamp,
		event.ServerTimestamp,
		[]byte(payload),
		mediaRefs,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) GetEvent(ctx context.Context, eventID string) (contracts.Event, error) {
	event, err := scanEvent(r.Pool.QueryRow(ctx, selectEventSQL, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.Event{}, ErrEventNotFound
		}
		return contracts.Event{}, err
	}
	return event, nil
}

// UserEvents returns all of a user's events with ts >= fromTs, ascending by
// timestamp. This is the replay feed; ordering here is what makes
// intermediate rebuild states meaningful.
func (r *Repository) UserEvents(ctx context.Context, userID string, fromTs int64) ([]contracts.Event, error) {
	rows, err := r.Pool.Query(ctx, selectUserEventsSQL, userID, fromTs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []contracts.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (contracts.Event, error) {
	var event contracts.Event
	var payload []byte
	if err := row.Scan(
		&event.EventID,
		&event.UserID,
		&event.DeviceID,
		&event.AppID,
		&event.EventType,
		&event.SchemaVersion,
		&event.Timestamp,
		&event.ServerTimestamp,
		&payload,
		&event.MediaRefs,
	); err != nil {
		return contracts.Event{}, err
	}
	event.Payload = contracts.RawPayload(payload)
	return event, nil
}
