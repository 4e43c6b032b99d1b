package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"taskforge/internal/bus"
	"taskforge/internal/domain"
)

// Store persists every bus event to the append-only events table and serves
// history queries beyond the bus's in-memory buffer.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// AttachTo subscribes the store to the bus so each published event is
// written through. Persistence failures are logged and dropped; they never
// surface to the publisher.
func (s *Store) AttachTo(b *bus.Bus) func() {
	return b.Subscribe(func(evt domain.Event) {
		if err := s.Handle(context.Background(), evt); err != nil {
			slog.Error("store event failed", "type", evt.Type, "err", err)
		}
	})
}

// Handle inserts one event row. The table keeps its own id sequence; the
// in-memory bus id is not stored because it restarts with the process.
func (s *Store) Handle(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	created := evt.CreatedAt
	if created == "" {
		now := s.Now
		if now == nil {
			now = time.Now
		}
		created = now().UTC().Format(time.RFC3339Nano)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO events(type,category,message,task_id,blueprint_id,worker_id,agent_id,payload_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		evt.Type, nullable(evt.Category), nullable(evt.Message),
		nullableRef(evt.TaskID), nullableRef(evt.BlueprintID), nullableRef(evt.WorkerID), nullableRef(evt.AgentID),
		string(payload), created)
	return err
}

// LastID returns the most recent persisted event id, 0 if the log is empty.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

// ListRecent returns the newest events first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,type,category,message,task_id,blueprint_id,worker_id,agent_id,payload_json,created_at
FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsSince returns events with id > lastID in ascending order, paginated.
func (s *Store) EventsSince(ctx context.Context, lastID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,type,category,message,task_id,blueprint_id,worker_id,agent_id,payload_json,created_at
FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var category, message, payload sql.NullString
		var taskID, blueprintID, workerID, agentID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Type, &category, &message, &taskID, &blueprintID, &workerID, &agentID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if category.Valid {
			e.Category = category.String
		}
		if message.Valid {
			e.Message = message.String
		}
		if taskID.Valid {
			e.TaskID = &taskID.Int64
		}
		if blueprintID.Valid {
			e.BlueprintID = &blueprintID.Int64
		}
		if workerID.Valid {
			e.WorkerID = &workerID.Int64
		}
		if agentID.Valid {
			e.AgentID = &agentID.Int64
		}
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableRef(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
