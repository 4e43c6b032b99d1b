package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"taskforge/internal/domain"
)

const workerCols = `id,name,kind,capabilities_json,is_active,last_seen_at,last_heartbeat_at`

func scanWorker(scan func(dest ...any) error) (domain.Worker, error) {
	var w domain.Worker
	var caps, lastSeen, lastHeartbeat sql.NullString
	var active int
	err := scan(&w.ID, &w.Name, &w.Kind, &caps, &active, &lastSeen, &lastHeartbeat)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Active = active != 0
	if caps.Valid && caps.String != "" {
		_ = json.Unmarshal([]byte(caps.String), &w.Capabilities)
	}
	if lastSeen.Valid {
		w.LastSeenAt = &lastSeen.String
	}
	if lastHeartbeat.Valid {
		w.LastHeartbeatAt = &lastHeartbeat.String
	}
	return w, nil
}

// UpsertWorker registers a worker by its unique name, updating the heartbeat
// columns when the row already exists, and returns the worker row.
func (r Repo) UpsertWorker(ctx context.Context, name, kind string, capabilities []string, seenAt string) (domain.Worker, error) {
	var caps any
	if len(capabilities) > 0 {
		b, err := json.Marshal(capabilities)
		if err != nil {
			return domain.Worker{}, err
		}
		caps = string(b)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workers(name,kind,capabilities_json,is_active,last_seen_at,last_heartbeat_at)
VALUES (?,?,?,1,?,?)
ON CONFLICT(name) DO UPDATE SET kind=excluded.kind, capabilities_json=excluded.capabilities_json,
is_active=1, last_seen_at=excluded.last_seen_at, last_heartbeat_at=excluded.last_heartbeat_at`,
		name, kind, caps, seenAt, seenAt)
	if err != nil {
		return domain.Worker{}, err
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+workerCols+` FROM workers WHERE name=?`, name)
	return scanWorker(row.Scan)
}

// TouchWorkerHeartbeat updates the heartbeat timestamp of a known worker.
func (r Repo) TouchWorkerHeartbeat(ctx context.Context, id int64, at string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workers SET last_heartbeat_at=?, last_seen_at=?, is_active=1 WHERE id=?`, at, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateWorker marks a worker offline without deleting its history.
func (r Repo) DeactivateWorker(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workers SET is_active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workerCols+` FROM workers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// StaleWorkers returns active workers whose last heartbeat is older than the
// cutoff. Workers that never sent a heartbeat are included.
func (r Repo) StaleWorkers(ctx context.Context, cutoff string) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workerCols+` FROM workers
WHERE is_active=1 AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?) ORDER BY name ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
