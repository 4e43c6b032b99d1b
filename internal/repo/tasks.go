package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"taskforge/internal/domain"
)

const taskCols = `id,blueprint_id,name,short_description,category,status,priority,importance,payload_json,assigned_worker_id,created_at,started_at,completed_at,last_error_at,last_error_message`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var blueprintID, workerID sql.NullInt64
	var shortDesc, category, payload, startedAt, completedAt, lastErrorAt, lastErrorMsg sql.NullString
	err := scan(&t.ID, &blueprintID, &t.Name, &shortDesc, &category, &t.Status, &t.Priority, &t.Importance,
		&payload, &workerID, &t.CreatedAt, &startedAt, &completedAt, &lastErrorAt, &lastErrorMsg)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if blueprintID.Valid {
		t.BlueprintID = &blueprintID.Int64
	}
	if workerID.Valid {
		t.AssignedWorkerID = &workerID.Int64
	}
	if shortDesc.Valid {
		t.ShortDescription = shortDesc.String
	}
	if category.Valid {
		t.Category = category.String
	}
	if payload.Valid && payload.String != "" {
		_ = json.Unmarshal([]byte(payload.String), &t.Payload)
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if lastErrorAt.Valid {
		t.LastErrorAt = &lastErrorAt.String
	}
	if lastErrorMsg.Valid {
		t.LastErrorMessage = &lastErrorMsg.String
	}
	return t, nil
}

// InsertTaskTx inserts a pending task inside the caller's transaction and
// returns the new id.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	var payload any
	if t.Payload != nil {
		b, err := json.Marshal(t.Payload)
		if err != nil {
			return 0, err
		}
		payload = string(b)
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(blueprint_id,name,short_description,category,status,priority,importance,payload_json,assigned_worker_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		nullableRef(t.BlueprintID), t.Name, nullable(t.ShortDescription), nullable(t.Category),
		t.Status, t.Priority, t.Importance, payload, nullableRef(t.AssignedWorkerID), t.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertTask is the single-statement variant for manual submissions.
func (r Repo) InsertTask(ctx context.Context, t domain.Task) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	id, err := r.InsertTaskTx(ctx, tx, t)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	Status      string
	BlueprintID int64
	Limit       int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.BlueprintID > 0 {
		query += ` AND blueprint_id=?`
		args = append(args, f.BlueprintID)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// SelectPendingTasks returns pending tasks in dispatch order: lowest priority
// value first, then highest importance, then insertion order.
func (r Repo) SelectPendingTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE status=?
ORDER BY priority ASC, importance DESC, id ASC LIMIT ?`, domain.TaskPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// AssignTaskTx moves a pending task to queued for the given worker. Returns
// false when some other caller already took it.
func (r Repo) AssignTaskTx(ctx context.Context, tx *sql.Tx, taskID, workerID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, assigned_worker_id=? WHERE id=? AND status=?`,
		domain.TaskQueued, workerID, taskID, domain.TaskPending)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClaimTask moves a pending or queued task to running. The conditional update
// is the claim: concurrent claimers race on the status predicate and exactly
// one wins.
func (r Repo) ClaimTask(ctx context.Context, taskID int64, startedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=?, started_at=? WHERE id=? AND status IN (?,?)`,
		domain.TaskRunning, startedAt, taskID, domain.TaskPending, domain.TaskQueued)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteTask moves a running task to completed.
func (r Repo) CompleteTask(ctx context.Context, taskID int64, completedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=?, completed_at=? WHERE id=? AND status=?`,
		domain.TaskCompleted, completedAt, taskID, domain.TaskRunning)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FailTask records a failure on a task that is still in flight. Completed and
// cancelled tasks keep their terminal status; returns false when nothing
// matched.
func (r Repo) FailTask(ctx context.Context, taskID int64, message, failedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=?, last_error_message=?, last_error_at=? WHERE id=? AND status IN (?,?,?)`,
		domain.TaskFailed, nullable(message), failedAt, taskID, domain.TaskPending, domain.TaskQueued, domain.TaskRunning)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelTask cancels a task that has not finished yet.
func (r Repo) CancelTask(ctx context.Context, taskID int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=? AND status IN (?,?,?)`,
		domain.TaskCancelled, taskID, domain.TaskPending, domain.TaskQueued, domain.TaskRunning)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SelectFailedForRetry returns the oldest failed tasks, capped.
func (r Repo) SelectFailedForRetry(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE status=? ORDER BY id ASC LIMIT ?`,
		domain.TaskFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// RequeueTask moves a failed task back to pending, clearing the worker
// assignment so any worker may pick it up again.
func (r Repo) RequeueTask(ctx context.Context, taskID int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=?, assigned_worker_id=NULL, started_at=NULL WHERE id=? AND status=?`,
		domain.TaskPending, taskID, domain.TaskFailed)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountTasksByStatus returns a status -> count map for the status endpoint.
func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
