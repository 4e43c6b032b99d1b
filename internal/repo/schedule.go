package repo

import (
	"context"
	"database/sql"

	"taskforge/internal/domain"
)

// UpsertScheduleJob registers a job by name so its durable schedule survives
// restarts. An existing next_run_at is kept; only the trigger label refreshes.
func (r Repo) UpsertScheduleJob(ctx context.Context, name, trigger string) (domain.ScheduleJob, error) {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO schedule_jobs(name,trigger,enabled) VALUES (?,?,1)
ON CONFLICT(name) DO UPDATE SET trigger=excluded.trigger`, name, trigger)
	if err != nil {
		return domain.ScheduleJob{}, err
	}
	return r.GetScheduleJob(ctx, name)
}

func (r Repo) GetScheduleJob(ctx context.Context, name string) (domain.ScheduleJob, error) {
	var j domain.ScheduleJob
	var trigger, nextRun sql.NullString
	var enabled int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,trigger,next_run_at,enabled FROM schedule_jobs WHERE name=?`, name).
		Scan(&j.ID, &j.Name, &trigger, &nextRun, &enabled)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if trigger.Valid {
		j.Trigger = trigger.String
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.String
	}
	j.Enabled = enabled != 0
	return j, nil
}

// SetScheduleNextRun persists when the job should fire next.
func (r Repo) SetScheduleNextRun(ctx context.Context, name, nextRunAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE schedule_jobs SET next_run_at=? WHERE name=?`, nextRunAt, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetScheduleEnabled toggles a job without losing its schedule row.
func (r Repo) SetScheduleEnabled(ctx context.Context, name string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE schedule_jobs SET enabled=? WHERE name=?`, v, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListScheduleJobs(ctx context.Context) ([]domain.ScheduleJob, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,trigger,next_run_at,enabled FROM schedule_jobs ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleJob
	for rows.Next() {
		var j domain.ScheduleJob
		var trigger, nextRun sql.NullString
		var enabled int
		if err := rows.Scan(&j.ID, &j.Name, &trigger, &nextRun, &enabled); err != nil {
			return nil, err
		}
		if trigger.Valid {
			j.Trigger = trigger.String
		}
		if nextRun.Valid {
			j.NextRunAt = &nextRun.String
		}
		j.Enabled = enabled != 0
		res = append(res, j)
	}
	return res, rows.Err()
}
