package repo

import (
	"context"
	"database/sql"

	"taskforge/internal/domain"
)

const incomeCols = `id,platform,amount,currency,reference,blueprint_id,task_id,received_at,created_at,notes`

func scanIncome(scan func(dest ...any) error) (domain.IncomeRecord, error) {
	var rec domain.IncomeRecord
	var reference, notes sql.NullString
	var blueprintID, taskID sql.NullInt64
	err := scan(&rec.ID, &rec.Platform, &rec.Amount, &rec.Currency, &reference, &blueprintID, &taskID, &rec.ReceivedAt, &rec.CreatedAt, &notes)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if reference.Valid {
		rec.Reference = reference.String
	}
	if notes.Valid {
		rec.Notes = notes.String
	}
	if blueprintID.Valid {
		rec.BlueprintID = &blueprintID.Int64
	}
	if taskID.Valid {
		rec.TaskID = &taskID.Int64
	}
	return rec, nil
}

func (r Repo) InsertIncome(ctx context.Context, rec domain.IncomeRecord) (int64, error) {
	if rec.Currency == "" {
		rec.Currency = "USD"
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO income_records(platform,amount,currency,reference,blueprint_id,task_id,received_at,created_at,notes)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.Platform, rec.Amount, rec.Currency, nullable(rec.Reference),
		nullableRef(rec.BlueprintID), nullableRef(rec.TaskID), rec.ReceivedAt, rec.CreatedAt, nullable(rec.Notes))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// IncomeTotal sums all recorded income in record currency units.
func (r Repo) IncomeTotal(ctx context.Context) (float64, error) {
	var total float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM income_records`).Scan(&total)
	return total, err
}

// IncomeByPlatform aggregates totals per platform, largest first.
func (r Repo) IncomeByPlatform(ctx context.Context) ([]domain.PlatformIncome, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT platform, COALESCE(SUM(amount),0), COUNT(*)
FROM income_records GROUP BY platform ORDER BY 2 DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlatformIncome
	for rows.Next() {
		var p domain.PlatformIncome
		if err := rows.Scan(&p.Platform, &p.Total, &p.Count); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// RecentIncome returns the newest records first.
func (r Repo) RecentIncome(ctx context.Context, limit int) ([]domain.IncomeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+incomeCols+` FROM income_records ORDER BY received_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IncomeRecord
	for rows.Next() {
		rec, err := scanIncome(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
