package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"taskforge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const blueprintCols = `id,title,source,origin_url,roi_score,automation_score,risk_score,confidence,strategy_json,status,created_at,updated_at`

func scanBlueprint(scan func(dest ...any) error) (domain.Blueprint, error) {
	var bp domain.Blueprint
	var source, originURL, strategyJSON sql.NullString
	err := scan(&bp.ID, &bp.Title, &source, &originURL, &bp.ROIScore, &bp.AutomationScore, &bp.RiskScore, &bp.Confidence, &strategyJSON, &bp.Status, &bp.CreatedAt, &bp.UpdatedAt)
	if err == sql.ErrNoRows {
		return bp, ErrNotFound
	}
	if err != nil {
		return bp, err
	}
	if source.Valid {
		bp.Source = source.String
	}
	if originURL.Valid {
		bp.OriginURL = originURL.String
	}
	if strategyJSON.Valid && strategyJSON.String != "" {
		var st domain.Strategy
		if err := json.Unmarshal([]byte(strategyJSON.String), &st); err == nil {
			bp.Strategy = &st
		}
	}
	return bp, nil
}

func (r Repo) InsertBlueprint(ctx context.Context, bp domain.Blueprint) (int64, error) {
	strategyJSON, err := marshalStrategy(bp.Strategy)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO blueprints(title,source,origin_url,roi_score,automation_score,risk_score,confidence,strategy_json,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		bp.Title, nullable(bp.Source), nullable(bp.OriginURL), bp.ROIScore, bp.AutomationScore, bp.RiskScore, bp.Confidence,
		strategyJSON, bp.Status, bp.CreatedAt, bp.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetBlueprint(ctx context.Context, id int64) (domain.Blueprint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+blueprintCols+` FROM blueprints WHERE id=?`, id)
	return scanBlueprint(row.Scan)
}

type BlueprintFilters struct {
	Status string
	Limit  int
}

func (r Repo) ListBlueprints(ctx context.Context, f BlueprintFilters) ([]domain.Blueprint, error) {
	query := `SELECT ` + blueprintCols + ` FROM blueprints`
	var args []any
	if f.Status != "" {
		query += ` WHERE status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Blueprint
	for rows.Next() {
		bp, err := scanBlueprint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, bp)
	}
	return res, rows.Err()
}

// BlueprintExistsByTitle reports whether any blueprint already carries the
// title. The discovery scan uses it to keep re-runs from duplicating rows.
func (r Repo) BlueprintExistsByTitle(ctx context.Context, title string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM blueprints WHERE title=?`, title).Scan(&n)
	return n > 0, err
}

// SelectBlueprintsForExpansion returns new/approved blueprints oldest first.
// Only these statuses are eligible, which makes re-running the pipeline on an
// already-active blueprint a no-op by construction.
func (r Repo) SelectBlueprintsForExpansion(ctx context.Context, limit int) ([]domain.Blueprint, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+blueprintCols+` FROM blueprints WHERE status IN (?,?) ORDER BY id ASC LIMIT ?`,
		domain.BlueprintNew, domain.BlueprintApproved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Blueprint
	for rows.Next() {
		bp, err := scanBlueprint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, bp)
	}
	return res, rows.Err()
}

// ActivateBlueprintTx flips a new/approved blueprint to active. Returns false
// when the row was gone or already past those statuses.
func (r Repo) ActivateBlueprintTx(ctx context.Context, tx *sql.Tx, id int64, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE blueprints SET status=?, updated_at=? WHERE id=? AND status IN (?,?)`,
		domain.BlueprintActive, updatedAt, id, domain.BlueprintNew, domain.BlueprintApproved)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateBlueprintStatus applies an explicit review transition (approve,
// reject, archive). Allowed moves are new->approved/rejected and
// active->archived.
func (r Repo) UpdateBlueprintStatus(ctx context.Context, id int64, status, updatedAt string) error {
	var from []string
	switch status {
	case domain.BlueprintApproved, domain.BlueprintRejected:
		from = []string{domain.BlueprintNew}
	case domain.BlueprintArchived:
		from = []string{domain.BlueprintActive}
	default:
		return errors.New("invalid blueprint status transition")
	}
	placeholders := strings.Repeat(",?", len(from))[1:]
	args := []any{status, updatedAt, id}
	for _, s := range from {
		args = append(args, s)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE blueprints SET status=?, updated_at=? WHERE id=? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalStrategy(st *domain.Strategy) (any, error) {
	if st == nil {
		return nil, nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return string(b), nil
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
