package repo

import (
	"context"
	"database/sql"
	"time"

	"studioflow/internal/domain"
)

const stageCols = `id,project_id,name,position,status,started_at,completed_at,created_at,updated_at`

func (r Repo) InsertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(`+stageCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Position, s.Status, nullableStringPtr(s.StartedAt), nullableStringPtr(s.CompletedAt), s.CreatedAt, s.UpdatedAt)
	return err
}

func scanStage(scan func(...any) error) (domain.Stage, error) {
	var s domain.Stage
	var started, completed sql.NullString
	err := scan(&s.ID, &s.ProjectID, &s.Name, &s.Position, &s.Status, &started, &completed, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if started.Valid {
		s.StartedAt = &started.String
	}
	if completed.Valid {
		s.CompletedAt = &completed.String
	}
	return s, err
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageCols+` FROM stages WHERE id=?`, id)
	return scanStage(row.Scan)
}

func (r Repo) GetStageByName(ctx context.Context, projectID, name string) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageCols+` FROM stages WHERE project_id=? AND name=?`, projectID, name)
	return scanStage(row.Scan)
}

func (r Repo) ListStages(ctx context.Context, projectID string) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stageCols+` FROM stages WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		s, err := scanStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateStageStatus(ctx context.Context, tx *sql.Tx, id, status string, startedAt, completedAt *string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `UPDATE stages SET status=?, updated_at=?`
	args := []any{status, now}
	if startedAt != nil {
		query += `, started_at=?`
		args = append(args, *startedAt)
	}
	if completedAt != nil {
		query += `, completed_at=?`
		args = append(args, *completedAt)
	}
	query += ` WHERE id=?`
	args = append(args, id)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
