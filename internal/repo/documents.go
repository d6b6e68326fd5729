package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"studioflow/internal/domain"
)

const documentCols = `id,project_id,stage,title,category,status,required_for_progression,tags_json,uploaded_by,created_at,updated_at`

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	tags, err := marshalStrings(d.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents(`+documentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Stage, d.Title, d.Category, d.Status, boolInt(d.RequiredForProgression),
		tags, nullable(d.UploadedBy), d.CreatedAt, d.UpdatedAt)
	return err
}

func scanDocument(scan func(...any) error) (domain.Document, error) {
	var d domain.Document
	var required int
	var tags, uploadedBy sql.NullString
	err := scan(&d.ID, &d.ProjectID, &d.Stage, &d.Title, &d.Category, &d.Status, &required, &tags, &uploadedBy, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.RequiredForProgression = required != 0
	d.Tags = unmarshalStrings(tags)
	if uploadedBy.Valid {
		d.UploadedBy = uploadedBy.String
	}
	return d, err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) ListDocuments(ctx context.Context, projectID, stage, category string) ([]domain.Document, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, stage)
	}
	if category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, category)
	}
	query := fmt.Sprintf(`SELECT `+documentCols+` FROM documents WHERE %s ORDER BY created_at ASC`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	tags, err := marshalStrings(d.Tags)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET stage=?, title=?, category=?, status=?, required_for_progression=?, tags_json=?, updated_at=? WHERE id=?`,
		d.Stage, d.Title, d.Category, d.Status, boolInt(d.RequiredForProgression), tags, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDocument(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const stageFileCols = `id,project_id,stage,name,description,required,status,received_at,created_at`

func (r Repo) InsertStageFile(ctx context.Context, tx *sql.Tx, f domain.StageFile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_files(`+stageFileCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		f.ID, f.ProjectID, f.Stage, f.Name, nullable(f.Description), boolInt(f.Required), f.Status,
		nullableStringPtr(f.ReceivedAt), f.CreatedAt)
	return err
}

func scanStageFile(scan func(...any) error) (domain.StageFile, error) {
	var f domain.StageFile
	var required int
	var desc, received sql.NullString
	err := scan(&f.ID, &f.ProjectID, &f.Stage, &f.Name, &desc, &required, &f.Status, &received, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	f.Required = required != 0
	if desc.Valid {
		f.Description = desc.String
	}
	if received.Valid {
		f.ReceivedAt = &received.String
	}
	return f, err
}

func (r Repo) GetStageFile(ctx context.Context, id string) (domain.StageFile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageFileCols+` FROM stage_files WHERE id=?`, id)
	return scanStageFile(row.Scan)
}

func (r Repo) ListStageFiles(ctx context.Context, projectID, stage string) ([]domain.StageFile, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, stage)
	}
	query := fmt.Sprintf(`SELECT `+stageFileCols+` FROM stage_files WHERE %s ORDER BY created_at ASC`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageFile
	for rows.Next() {
		f, err := scanStageFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) UpdateStageFileStatus(ctx context.Context, tx *sql.Tx, id, status string, receivedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE stage_files SET status=?, received_at=COALESCE(?,received_at) WHERE id=?`,
		status, nullableStringPtr(receivedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const issueCols = `id,project_id,stage,title,description,status,priority,reported_by,created_at,updated_at`

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(`+issueCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.ProjectID, nullable(i.Stage), i.Title, nullable(i.Description), i.Status,
		nullable(i.Priority), nullable(i.ReportedBy), i.CreatedAt, i.UpdatedAt)
	return err
}

func scanIssue(scan func(...any) error) (domain.Issue, error) {
	var i domain.Issue
	var stage, desc, prio, reporter sql.NullString
	err := scan(&i.ID, &i.ProjectID, &stage, &i.Title, &desc, &i.Status, &prio, &reporter, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if stage.Valid {
		i.Stage = stage.String
	}
	if desc.Valid {
		i.Description = desc.String
	}
	if prio.Valid {
		i.Priority = prio.String
	}
	if reporter.Valid {
		i.ReportedBy = reporter.String
	}
	return i, err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+issueCols+` FROM issues WHERE id=?`, id)
	return scanIssue(row.Scan)
}

func (r Repo) ListIssues(ctx context.Context, projectID, stage, status string) ([]domain.Issue, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, stage)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := fmt.Sprintf(`SELECT `+issueCols+` FROM issues WHERE %s ORDER BY created_at ASC`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET stage=?, title=?, description=?, status=?, priority=?, updated_at=? WHERE id=?`,
		nullable(i.Stage), i.Title, nullable(i.Description), i.Status, nullable(i.Priority), i.UpdatedAt, i.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
