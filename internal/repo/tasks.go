package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"studioflow/internal/domain"
)

const taskCols = `id,project_id,stage,parent_id,title,description,status,priority,assignee_id,tags_json,due_date,created_at,updated_at,completed_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	tags, err := marshalStrings(t.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullable(t.Stage), nullableStringPtr(t.ParentID), t.Title, nullable(t.Description),
		t.Status, nullable(t.Priority), nullableStringPtr(t.AssigneeID), tags, nullableStringPtr(t.DueDate),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var stage, parent, desc, prio, assignee, tags, due, completed sql.NullString
	err := scan(&t.ID, &t.ProjectID, &stage, &parent, &t.Title, &desc, &t.Status, &prio, &assignee, &tags, &due, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if stage.Valid {
		t.Stage = stage.String
	}
	if parent.Valid {
		t.ParentID = &parent.String
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if prio.Valid {
		t.Priority = prio.String
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	t.Tags = unmarshalStrings(tags)
	if due.Valid {
		t.DueDate = &due.String
	}
	if completed.Valid {
		t.CompletedAt = &completed.String
	}
	return t, err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilter struct {
	ProjectID string
	Stage     string
	Status    string
	Assignee  string
	ParentID  string
	// TopLevel keeps only tasks without a parent.
	TopLevel bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.Assignee)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	} else if f.TopLevel {
		clauses = append(clauses, "parent_id IS NULL")
	}
	query := fmt.Sprintf(`SELECT `+taskCols+` FROM tasks WHERE %s ORDER BY created_at ASC`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	tags, err := marshalStrings(t.Tags)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET stage=?, title=?, description=?, status=?, priority=?, assignee_id=?, tags_json=?, due_date=?, updated_at=?, completed_at=? WHERE id=?`,
		nullable(t.Stage), t.Title, nullable(t.Description), t.Status, nullable(t.Priority),
		nullableStringPtr(t.AssigneeID), tags, nullableStringPtr(t.DueDate), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=? OR parent_id=?`, id, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSubtasks reports open and total subtask counts for a parent task.
func (r Repo) CountSubtasks(ctx context.Context, parentID string, doneStatuses []string) (open, total int, err error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status FROM tasks WHERE parent_id=?`, parentID)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	done := make(map[string]bool, len(doneStatuses))
	for _, s := range doneStatuses {
		done[s] = true
	}
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, 0, err
		}
		total++
		if !done[status] {
			open++
		}
	}
	return open, total, rows.Err()
}

// StatusInUse reports whether any row of the given entity type currently
// carries the status value. Used to block status config deletion.
func (r Repo) StatusInUse(ctx context.Context, entityType, value string) (bool, error) {
	var query string
	switch entityType {
	case "task":
		query = `SELECT COUNT(1) FROM tasks WHERE status=? AND parent_id IS NULL`
	case "subtask":
		query = `SELECT COUNT(1) FROM tasks WHERE status=? AND parent_id IS NOT NULL`
	case "issue":
		query = `SELECT COUNT(1) FROM issues WHERE status=?`
	case "stage":
		query = `SELECT COUNT(1) FROM stages WHERE status=?`
	case "document":
		query = `SELECT COUNT(1) FROM documents WHERE status=?`
	case "file":
		query = `SELECT COUNT(1) FROM stage_files WHERE status=?`
	case "project":
		query = `SELECT COUNT(1) FROM projects WHERE status=?`
	default:
		return false, fmt.Errorf("unknown entity type %q", entityType)
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, query, value).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
