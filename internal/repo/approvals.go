package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"studioflow/internal/domain"
)

const approvalCols = `id,project_id,source,rule_id,entity_type,entity_id,entity_name,stage,status,current_level,configs_json,requested_by,requested_at,assigned_to,expires_at,decided_at,updated_at`

func (r Repo) InsertApprovalRequest(ctx context.Context, tx *sql.Tx, a domain.ApprovalRequest) error {
	configs, err := json.Marshal(a.Configs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO approval_requests(`+approvalCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.Source, nullableStringPtr(a.RuleID), a.EntityType, a.EntityID,
		nullable(a.EntityName), nullable(a.Stage), a.Status, a.CurrentLevel, string(configs),
		a.RequestedBy, a.RequestedAt, a.AssignedTo, nullableStringPtr(a.ExpiresAt), nullableStringPtr(a.DecidedAt), a.UpdatedAt)
	return err
}

func scanApprovalRequest(scan func(...any) error) (domain.ApprovalRequest, error) {
	var a domain.ApprovalRequest
	var ruleID, entityName, stage, expires, decided sql.NullString
	var configs string
	err := scan(&a.ID, &a.ProjectID, &a.Source, &ruleID, &a.EntityType, &a.EntityID, &entityName, &stage,
		&a.Status, &a.CurrentLevel, &configs, &a.RequestedBy, &a.RequestedAt, &a.AssignedTo, &expires, &decided, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if ruleID.Valid {
		a.RuleID = &ruleID.String
	}
	if entityName.Valid {
		a.EntityName = entityName.String
	}
	if stage.Valid {
		a.Stage = stage.String
	}
	if expires.Valid {
		a.ExpiresAt = &expires.String
	}
	if decided.Valid {
		a.DecidedAt = &decided.String
	}
	if err := json.Unmarshal([]byte(configs), &a.Configs); err != nil {
		return a, fmt.Errorf("request %s configs: %w", a.ID, err)
	}
	return a, nil
}

func (r Repo) GetApprovalRequest(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalCols+` FROM approval_requests WHERE id=?`, id)
	return scanApprovalRequest(row.Scan)
}

type ApprovalFilter struct {
	ProjectID  string
	Status     string
	Stage      string
	EntityType string
	EntityID   string
	AssignedTo string
}

func (r Repo) ListApprovalRequests(ctx context.Context, f ApprovalFilter) ([]domain.ApprovalRequest, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	query := fmt.Sprintf(`SELECT `+approvalCols+` FROM approval_requests WHERE %s ORDER BY requested_at ASC`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalRequest
	for rows.Next() {
		a, err := scanApprovalRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// OpenRequestForRuleEntity finds an undecided request already created by a
// rule for the given entity, so auto-apply never duplicates one.
func (r Repo) OpenRequestForRuleEntity(ctx context.Context, ruleID, entityType, entityID string) (domain.ApprovalRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalCols+` FROM approval_requests WHERE rule_id=? AND entity_type=? AND entity_id=? AND status IN ('pending','delegated') LIMIT 1`,
		ruleID, entityType, entityID)
	return scanApprovalRequest(row.Scan)
}

func (r Repo) UpdateApprovalRequest(ctx context.Context, tx *sql.Tx, a domain.ApprovalRequest) error {
	configs, err := json.Marshal(a.Configs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE approval_requests SET status=?, current_level=?, configs_json=?, assigned_to=?, expires_at=?, decided_at=?, updated_at=? WHERE id=?`,
		a.Status, a.CurrentLevel, string(configs), a.AssignedTo,
		nullableStringPtr(a.ExpiresAt), nullableStringPtr(a.DecidedAt), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
