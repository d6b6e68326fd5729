package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"studioflow/internal/domain"
)

const ruleCols = `id,name,description,scope,project_id,entity_type,criteria_json,configs_json,enabled,auto_apply,created_at,updated_at`

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.ApprovalRule) error {
	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return err
	}
	configs, err := json.Marshal(rule.Configs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO approval_rules(`+ruleCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.Name, nullable(rule.Description), rule.Scope, nullableStringPtr(rule.ProjectID),
		rule.EntityType, string(criteria), string(configs), boolInt(rule.Enabled), boolInt(rule.AutoApply),
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

func scanRule(scan func(...any) error) (domain.ApprovalRule, error) {
	var rule domain.ApprovalRule
	var desc, projectID sql.NullString
	var criteria, configs string
	var enabled, autoApply int
	err := scan(&rule.ID, &rule.Name, &desc, &rule.Scope, &projectID, &rule.EntityType, &criteria, &configs, &enabled, &autoApply, &rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	if err != nil {
		return rule, err
	}
	if desc.Valid {
		rule.Description = desc.String
	}
	if projectID.Valid {
		rule.ProjectID = &projectID.String
	}
	if err := json.Unmarshal([]byte(criteria), &rule.Criteria); err != nil {
		return rule, fmt.Errorf("rule %s criteria: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(configs), &rule.Configs); err != nil {
		return rule, fmt.Errorf("rule %s configs: %w", rule.ID, err)
	}
	rule.Enabled = enabled != 0
	rule.AutoApply = autoApply != 0
	return rule, nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.ApprovalRule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM approval_rules WHERE id=?`, id)
	return scanRule(row.Scan)
}

type RuleFilter struct {
	ProjectID   string
	EntityType  string
	EnabledOnly bool
	// GlobalToo includes global-scope rules alongside the project's own.
	GlobalToo bool
}

func (r Repo) ListRules(ctx context.Context, f RuleFilter) ([]domain.ApprovalRule, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		if f.GlobalToo {
			clauses = append(clauses, "(scope='global' OR project_id=?)")
		} else {
			clauses = append(clauses, "project_id=?")
		}
		args = append(args, f.ProjectID)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EnabledOnly {
		clauses = append(clauses, "enabled=1")
	}
	query := fmt.Sprintf(`SELECT `+ruleCols+` FROM approval_rules WHERE %s ORDER BY created_at ASC`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, rule domain.ApprovalRule) error {
	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return err
	}
	configs, err := json.Marshal(rule.Configs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE approval_rules SET name=?, description=?, entity_type=?, criteria_json=?, configs_json=?, enabled=?, auto_apply=?, updated_at=? WHERE id=?`,
		rule.Name, nullable(rule.Description), rule.EntityType, string(criteria), string(configs),
		boolInt(rule.Enabled), boolInt(rule.AutoApply), rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM approval_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
