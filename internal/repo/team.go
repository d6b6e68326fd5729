package repo

import (
	"context"
	"database/sql"

	"studioflow/internal/domain"
)

const teamMemberCols = `id,name,role,email,placeholder,created_at`

func (r Repo) InsertTeamMember(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO team_members(`+teamMemberCols+`) VALUES (?,?,?,?,?,?)`,
		m.ID, m.Name, m.Role, nullable(m.Email), boolInt(m.Placeholder), m.CreatedAt)
	return err
}

func scanTeamMember(scan func(...any) error) (domain.TeamMember, error) {
	var m domain.TeamMember
	var email sql.NullString
	var placeholder int
	err := scan(&m.ID, &m.Name, &m.Role, &email, &placeholder, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if email.Valid {
		m.Email = email.String
	}
	m.Placeholder = placeholder != 0
	return m, err
}

func (r Repo) GetTeamMember(ctx context.Context, id string) (domain.TeamMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+teamMemberCols+` FROM team_members WHERE id=?`, id)
	return scanTeamMember(row.Scan)
}

func (r Repo) ListTeamMembers(ctx context.Context) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+teamMemberCols+` FROM team_members ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		m, err := scanTeamMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// FirstMemberWithRole returns the earliest-created member whose role contains
// the given fragment, case-insensitively.
func (r Repo) FirstMemberWithRole(ctx context.Context, roleFragment string) (domain.TeamMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+teamMemberCols+` FROM team_members WHERE instr(lower(role), lower(?)) > 0 ORDER BY created_at ASC LIMIT 1`, roleFragment)
	return scanTeamMember(row.Scan)
}

func (r Repo) DeleteTeamMember(ctx context.Context, tx *sql.Tx, id string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `DELETE FROM team_members WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
