package repo

import (
	"context"
	"database/sql"

	"studioflow/internal/domain"
)

const statusCols = `entity_type,value,label,color,icon,is_default,is_active,position,transitions_json`

func (r Repo) InsertStatusConfig(ctx context.Context, tx *sql.Tx, s domain.StatusConfig) error {
	transitions, err := marshalStrings(s.AllowedTransitions)
	if err != nil {
		return err
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO status_configs(`+statusCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.EntityType, s.Value, s.Label, nullable(s.Color), nullable(s.Icon),
		boolInt(s.IsDefault), boolInt(s.IsActive), s.Position, transitions)
	return err
}

func scanStatusConfig(scan func(...any) error) (domain.StatusConfig, error) {
	var s domain.StatusConfig
	var color, icon, transitions sql.NullString
	var isDefault, isActive int
	err := scan(&s.EntityType, &s.Value, &s.Label, &color, &icon, &isDefault, &isActive, &s.Position, &transitions)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if color.Valid {
		s.Color = color.String
	}
	if icon.Valid {
		s.Icon = icon.String
	}
	s.IsDefault = isDefault != 0
	s.IsActive = isActive != 0
	s.AllowedTransitions = unmarshalStrings(transitions)
	return s, err
}

func (r Repo) GetStatusConfig(ctx context.Context, entityType, value string) (domain.StatusConfig, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+statusCols+` FROM status_configs WHERE entity_type=? AND value=?`, entityType, value)
	return scanStatusConfig(row.Scan)
}

// ListStatusConfigs returns every config for an entity type in display order,
// inactive ones included.
func (r Repo) ListStatusConfigs(ctx context.Context, entityType string) ([]domain.StatusConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+statusCols+` FROM status_configs WHERE entity_type=? ORDER BY position ASC, value ASC`, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusConfig
	for rows.Next() {
		s, err := scanStatusConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateStatusConfig(ctx context.Context, tx *sql.Tx, s domain.StatusConfig) error {
	transitions, err := marshalStrings(s.AllowedTransitions)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE status_configs SET label=?, color=?, icon=?, is_default=?, is_active=?, position=?, transitions_json=? WHERE entity_type=? AND value=?`,
		s.Label, nullable(s.Color), nullable(s.Icon), boolInt(s.IsDefault), boolInt(s.IsActive),
		s.Position, transitions, s.EntityType, s.Value)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteStatusConfig(ctx context.Context, tx *sql.Tx, entityType, value string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM status_configs WHERE entity_type=? AND value=?`, entityType, value)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearDefaultStatus unsets is_default on every config of the entity type.
func (r Repo) ClearDefaultStatus(ctx context.Context, tx *sql.Tx, entityType string) error {
	_, err := tx.ExecContext(ctx, `UPDATE status_configs SET is_default=0 WHERE entity_type=?`, entityType)
	return err
}

// DeleteStatusConfigsFor removes every config of the entity type, used when
// resetting back to defaults.
func (r Repo) DeleteStatusConfigsFor(ctx context.Context, tx *sql.Tx, entityType string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM status_configs WHERE entity_type=?`, entityType)
	return err
}

func (r Repo) SetStatusPosition(ctx context.Context, tx *sql.Tx, entityType, value string, position int) error {
	res, err := tx.ExecContext(ctx, `UPDATE status_configs SET position=? WHERE entity_type=? AND value=?`, position, entityType, value)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
