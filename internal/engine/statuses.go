package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/events"
)

var statusValueRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// defaultStatusValue returns the configured default for an entity type,
// falling back to the first active value and then to the given fallback.
func (e Engine) defaultStatusValue(ctx context.Context, entityType, fallback string) string {
	configs, err := e.Repo.ListStatusConfigs(ctx, entityType)
	if err != nil || len(configs) == 0 {
		// Seeding has not run yet; consult the config vocabulary.
		if e.Config != nil {
			for _, def := range e.Config.Statuses[entityType] {
				if def.Default {
					return def.Value
				}
			}
		}
		for _, def := range config.Default("").Statuses[entityType] {
			if def.Default {
				return def.Value
			}
		}
		return fallback
	}
	var firstActive string
	for _, sc := range configs {
		if !sc.IsActive {
			continue
		}
		if sc.IsDefault {
			return sc.Value
		}
		if firstActive == "" {
			firstActive = sc.Value
		}
	}
	if firstActive != "" {
		return firstActive
	}
	return fallback
}

// ensureStatusTransition validates old -> new against the entity type's
// status configs. The target must exist and be active, and if it restricts
// its sources the old status must be among them. Force bypasses the
// restriction but never an unknown target.
func (e Engine) ensureStatusTransition(ctx context.Context, entityType, oldStatus, newStatus string, force bool) error {
	configs, err := e.Repo.ListStatusConfigs(ctx, entityType)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return nil
	}
	var target *domain.StatusConfig
	for i := range configs {
		if configs[i].Value == newStatus {
			target = &configs[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("unknown %s status %q", entityType, newStatus)
	}
	if !target.IsActive && !force {
		return fmt.Errorf("%s status %q is inactive", entityType, newStatus)
	}
	if force {
		return nil
	}
	if len(target.AllowedTransitions) == 0 {
		return nil
	}
	for _, from := range target.AllowedTransitions {
		if from == oldStatus {
			return nil
		}
	}
	return fmt.Errorf("invalid %s status transition %s -> %s", entityType, oldStatus, newStatus)
}

// ActiveStatuses lists active status configs for an entity type in display order.
func (e Engine) ActiveStatuses(ctx context.Context, entityType string) ([]domain.StatusConfig, error) {
	configs, err := e.Repo.ListStatusConfigs(ctx, entityType)
	if err != nil {
		return nil, err
	}
	var res []domain.StatusConfig
	for _, sc := range configs {
		if sc.IsActive {
			res = append(res, sc)
		}
	}
	return res, nil
}

func (e Engine) ListStatuses(ctx context.Context, entityType string) ([]domain.StatusConfig, error) {
	return e.Repo.ListStatusConfigs(ctx, entityType)
}

// AllowedTargets reports which active statuses an entity currently in
// fromStatus may move to. A target with no source restriction is always
// allowed.
func (e Engine) AllowedTargets(ctx context.Context, entityType, fromStatus string) ([]domain.StatusConfig, error) {
	configs, err := e.ActiveStatuses(ctx, entityType)
	if err != nil {
		return nil, err
	}
	var res []domain.StatusConfig
	for _, sc := range configs {
		if len(sc.AllowedTransitions) == 0 {
			res = append(res, sc)
			continue
		}
		for _, from := range sc.AllowedTransitions {
			if from == fromStatus {
				res = append(res, sc)
				break
			}
		}
	}
	return res, nil
}

func validateStatusConfig(s domain.StatusConfig) error {
	if s.EntityType == "" {
		return errors.New("entity_type is required")
	}
	known := false
	for _, t := range config.StatusEntityTypes {
		if t == s.EntityType {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown entity type %q", s.EntityType)
	}
	if !statusValueRe.MatchString(s.Value) {
		return fmt.Errorf("status value %q must be lowercase-kebab", s.Value)
	}
	if s.Label == "" {
		return errors.New("label is required")
	}
	return nil
}

func (e Engine) CreateStatus(ctx context.Context, s domain.StatusConfig, actorID string) (domain.StatusConfig, error) {
	if err := validateStatusConfig(s); err != nil {
		return s, err
	}
	existing, err := e.Repo.ListStatusConfigs(ctx, s.EntityType)
	if err != nil {
		return s, err
	}
	for _, sc := range existing {
		if sc.Value == s.Value {
			return s, fmt.Errorf("status %s/%s already exists", s.EntityType, s.Value)
		}
	}
	s.IsActive = true
	s.Position = len(existing)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if s.IsDefault {
		if err := e.Repo.ClearDefaultStatus(ctx, tx, s.EntityType); err != nil {
			return s, err
		}
	}
	if err := e.Repo.InsertStatusConfig(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "status.create", "", "status", s.EntityType+"/"+s.Value, actorID, events.EventPayload{
		"entity_type": s.EntityType,
		"value":       s.Value,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// StatusUpdateOptions carries optional status config field changes.
type StatusUpdateOptions struct {
	Label              *string
	Color              *string
	Icon               *string
	IsDefault          *bool
	IsActive           *bool
	AllowedTransitions *[]string
	ActorID            string
}

func (e Engine) UpdateStatus(ctx context.Context, entityType, value string, opts StatusUpdateOptions) (domain.StatusConfig, error) {
	s, err := e.Repo.GetStatusConfig(ctx, entityType, value)
	if err != nil {
		return s, err
	}
	if opts.Label != nil {
		s.Label = *opts.Label
	}
	if opts.Color != nil {
		s.Color = *opts.Color
	}
	if opts.Icon != nil {
		s.Icon = *opts.Icon
	}
	if opts.IsDefault != nil {
		s.IsDefault = *opts.IsDefault
	}
	if opts.IsActive != nil {
		s.IsActive = *opts.IsActive
	}
	if opts.AllowedTransitions != nil {
		s.AllowedTransitions = *opts.AllowedTransitions
	}
	if err := validateStatusConfig(s); err != nil {
		return s, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if opts.IsDefault != nil && *opts.IsDefault {
		if err := e.Repo.ClearDefaultStatus(ctx, tx, entityType); err != nil {
			return s, err
		}
	}
	if err := e.Repo.UpdateStatusConfig(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "status.update", "", "status", entityType+"/"+value, opts.ActorID, nil); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// DeleteStatus removes a status config. Deletion is blocked while any entity
// of that type still carries the value; deactivate instead to retire a status
// without orphaning rows.
func (e Engine) DeleteStatus(ctx context.Context, entityType, value, actorID string) error {
	if _, err := e.Repo.GetStatusConfig(ctx, entityType, value); err != nil {
		return err
	}
	inUse, err := e.Repo.StatusInUse(ctx, entityType, value)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("status %s/%s is in use; deactivate it instead", entityType, value)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteStatusConfig(ctx, tx, entityType, value); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "status.delete", "", "status", entityType+"/"+value, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderStatuses rewrites each config's position to its index in values.
// The list must be a total permutation of the entity type's current values.
func (e Engine) ReorderStatuses(ctx context.Context, entityType string, values []string, actorID string) ([]domain.StatusConfig, error) {
	existing, err := e.Repo.ListStatusConfigs(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if len(values) != len(existing) {
		return nil, fmt.Errorf("reorder list has %d values, expected %d", len(values), len(existing))
	}
	current := map[string]bool{}
	for _, sc := range existing {
		current[sc.Value] = true
	}
	seen := map[string]bool{}
	for _, v := range values {
		if !current[v] {
			return nil, fmt.Errorf("unknown status value %q", v)
		}
		if seen[v] {
			return nil, fmt.Errorf("status value %q repeated", v)
		}
		seen[v] = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for i, v := range values {
		if err := e.Repo.SetStatusPosition(ctx, tx, entityType, v, i); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "status.reorder", "", "status", entityType, actorID, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListStatusConfigs(ctx, entityType)
}

// ResetStatuses replaces an entity type's configs with the config file's
// vocabulary, or the built-in defaults when the config omits one.
func (e Engine) ResetStatuses(ctx context.Context, entityType, actorID string) ([]domain.StatusConfig, error) {
	var defs []config.StatusDef
	if e.Config != nil {
		defs = e.Config.Statuses[entityType]
	}
	if len(defs) == 0 {
		defs = config.Default("").Statuses[entityType]
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no default statuses for entity type %q", entityType)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteStatusConfigsFor(ctx, tx, entityType); err != nil {
		return nil, err
	}
	for i, def := range defs {
		sc := domain.StatusConfig{
			EntityType:         entityType,
			Value:              def.Value,
			Label:              def.Label,
			Color:              def.Color,
			Icon:               def.Icon,
			IsDefault:          def.Default,
			IsActive:           true,
			Position:           i,
			AllowedTransitions: def.Transitions,
		}
		if sc.Label == "" {
			sc.Label = sc.Value
		}
		if err := e.Repo.InsertStatusConfig(ctx, tx, sc); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "status.reset", "", "status", entityType, actorID, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListStatusConfigs(ctx, entityType)
}
