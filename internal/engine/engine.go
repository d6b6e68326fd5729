package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/engine/auth"
	"studioflow/internal/events"
	"studioflow/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	Name        string
	ClientName  string
	Description string
	ActorID     string
}

// InitProject creates a project, its stage sequence, its default status
// vocabulary and its stored config, with migrations already run.
func (e Engine) InitProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(id)
	}
	now := e.nowRFC3339()

	// Status defaults come from any pre-existing vocabulary rows; read them
	// before the transaction starts so they never contend with it.
	projectStatus := e.defaultStatusValue(ctx, "project", "active")
	stageDefault := e.defaultStatusValue(ctx, "stage", "pending")

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          id,
		Name:        opts.Name,
		ClientName:  opts.ClientName,
		Status:      projectStatus,
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}

	stages := cfg.Workflow.Stages
	if len(stages) == 0 {
		stages = domain.StageSequence
	}
	for i, name := range stages {
		s := domain.Stage{
			ID:        newID(),
			ProjectID: p.ID,
			Name:      name,
			Position:  i,
			Status:    stageDefault,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if i == 0 {
			s.Status = "active"
			s.StartedAt = &now
		}
		if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
			return domain.Project{}, fmt.Errorf("insert stage %s: %w", name, err)
		}
	}

	if err := e.seedStatusConfigs(ctx, tx, cfg); err != nil {
		return domain.Project{}, err
	}
	if err := e.seedRBAC(ctx, tx, p.ID, cfg, opts.ActorID, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
		"name":   p.Name,
		"status": p.Status,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// seedStatusConfigs loads the config's status vocabulary into status_configs,
// skipping entity types that already have rows so re-init never clobbers
// customizations.
func (e Engine) seedStatusConfigs(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	for _, entityType := range config.StatusEntityTypes {
		defs := cfg.Statuses[entityType]
		if len(defs) == 0 {
			defs = config.Default(cfg.Project.ID).Statuses[entityType]
		}
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM status_configs WHERE entity_type=?`, entityType).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			continue
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
				return fmt.Errorf("seed status %s/%s: %w", entityType, def.Value, err)
			}
		}
	}
	return nil
}

func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config, actorID, now string) error {
	for roleID, role := range cfg.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	if actorID == "" {
		return nil
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return err
	}
	if _, ok := cfg.RBAC.Roles["admin"]; ok {
		return e.Repo.AssignRole(ctx, tx, projectID, actorID, "admin")
	}
	return nil
}

// ProjectUpdateOptions carries optional project field changes.
type ProjectUpdateOptions struct {
	Name        *string
	ClientName  *string
	Description *string
	Status      string
	Force       bool
	ActorID     string
}

func (e Engine) UpdateProject(ctx context.Context, projectID string, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	if opts.Status != "" && opts.Status != p.Status {
		if err := e.ensureStatusTransition(ctx, "project", p.Status, opts.Status, opts.Force); err != nil {
			return p, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, projectID, opts.Status, opts.Name, opts.ClientName, opts.Description); err != nil {
		return p, err
	}
	payload := events.EventPayload{}
	if opts.Status != "" {
		payload["status"] = opts.Status
	}
	if err := e.Events.Append(ctx, tx, "project.update", projectID, "project", projectID, opts.ActorID, payload); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

// taskStatusKind maps a task to its status vocabulary; subtasks carry
// their own vocabulary distinct from top-level tasks.
func taskStatusKind(t domain.Task) string {
	if t.ParentID != nil {
		return "subtask"
	}
	return "task"
}
