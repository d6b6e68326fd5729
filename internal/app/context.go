package app

import (
	"context"
	"errors"
	"fmt"

	"studioflow/internal/config"
	"studioflow/internal/engine"
	"studioflow/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project and
// stored config exist, seeding defaults if missing. It prefers the override,
// then the single project in the workspace. A missing project is created on
// the fly so the first CLI command works against a fresh database.
func ResolveProjectAndConfig(ctx context.Context, e engine.Engine, projectOverride, actorID string) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := e.Repo.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = p.ID
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := e.InitProject(ctx, engine.ProjectCreateOptions{
			ID:      projectID,
			Name:    projectID,
			ActorID: actorID,
		}); err != nil {
			return "", nil, fmt.Errorf("create project: %w", err)
		}
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(projectID)
		if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
