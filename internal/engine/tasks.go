package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/repo"
)

// TaskCreateOptions are parameters for creating a task or subtask.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Stage       string
	ParentID    string
	Title       string
	Description string
	Priority    string
	AssigneeID  string
	Tags        []string
	DueDate     string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	if opts.Stage != "" {
		if _, err := e.Repo.GetStageByName(ctx, opts.ProjectID, opts.Stage); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Task{}, fmt.Errorf("stage %q not in project %s", opts.Stage, opts.ProjectID)
			}
			return domain.Task{}, err
		}
	}
	var parentID *string
	if opts.ParentID != "" {
		parent, err := e.Repo.GetTask(ctx, opts.ParentID)
		if err != nil {
			return domain.Task{}, err
		}
		if parent.ProjectID != opts.ProjectID {
			return domain.Task{}, errors.New("parent in different project")
		}
		if parent.ParentID != nil {
			return domain.Task{}, errors.New("subtasks cannot nest")
		}
		parentID = &opts.ParentID
		if opts.Stage == "" {
			opts.Stage = parent.Stage
		}
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Stage:       opts.Stage,
		ParentID:    parentID,
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		Tags:        opts.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.Status = e.defaultStatusValue(ctx, taskStatusKind(t), "todo")
	if opts.AssigneeID != "" {
		t.AssigneeID = &opts.AssigneeID
	}
	if opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
			return domain.Task{}, fmt.Errorf("due-date: %w", err)
		}
		t.DueDate = &opts.DueDate
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.create", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":  t.Title,
		"stage":  t.Stage,
		"status": t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.autoApplyForTask(ctx, t, opts.ActorID)
	return t, nil
}

// TaskUpdateOptions carries optional task field changes. A nil field is left
// untouched.
type TaskUpdateOptions struct {
	Title       *string
	Description *string
	Stage       *string
	Status      *string
	Priority    *string
	AssigneeID  *string
	Tags        *[]string
	DueDate     *string
	Force       bool
	ActorID     string
}

func (e Engine) UpdateTask(ctx context.Context, taskID string, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	statusChanged := false
	if opts.Status != nil && *opts.Status != t.Status {
		if err := e.ensureStatusTransition(ctx, taskStatusKind(t), t.Status, *opts.Status, opts.Force); err != nil {
			return t, err
		}
		t.Status = *opts.Status
		statusChanged = true
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, errors.New("title cannot be empty")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Stage != nil {
		if *opts.Stage != "" {
			if _, err := e.Repo.GetStageByName(ctx, t.ProjectID, *opts.Stage); err != nil {
				return t, fmt.Errorf("stage %q not in project %s", *opts.Stage, t.ProjectID)
			}
		}
		t.Stage = *opts.Stage
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	if opts.AssigneeID != nil {
		if *opts.AssigneeID == "" {
			t.AssigneeID = nil
		} else {
			t.AssigneeID = opts.AssigneeID
		}
	}
	if opts.Tags != nil {
		t.Tags = *opts.Tags
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.DueDate); err != nil {
				return t, fmt.Errorf("due-date: %w", err)
			}
			t.DueDate = opts.DueDate
		}
	}
	now := e.nowRFC3339()
	t.UpdatedAt = now
	if statusChanged && isDoneStatus(t.Status) {
		t.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	evtType := "task.update"
	if statusChanged {
		evtType = "task.status"
	}
	if err := e.Events.Append(ctx, tx, evtType, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"status": t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.autoApplyForTask(ctx, t, opts.ActorID)
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.delete", t.ProjectID, "task", t.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// isDoneStatus reports whether the value marks work as finished. Only the
// conventional terminal values count; a status's position in the vocabulary
// says nothing about whether work is done.
func isDoneStatus(value string) bool {
	return value == "completed" || value == "done"
}

// StageProgress computes per-stage task completion for a project. Derived on
// read, never stored.
func (e Engine) StageProgress(ctx context.Context, projectID string) ([]domain.StageProgress, error) {
	stages, err := e.Repo.ListStages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilter{ProjectID: projectID, TopLevel: true})
	if err != nil {
		return nil, err
	}
	byStage := map[string]*domain.StageProgress{}
	var res []domain.StageProgress
	for _, s := range stages {
		byStage[s.Name] = &domain.StageProgress{Stage: s.Name}
	}
	for _, t := range tasks {
		p, ok := byStage[t.Stage]
		if !ok {
			continue
		}
		p.TasksTotal++
		if isDoneStatus(t.Status) {
			p.TasksComplete++
		}
	}
	for _, s := range stages {
		p := byStage[s.Name]
		if p.TasksTotal > 0 {
			p.PercentComplete = p.TasksComplete * 100 / p.TasksTotal
		}
		res = append(res, *p)
	}
	return res, nil
}
