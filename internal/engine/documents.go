package engine

import (
	"context"
	"errors"
	"fmt"

	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/repo"
)

var documentCategories = []string{"contract", "drawing", "specification", "invoice", "presentation", "report", "other"}

// DocumentCreateOptions are parameters for registering a document.
type DocumentCreateOptions struct {
	ID                     string
	ProjectID              string
	Stage                  string
	Title                  string
	Category               string
	RequiredForProgression bool
	Tags                   []string
	ActorID                string
}

func (e Engine) CreateDocument(ctx context.Context, opts DocumentCreateOptions) (domain.Document, error) {
	if opts.Title == "" {
		return domain.Document{}, errors.New("title is required")
	}
	if opts.Stage == "" {
		return domain.Document{}, errors.New("stage is required")
	}
	if opts.Category == "" {
		opts.Category = "other"
	}
	valid := false
	for _, c := range documentCategories {
		if c == opts.Category {
			valid = true
			break
		}
	}
	if !valid {
		return domain.Document{}, fmt.Errorf("unknown document category %q", opts.Category)
	}
	if _, err := e.Repo.GetStageByName(ctx, opts.ProjectID, opts.Stage); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Document{}, fmt.Errorf("stage %q not in project %s", opts.Stage, opts.ProjectID)
		}
		return domain.Document{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	d := domain.Document{
		ID:                     id,
		ProjectID:              opts.ProjectID,
		Stage:                  opts.Stage,
		Title:                  opts.Title,
		Category:               opts.Category,
		Status:                 e.defaultStatusValue(ctx, "document", "draft"),
		RequiredForProgression: opts.RequiredForProgression,
		Tags:                   opts.Tags,
		UploadedBy:             opts.ActorID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.create", d.ProjectID, "document", d.ID, opts.ActorID, events.EventPayload{
		"title":    d.Title,
		"stage":    d.Stage,
		"category": d.Category,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	e.autoApplyForDocument(ctx, d, opts.ActorID)
	return d, nil
}

// DocumentUpdateOptions carries optional document field changes.
type DocumentUpdateOptions struct {
	Title                  *string
	Category               *string
	Status                 *string
	RequiredForProgression *bool
	Tags                   *[]string
	Force                  bool
	ActorID                string
}

func (e Engine) UpdateDocument(ctx context.Context, documentID string, opts DocumentUpdateOptions) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return d, err
	}
	statusChanged := false
	if opts.Status != nil && *opts.Status != d.Status {
		if err := e.ensureStatusTransition(ctx, "document", d.Status, *opts.Status, opts.Force); err != nil {
			return d, err
		}
		d.Status = *opts.Status
		statusChanged = true
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return d, errors.New("title cannot be empty")
		}
		d.Title = *opts.Title
	}
	if opts.Category != nil {
		d.Category = *opts.Category
	}
	if opts.RequiredForProgression != nil {
		d.RequiredForProgression = *opts.RequiredForProgression
	}
	if opts.Tags != nil {
		d.Tags = *opts.Tags
	}
	d.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDocument(ctx, tx, d); err != nil {
		return d, err
	}
	evtType := "document.update"
	if statusChanged {
		evtType = "document.status"
	}
	if err := e.Events.Append(ctx, tx, evtType, d.ProjectID, "document", d.ID, opts.ActorID, events.EventPayload{
		"status": d.Status,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	e.autoApplyForDocument(ctx, d, opts.ActorID)
	return d, nil
}

func (e Engine) DeleteDocument(ctx context.Context, documentID, actorID string) error {
	d, err := e.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDocument(ctx, tx, documentID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "document.delete", d.ProjectID, "document", d.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// StageFileCreateOptions registers an expected deliverable for a stage.
type StageFileCreateOptions struct {
	ID          string
	ProjectID   string
	Stage       string
	Name        string
	Description string
	Required    bool
	ActorID     string
}

func (e Engine) CreateStageFile(ctx context.Context, opts StageFileCreateOptions) (domain.StageFile, error) {
	if opts.Name == "" {
		return domain.StageFile{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetStageByName(ctx, opts.ProjectID, opts.Stage); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.StageFile{}, fmt.Errorf("stage %q not in project %s", opts.Stage, opts.ProjectID)
		}
		return domain.StageFile{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	f := domain.StageFile{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Stage:       opts.Stage,
		Name:        opts.Name,
		Description: opts.Description,
		Required:    opts.Required,
		Status:      e.defaultStatusValue(ctx, "file", "pending"),
		CreatedAt:   e.nowRFC3339(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStageFile(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "file.create", f.ProjectID, "file", f.ID, opts.ActorID, events.EventPayload{
		"name":  f.Name,
		"stage": f.Stage,
	}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

// MarkFileReceived records that an expected deliverable arrived.
func (e Engine) MarkFileReceived(ctx context.Context, fileID, actorID string) (domain.StageFile, error) {
	return e.setFileStatus(ctx, fileID, "received", actorID)
}

func (e Engine) SetFileStatus(ctx context.Context, fileID, status, actorID string) (domain.StageFile, error) {
	return e.setFileStatus(ctx, fileID, status, actorID)
}

func (e Engine) setFileStatus(ctx context.Context, fileID, status, actorID string) (domain.StageFile, error) {
	f, err := e.Repo.GetStageFile(ctx, fileID)
	if err != nil {
		return f, err
	}
	if status == f.Status {
		return f, nil
	}
	if err := e.ensureStatusTransition(ctx, "file", f.Status, status, false); err != nil {
		return f, err
	}
	var receivedAt *string
	if status == "received" {
		now := e.nowRFC3339()
		receivedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStageFileStatus(ctx, tx, fileID, status, receivedAt); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "file.status", f.ProjectID, "file", f.ID, actorID, events.EventPayload{
		"status": status,
	}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return e.Repo.GetStageFile(ctx, fileID)
}

// IssueCreateOptions are parameters for reporting an issue.
type IssueCreateOptions struct {
	ID          string
	ProjectID   string
	Stage       string
	Title       string
	Description string
	Priority    string
	ActorID     string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if opts.Title == "" {
		return domain.Issue{}, errors.New("title is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Issue{}, err
	}
	if opts.Stage != "" {
		if _, err := e.Repo.GetStageByName(ctx, opts.ProjectID, opts.Stage); err != nil {
			return domain.Issue{}, fmt.Errorf("stage %q not in project %s", opts.Stage, opts.ProjectID)
		}
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	i := domain.Issue{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Stage:       opts.Stage,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      e.defaultStatusValue(ctx, "issue", "open"),
		Priority:    opts.Priority,
		ReportedBy:  opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return i, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIssue(ctx, tx, i); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, tx, "issue.create", i.ProjectID, "issue", i.ID, opts.ActorID, events.EventPayload{
		"title": i.Title,
		"stage": i.Stage,
	}); err != nil {
		return i, err
	}
	if err := tx.Commit(); err != nil {
		return i, err
	}
	return i, nil
}

// IssueUpdateOptions carries optional issue field changes.
type IssueUpdateOptions struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	Force       bool
	ActorID     string
}

func (e Engine) UpdateIssue(ctx context.Context, issueID string, opts IssueUpdateOptions) (domain.Issue, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return i, err
	}
	statusChanged := false
	if opts.Status != nil && *opts.Status != i.Status {
		if err := e.ensureStatusTransition(ctx, "issue", i.Status, *opts.Status, opts.Force); err != nil {
			return i, err
		}
		i.Status = *opts.Status
		statusChanged = true
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return i, errors.New("title cannot be empty")
		}
		i.Title = *opts.Title
	}
	if opts.Description != nil {
		i.Description = *opts.Description
	}
	if opts.Priority != nil {
		i.Priority = *opts.Priority
	}
	i.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return i, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIssue(ctx, tx, i); err != nil {
		return i, err
	}
	evtType := "issue.update"
	if statusChanged {
		evtType = "issue.status"
	}
	if err := e.Events.Append(ctx, tx, evtType, i.ProjectID, "issue", i.ID, opts.ActorID, events.EventPayload{
		"status": i.Status,
	}); err != nil {
		return i, err
	}
	if err := tx.Commit(); err != nil {
		return i, err
	}
	return i, nil
}
