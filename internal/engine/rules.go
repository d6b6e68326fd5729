package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/repo"
	"studioflow/internal/rules"
)

var ruleEntityTypes = []string{"task", "document", "stage"}

// RuleCreateOptions are parameters for creating an approval rule.
type RuleCreateOptions struct {
	ID          string
	Name        string
	Description string
	Scope       string
	ProjectID   string
	EntityType  string
	Criteria    domain.MatchCriteria
	Configs     []domain.ApprovalConfig
	Enabled     *bool
	AutoApply   bool
	ActorID     string
}

func (e Engine) validateRule(r domain.ApprovalRule) error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.Scope != "global" && r.Scope != "project" {
		return fmt.Errorf("scope must be global or project, got %q", r.Scope)
	}
	if r.Scope == "project" && (r.ProjectID == nil || *r.ProjectID == "") {
		return errors.New("project scope requires a project")
	}
	valid := false
	for _, t := range ruleEntityTypes {
		if t == r.EntityType {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown rule entity type %q", r.EntityType)
	}
	requireCriteria := true
	if e.Config != nil {
		requireCriteria = e.Config.Approvals.RequireCriteria
	}
	if requireCriteria && rules.IsEmpty(r.Criteria) {
		return errors.New("criteria must restrict at least one dimension; a criteria-less rule would match everything")
	}
	if len(r.Configs) == 0 {
		return errors.New("at least one approval config is required")
	}
	for i, cfg := range r.Configs {
		switch cfg.ApproverType {
		case domain.ApproverDepartmentHead, domain.ApproverProjectManager, domain.ApproverAdmin, domain.ApproverClient, domain.ApproverExternal:
		case domain.ApproverSpecificUser:
			if cfg.ApproverUserID == "" {
				return fmt.Errorf("config %d: specific-user requires approver_user_id", i)
			}
		default:
			return fmt.Errorf("config %d: unknown approver type %q", i, cfg.ApproverType)
		}
		if cfg.ExpiryDays != nil && *cfg.ExpiryDays <= 0 {
			return fmt.Errorf("config %d: expiry_days must be positive", i)
		}
	}
	return nil
}

func (e Engine) CreateRule(ctx context.Context, opts RuleCreateOptions) (domain.ApprovalRule, error) {
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	r := domain.ApprovalRule{
		ID:          id,
		Name:        opts.Name,
		Description: opts.Description,
		Scope:       opts.Scope,
		EntityType:  opts.EntityType,
		Criteria:    opts.Criteria,
		Configs:     opts.Configs,
		Enabled:     true,
		AutoApply:   opts.AutoApply,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Scope == "" {
		r.Scope = "project"
	}
	if opts.ProjectID != "" {
		r.ProjectID = &opts.ProjectID
	}
	if opts.Enabled != nil {
		r.Enabled = *opts.Enabled
	}
	if err := e.validateRule(r); err != nil {
		return r, err
	}
	if r.ProjectID != nil {
		if _, err := e.Repo.GetProject(ctx, *r.ProjectID); err != nil {
			return r, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return r, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, r); err != nil {
		return r, err
	}
	projectID := ""
	if r.ProjectID != nil {
		projectID = *r.ProjectID
	}
	if err := e.Events.Append(ctx, tx, "rule.create", projectID, "rule", r.ID, opts.ActorID, events.EventPayload{
		"name":        r.Name,
		"entity_type": r.EntityType,
		"scope":       r.Scope,
	}); err != nil {
		return r, err
	}
	if err := tx.Commit(); err != nil {
		return r, err
	}
	return r, nil
}

// RuleUpdateOptions carries optional rule field changes.
type RuleUpdateOptions struct {
	Name        *string
	Description *string
	EntityType  *string
	Criteria    *domain.MatchCriteria
	Configs     *[]domain.ApprovalConfig
	Enabled     *bool
	AutoApply   *bool
	ActorID     string
}

// UpdateRule edits a rule. In-flight requests keep their config snapshot and
// are never touched.
func (e Engine) UpdateRule(ctx context.Context, ruleID string, opts RuleUpdateOptions) (domain.ApprovalRule, error) {
	r, err := e.Repo.GetRule(ctx, ruleID)
	if err != nil {
		return r, err
	}
	if opts.Name != nil {
		r.Name = *opts.Name
	}
	if opts.Description != nil {
		r.Description = *opts.Description
	}
	if opts.EntityType != nil {
		r.EntityType = *opts.EntityType
	}
	if opts.Criteria != nil {
		r.Criteria = *opts.Criteria
	}
	if opts.Configs != nil {
		r.Configs = *opts.Configs
	}
	if opts.Enabled != nil {
		r.Enabled = *opts.Enabled
	}
	if opts.AutoApply != nil {
		r.AutoApply = *opts.AutoApply
	}
	if err := e.validateRule(r); err != nil {
		return r, err
	}
	r.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return r, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRule(ctx, tx, r); err != nil {
		return r, err
	}
	projectID := ""
	if r.ProjectID != nil {
		projectID = *r.ProjectID
	}
	if err := e.Events.Append(ctx, tx, "rule.update", projectID, "rule", r.ID, opts.ActorID, nil); err != nil {
		return r, err
	}
	if err := tx.Commit(); err != nil {
		return r, err
	}
	return r, nil
}

func (e Engine) DeleteRule(ctx context.Context, ruleID, actorID string) error {
	r, err := e.Repo.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRule(ctx, tx, ruleID); err != nil {
		return err
	}
	projectID := ""
	if r.ProjectID != nil {
		projectID = *r.ProjectID
	}
	if err := e.Events.Append(ctx, tx, "rule.delete", projectID, "rule", r.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func taskMatchEntity(t domain.Task) rules.Entity {
	return rules.Entity{
		Stage:    t.Stage,
		Priority: t.Priority,
		Title:    t.Title,
		Tags:     t.Tags,
	}
}

func documentMatchEntity(d domain.Document) rules.Entity {
	return rules.Entity{
		Stage:    d.Stage,
		Category: d.Category,
		Title:    d.Title,
		Tags:     d.Tags,
	}
}

// MatchingRules returns the enabled rules applying to the entity, global
// scope and the project's own combined.
func (e Engine) MatchingRules(ctx context.Context, projectID, entityType string, entity rules.Entity) ([]domain.ApprovalRule, error) {
	candidates, err := e.Repo.ListRules(ctx, repo.RuleFilter{
		ProjectID:   projectID,
		EntityType:  entityType,
		EnabledOnly: true,
		GlobalToo:   true,
	})
	if err != nil {
		return nil, err
	}
	var matched []domain.ApprovalRule
	for _, r := range candidates {
		if rules.Matches(entity, r.Criteria) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// CountRuleMatches previews how many existing entities a rule's criteria
// would currently match.
func (e Engine) CountRuleMatches(ctx context.Context, projectID string, entityType string, criteria domain.MatchCriteria) (int, error) {
	switch entityType {
	case "task":
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilter{ProjectID: projectID, TopLevel: true})
		if err != nil {
			return 0, err
		}
		entities := make([]rules.Entity, 0, len(tasks))
		for _, t := range tasks {
			entities = append(entities, taskMatchEntity(t))
		}
		return rules.CountMatches(criteria, entities), nil
	case "document":
		docs, err := e.Repo.ListDocuments(ctx, projectID, "", "")
		if err != nil {
			return 0, err
		}
		entities := make([]rules.Entity, 0, len(docs))
		for _, d := range docs {
			entities = append(entities, documentMatchEntity(d))
		}
		return rules.CountMatches(criteria, entities), nil
	case "stage":
		stages, err := e.Repo.ListStages(ctx, projectID)
		if err != nil {
			return 0, err
		}
		entities := make([]rules.Entity, 0, len(stages))
		for _, s := range stages {
			entities = append(entities, rules.Entity{Stage: s.Name, Title: s.Name})
		}
		return rules.CountMatches(criteria, entities), nil
	}
	return 0, fmt.Errorf("unknown rule entity type %q", entityType)
}

// autoApplyForTask evaluates auto-apply rules against a task after a create
// or update commit. Failures are logged, never surfaced; the task mutation
// already succeeded.
func (e Engine) autoApplyForTask(ctx context.Context, t domain.Task, actorID string) {
	if t.ParentID != nil {
		return
	}
	e.autoApply(ctx, t.ProjectID, "task", t.ID, t.Title, t.Stage, taskMatchEntity(t), actorID)
}

func (e Engine) autoApplyForDocument(ctx context.Context, d domain.Document, actorID string) {
	e.autoApply(ctx, d.ProjectID, "document", d.ID, d.Title, d.Stage, documentMatchEntity(d), actorID)
}

func (e Engine) autoApply(ctx context.Context, projectID, entityType, entityID, entityName, stage string, entity rules.Entity, actorID string) {
	matched, err := e.MatchingRules(ctx, projectID, entityType, entity)
	if err != nil {
		zap.L().Warn("auto-apply: rule lookup failed", zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	for _, r := range matched {
		if !r.AutoApply {
			continue
		}
		// One open request per rule and entity.
		if _, err := e.Repo.OpenRequestForRuleEntity(ctx, r.ID, entityType, entityID); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			zap.L().Warn("auto-apply: open request lookup failed", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		ruleID := r.ID
		_, err := e.CreateApprovalRequest(ctx, ApprovalRequestOptions{
			ProjectID:  projectID,
			Source:     "rule",
			RuleID:     &ruleID,
			EntityType: entityType,
			EntityID:   entityID,
			EntityName: entityName,
			Stage:      stage,
			Configs:    r.Configs,
			ActorID:    actorID,
		})
		if err != nil {
			zap.L().Warn("auto-apply: request creation failed",
				zap.String("rule_id", r.ID),
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
	}
}
