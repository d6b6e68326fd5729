package engine

import (
	"context"
	"errors"
	"fmt"

	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/repo"
)

// StageGate evaluates whether a stage may be completed. Eligible is true
// exactly when Missing is empty. Pure read, no mutation.
func (e Engine) StageGate(ctx context.Context, projectID, stageName string) (domain.GateResult, error) {
	res := domain.GateResult{Stage: stageName}
	if _, err := e.Repo.GetStageByName(ctx, projectID, stageName); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return res, fmt.Errorf("stage %q not in project %s", stageName, projectID)
		}
		return res, err
	}

	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilter{ProjectID: projectID, Stage: stageName, TopLevel: true})
	if err != nil {
		return res, err
	}
	for _, t := range tasks {
		if !isDoneStatus(t.Status) {
			res.Missing = append(res.Missing, fmt.Sprintf("task %q is %s", t.Title, t.Status))
		}
	}

	files, err := e.Repo.ListStageFiles(ctx, projectID, stageName)
	if err != nil {
		return res, err
	}
	for _, f := range files {
		if f.Required && f.Status != "received" {
			res.Missing = append(res.Missing, fmt.Sprintf("required file %q not received", f.Name))
		}
	}

	docs, err := e.Repo.ListDocuments(ctx, projectID, stageName, "")
	if err != nil {
		return res, err
	}
	for _, d := range docs {
		if d.RequiredForProgression && d.Status != "approved" {
			res.Missing = append(res.Missing, fmt.Sprintf("required document %q is %s", d.Title, d.Status))
		}
	}

	// Required approval requests raised against this stage must be approved.
	reqs, err := e.ListApprovalRequests(ctx, repo.ApprovalFilter{ProjectID: projectID, Stage: stageName})
	if err != nil {
		return res, err
	}
	for _, a := range reqs {
		if a.Status == domain.ApprovalApproved {
			continue
		}
		required := false
		for _, cfg := range a.Configs {
			if cfg.Required {
				required = true
				break
			}
		}
		if required {
			res.Missing = append(res.Missing, fmt.Sprintf("approval for %s %q is %s", a.EntityType, a.EntityName, a.Status))
		}
	}

	res.Eligible = len(res.Missing) == 0
	return res, nil
}

// CompleteStage closes a stage after its gate passes and activates the next
// stage in sequence. Force skips the gate, never the transition rules.
func (e Engine) CompleteStage(ctx context.Context, projectID, stageName, actorID string, force bool) (domain.Stage, error) {
	s, err := e.Repo.GetStageByName(ctx, projectID, stageName)
	if err != nil {
		return s, err
	}
	if !force {
		gate, err := e.StageGate(ctx, projectID, stageName)
		if err != nil {
			return s, err
		}
		if !gate.Eligible {
			return s, fmt.Errorf("stage %q not eligible for completion: %d requirements outstanding", stageName, len(gate.Missing))
		}
	}
	if err := e.ensureStatusTransition(ctx, "stage", s.Status, "completed", force); err != nil {
		return s, err
	}
	now := e.nowRFC3339()
	stages, err := e.Repo.ListStages(ctx, projectID)
	if err != nil {
		return s, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStageStatus(ctx, tx, s.ID, "completed", nil, &now); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "stage.complete", projectID, "stage", s.ID, actorID, events.EventPayload{
		"stage": s.Name,
	}); err != nil {
		return s, err
	}
	for _, next := range stages {
		if next.Position != s.Position+1 {
			continue
		}
		if next.Status != "pending" {
			break
		}
		if err := e.Repo.UpdateStageStatus(ctx, tx, next.ID, "active", &now, nil); err != nil {
			return s, err
		}
		if err := e.Events.Append(ctx, tx, "stage.start", projectID, "stage", next.ID, actorID, events.EventPayload{
			"stage": next.Name,
		}); err != nil {
			return s, err
		}
		break
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return e.Repo.GetStage(ctx, s.ID)
}

// SetStageStatus moves a stage between its non-completion states, hold and
// resume typically. Completion goes through CompleteStage so the gate runs.
func (e Engine) SetStageStatus(ctx context.Context, projectID, stageName, status, actorID string, force bool) (domain.Stage, error) {
	if status == "completed" && !force {
		return domain.Stage{}, errors.New("use stage completion, which checks the gate")
	}
	s, err := e.Repo.GetStageByName(ctx, projectID, stageName)
	if err != nil {
		return s, err
	}
	if status == s.Status {
		return s, nil
	}
	if err := e.ensureStatusTransition(ctx, "stage", s.Status, status, force); err != nil {
		return s, err
	}
	now := e.nowRFC3339()
	var startedAt *string
	if status == "active" && s.StartedAt == nil {
		startedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStageStatus(ctx, tx, s.ID, status, startedAt, nil); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "stage.status", projectID, "stage", s.ID, actorID, events.EventPayload{
		"stage":  s.Name,
		"status": status,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return e.Repo.GetStage(ctx, s.ID)
}
