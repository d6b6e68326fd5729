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

// ApprovalRequestOptions are parameters for opening an approval request.
type ApprovalRequestOptions struct {
	ID         string
	ProjectID  string
	Source     string
	RuleID     *string
	EntityType string
	EntityID   string
	EntityName string
	Stage      string
	Configs    []domain.ApprovalConfig
	ActorID    string
}

// CreateApprovalRequest opens a pending request at level 0 with a config
// snapshot. Approver resolution failure aborts the creation.
func (e Engine) CreateApprovalRequest(ctx context.Context, opts ApprovalRequestOptions) (domain.ApprovalRequest, error) {
	if opts.EntityType == "" || opts.EntityID == "" {
		return domain.ApprovalRequest{}, errors.New("entity type and id are required")
	}
	if len(opts.Configs) == 0 {
		return domain.ApprovalRequest{}, errors.New("at least one approval config is required")
	}
	if opts.Source == "" {
		opts.Source = "manual"
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.ApprovalRequest{}, err
	}
	assignee, err := e.resolveApprover(ctx, opts.Configs[0])
	if err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("resolve approver: %w", err)
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)
	a := domain.ApprovalRequest{
		ID:           id,
		ProjectID:    opts.ProjectID,
		Source:       opts.Source,
		RuleID:       opts.RuleID,
		EntityType:   opts.EntityType,
		EntityID:     opts.EntityID,
		EntityName:   opts.EntityName,
		Stage:        opts.Stage,
		Status:       domain.ApprovalPending,
		CurrentLevel: 0,
		Configs:      opts.Configs,
		RequestedBy:  opts.ActorID,
		RequestedAt:  nowStr,
		AssignedTo:   assignee,
		UpdatedAt:    nowStr,
	}
	if exp := e.expiryFor(opts.Configs[0], now); exp != nil {
		a.ExpiresAt = exp
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApprovalRequest(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "approval.request", a.ProjectID, "approval", a.ID, opts.ActorID, events.EventPayload{
		"entity_type": a.EntityType,
		"entity_id":   a.EntityID,
		"assigned_to": a.AssignedTo,
		"source":      a.Source,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// resolveApprover turns an approval config into a concrete assignee from the
// team directory. Role-based types match by substring on the member role;
// client and external approvers get a placeholder member created on demand.
func (e Engine) resolveApprover(ctx context.Context, cfg domain.ApprovalConfig) (string, error) {
	switch cfg.ApproverType {
	case domain.ApproverSpecificUser:
		m, err := e.Repo.GetTeamMember(ctx, cfg.ApproverUserID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("approver user %s not in team directory", cfg.ApproverUserID)
			}
			return "", err
		}
		return m.ID, nil
	case domain.ApproverDepartmentHead, domain.ApproverProjectManager, domain.ApproverAdmin:
		fragment := cfg.ApproverRole
		if fragment == "" {
			switch cfg.ApproverType {
			case domain.ApproverProjectManager:
				fragment = "project manager"
			case domain.ApproverAdmin:
				fragment = "admin"
			default:
				fragment = "head"
			}
		}
		m, err := e.Repo.FirstMemberWithRole(ctx, fragment)
		if err == nil {
			return m.ID, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		// Department heads fall back to the earliest team member when no
		// role matches; the other role types must resolve exactly.
		if cfg.ApproverType == domain.ApproverDepartmentHead {
			members, err := e.Repo.ListTeamMembers(ctx)
			if err != nil {
				return "", err
			}
			if len(members) > 0 {
				return members[0].ID, nil
			}
		}
		return "", fmt.Errorf("no team member with role matching %q", fragment)
	case domain.ApproverClient, domain.ApproverExternal:
		return e.ensurePlaceholderMember(ctx, cfg.ApproverType)
	}
	return "", fmt.Errorf("unknown approver type %q", cfg.ApproverType)
}

// ensurePlaceholderMember returns the synthesized member for client or
// external approvers, creating it on first use.
func (e Engine) ensurePlaceholderMember(ctx context.Context, approverType string) (string, error) {
	m, err := e.Repo.FirstMemberWithRole(ctx, approverType)
	if err == nil {
		return m.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	label := "Client"
	if approverType == domain.ApproverExternal {
		label = "External Approver"
	}
	member := domain.TeamMember{
		ID:          newID(),
		Name:        label,
		Role:        approverType,
		Placeholder: true,
		CreatedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertTeamMember(ctx, nil, member); err != nil {
		return "", err
	}
	return member.ID, nil
}

// expiryFor computes the deadline for a level's decision, preferring the
// config's own expiry over the workspace default. Nil means no deadline.
func (e Engine) expiryFor(cfg domain.ApprovalConfig, from time.Time) *string {
	days := 0
	if cfg.ExpiryDays != nil {
		days = *cfg.ExpiryDays
	} else if e.Config != nil {
		days = e.Config.Approvals.DefaultExpiryDays
	}
	if days <= 0 {
		return nil
	}
	exp := from.UTC().Add(time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
	return &exp
}

// GetApprovalRequest returns a request with lazy expiry applied: a pending or
// delegated request past its deadline reads as expired and the row is
// updated on the spot.
func (e Engine) GetApprovalRequest(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	a, err := e.Repo.GetApprovalRequest(ctx, id)
	if err != nil {
		return a, err
	}
	return e.applyLazyExpiry(ctx, a)
}

func (e Engine) ListApprovalRequests(ctx context.Context, f repo.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	list, err := e.Repo.ListApprovalRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i], err = e.applyLazyExpiry(ctx, list[i])
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (e Engine) applyLazyExpiry(ctx context.Context, a domain.ApprovalRequest) (domain.ApprovalRequest, error) {
	if !isOpen(a.Status) || a.ExpiresAt == nil {
		return a, nil
	}
	exp, err := time.Parse(time.RFC3339, *a.ExpiresAt)
	if err != nil || !e.now().After(exp) {
		return a, nil
	}
	now := e.nowRFC3339()
	a.Status = domain.ApprovalExpired
	a.DecidedAt = &now
	a.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApprovalRequest(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "approval.expire", a.ProjectID, "approval", a.ID, "system", nil); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

func isOpen(status string) bool {
	return status == domain.ApprovalPending || status == domain.ApprovalDelegated
}

// Approve records the current level's approval. With further levels pending
// the request advances and reassigns; on the last level it becomes approved.
func (e Engine) Approve(ctx context.Context, requestID, actorID, comment string) (domain.ApprovalRequest, error) {
	a, err := e.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return a, err
	}
	if !isOpen(a.Status) {
		return a, fmt.Errorf("request is %s; only pending or delegated requests can be decided", a.Status)
	}
	cfg := a.Configs[a.CurrentLevel]
	if cfg.RequireComment && comment == "" {
		return a, errors.New("this approval level requires a comment")
	}
	if a.AssignedTo != actorID {
		return a, fmt.Errorf("request is assigned to %s", a.AssignedTo)
	}
	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)

	evtType := "approval.approve"
	if a.CurrentLevel+1 < len(a.Configs) {
		next := a.Configs[a.CurrentLevel+1]
		assignee, err := e.resolveApprover(ctx, next)
		if err != nil {
			return a, fmt.Errorf("resolve next approver: %w", err)
		}
		a.CurrentLevel++
		a.Status = domain.ApprovalPending
		a.AssignedTo = assignee
		a.ExpiresAt = e.expiryFor(next, now)
		evtType = "approval.advance"
	} else {
		a.Status = domain.ApprovalApproved
		a.DecidedAt = &nowStr
	}
	a.UpdatedAt = nowStr

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApprovalRequest(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, evtType, a.ProjectID, "approval", a.ID, actorID, events.EventPayload{
		"level":   a.CurrentLevel,
		"status":  a.Status,
		"comment": comment,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	if a.Status == domain.ApprovalApproved {
		e.onApprovalDecided(ctx, a, actorID)
	}
	return a, nil
}

// Reject terminates the request at any level. Rejection is terminal; a fresh
// request must be opened to retry.
func (e Engine) Reject(ctx context.Context, requestID, actorID, comment string) (domain.ApprovalRequest, error) {
	a, err := e.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return a, err
	}
	if !isOpen(a.Status) {
		return a, fmt.Errorf("request is %s; only pending or delegated requests can be decided", a.Status)
	}
	cfg := a.Configs[a.CurrentLevel]
	if cfg.RequireComment && comment == "" {
		return a, errors.New("this approval level requires a comment")
	}
	if a.AssignedTo != actorID {
		return a, fmt.Errorf("request is assigned to %s", a.AssignedTo)
	}
	nowStr := e.nowRFC3339()
	a.Status = domain.ApprovalRejected
	a.DecidedAt = &nowStr
	a.UpdatedAt = nowStr

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApprovalRequest(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "approval.reject", a.ProjectID, "approval", a.ID, actorID, events.EventPayload{
		"level":   a.CurrentLevel,
		"comment": comment,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	e.onApprovalDecided(ctx, a, actorID)
	return a, nil
}

// Delegate hands the current level to another team member. The level's
// config must allow delegation.
func (e Engine) Delegate(ctx context.Context, requestID, actorID, delegateID, comment string) (domain.ApprovalRequest, error) {
	a, err := e.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return a, err
	}
	if a.Status != domain.ApprovalPending {
		return a, fmt.Errorf("request is %s; only pending requests can be delegated", a.Status)
	}
	cfg := a.Configs[a.CurrentLevel]
	if !cfg.AllowDelegation {
		return a, errors.New("this approval level does not allow delegation")
	}
	if a.AssignedTo != actorID {
		return a, fmt.Errorf("request is assigned to %s", a.AssignedTo)
	}
	if delegateID == actorID {
		return a, errors.New("cannot delegate to yourself")
	}
	if _, err := e.Repo.GetTeamMember(ctx, delegateID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a, fmt.Errorf("delegate %s not in team directory", delegateID)
		}
		return a, err
	}
	nowStr := e.nowRFC3339()
	a.Status = domain.ApprovalDelegated
	a.AssignedTo = delegateID
	a.UpdatedAt = nowStr

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApprovalRequest(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "approval.delegate", a.ProjectID, "approval", a.ID, actorID, events.EventPayload{
		"delegate": delegateID,
		"comment":  comment,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// Remind re-notifies the current assignee by appending a reminder to the
// request's history. The request itself is unchanged.
func (e Engine) Remind(ctx context.Context, requestID, actorID string) (domain.ApprovalRequest, error) {
	a, err := e.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return a, err
	}
	if !isOpen(a.Status) {
		return a, fmt.Errorf("request is %s; nothing to remind about", a.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "approval.remind", a.ProjectID, "approval", a.ID, actorID, events.EventPayload{
		"assigned_to": a.AssignedTo,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// ApprovalHistory returns the request's append-only action log from the
// event stream.
func (e Engine) ApprovalHistory(ctx context.Context, requestID string) ([]domain.Event, error) {
	if _, err := e.Repo.GetApprovalRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return e.Repo.EntityHistory(ctx, "approval", requestID)
}

// onApprovalDecided reflects a terminal decision back onto the entity that
// was awaiting it. Only documents change status today; tasks and stages are
// gated at completion time instead.
func (e Engine) onApprovalDecided(ctx context.Context, a domain.ApprovalRequest, actorID string) {
	if a.EntityType != "document" {
		return
	}
	d, err := e.Repo.GetDocument(ctx, a.EntityID)
	if err != nil {
		return
	}
	target := ""
	switch a.Status {
	case domain.ApprovalApproved:
		target = "approved"
	case domain.ApprovalRejected:
		target = "rejected"
	}
	if target == "" || d.Status == target {
		return
	}
	d.Status = target
	d.UpdatedAt = e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDocument(ctx, tx, d); err != nil {
		return
	}
	if err := e.Events.Append(ctx, tx, "document.status", d.ProjectID, "document", d.ID, actorID, events.EventPayload{
		"status": d.Status,
	}); err != nil {
		return
	}
	_ = tx.Commit()
}
