package engine

import (
	"context"
	"errors"
	"fmt"

	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/repo"
)

// TeamMemberOptions are parameters for adding a team member.
type TeamMemberOptions struct {
	ID      string
	Name    string
	Role    string
	Email   string
	ActorID string
}

func (e Engine) AddTeamMember(ctx context.Context, opts TeamMemberOptions) (domain.TeamMember, error) {
	if opts.Name == "" {
		return domain.TeamMember{}, errors.New("name is required")
	}
	if opts.Role == "" {
		return domain.TeamMember{}, errors.New("role is required")
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	m := domain.TeamMember{
		ID:        id,
		Name:      opts.Name,
		Role:      opts.Role,
		Email:     opts.Email,
		CreatedAt: e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTeamMember(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "team.add", "", "team", m.ID, opts.ActorID, events.EventPayload{
		"name": m.Name,
		"role": m.Role,
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// RemoveTeamMember deletes a member unless an open approval request is still
// assigned to them.
func (e Engine) RemoveTeamMember(ctx context.Context, memberID, actorID string) error {
	if _, err := e.Repo.GetTeamMember(ctx, memberID); err != nil {
		return err
	}
	open, err := e.Repo.ListApprovalRequests(ctx, repo.ApprovalFilter{AssignedTo: memberID, Status: domain.ApprovalPending})
	if err != nil {
		return err
	}
	delegated, err := e.Repo.ListApprovalRequests(ctx, repo.ApprovalFilter{AssignedTo: memberID, Status: domain.ApprovalDelegated})
	if err != nil {
		return err
	}
	if n := len(open) + len(delegated); n > 0 {
		return fmt.Errorf("member has %d open approval requests; reassign or decide them first", n)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTeamMember(ctx, tx, memberID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "team.remove", "", "team", memberID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
