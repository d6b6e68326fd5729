package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

func registerTeam(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-team-member",
		Method:        http.MethodPost,
		Path:          "/team",
		Summary:       "Add team member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name  string `json:"name"`
			Role  string `json:"role"`
			Email string `json:"email,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "team.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddTeamMember(ctx, engine.TeamMemberOptions{
			Name:    input.Body.Name,
			Role:    input.Body.Role,
			Email:   input.Body.Email,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team",
		Method:      http.MethodGet,
		Path:        "/team",
		Summary:     "List team members",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct{}) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "team.read"); err != nil {
			return nil, handleError(err)
		}
		members, err := e.Repo.ListTeamMembers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: members}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-team-member",
		Method:      http.MethodGet,
		Path:        "/team/{member_id}",
		Summary:     "Get team member",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		MemberID string `path:"member_id"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "team.read"); err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.GetTeamMember(ctx, input.MemberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-team-member",
		Method:      http.MethodDelete,
		Path:        "/team/{member_id}",
		Summary:     "Remove team member",
		Description: "Refused while open approval requests are still assigned to the member.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		MemberID string `path:"member_id"`
	}) (*struct{}, error) {
		if err := requireGlobalPermission(ctx, e, "team.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveTeamMember(ctx, input.MemberID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
