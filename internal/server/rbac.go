package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

// WhoAmIResponse is the current principal's resolved roles and permissions.
type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// RoleChangeRequest grants or revokes a role on a project.
type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/me/permissions",
		Summary:     "Current actor permissions",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		who, err := e.WhoAmI(ctx, projectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     who.ActorID,
			Roles:       nonNilSlice(who.Roles),
			Permissions: nonNilSlice(who.Permissions),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.GrantRole(ctx, projectID, actorID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeRole(ctx, projectID, actorID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		Description:   "The plaintext key is returned once; only its hash is stored.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string `json:"actor_id"`
			Name    string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			domain.APIKey
			Key string `json:"key"`
		} `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireGlobalPermission(ctx, e, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		target := strings.TrimSpace(input.Body.ActorID)
		if target == "" {
			target = actorID
		}
		key, plaintext, err := e.CreateAPIKey(ctx, actorID, target, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				domain.APIKey
				Key string `json:"key"`
			} `json:"body"`
		}{}
		resp.Body.APIKey = key
		resp.Body.KeyHash = ""
		resp.Body.Key = plaintext
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor" doc:"Filter by actor id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range keys {
			keys[i].KeyHash = ""
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireGlobalPermission(ctx, e, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeAPIKey(ctx, input.KeyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
