package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ID          string `json:"id,omitempty"`
			Name        string `json:"name"`
			ClientName  string `json:"client_name,omitempty"`
			Description string `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "project.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.InitProject(ctx, engine.ProjectCreateOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			ClientName:  input.Body.ClientName,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "project.list"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "project.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			Name        *string `json:"name,omitempty"`
			ClientName  *string `json:"client_name,omitempty"`
			Description *string `json:"description,omitempty"`
			Status      string  `json:"status,omitempty"`
			Force       bool    `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "project.update"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, projectID, engine.ProjectUpdateOptions{
			Name:        input.Body.Name,
			ClientName:  input.Body.ClientName,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Force:       input.Body.Force,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "project.delete"); err != nil {
			return nil, handleError(err)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "project.config.read"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Per-stage task progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.StageProgress `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "project.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		progress, err := e.StageProgress(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageProgress `json:"body"`
		}{Body: progress}, nil
	})
}
