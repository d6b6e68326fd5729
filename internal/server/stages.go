package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages",
		Summary:     "List workflow stages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "stage.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		stages, err := e.Repo.ListStages(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: stages}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-gate",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages/{stage}/gate",
		Summary:     "Stage completion gate",
		Description: "Lists every outstanding requirement blocking stage completion. Eligible is true exactly when nothing is missing.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `path:"stage"`
	}) (*struct {
		Body domain.GateResult `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "stage.read"); err != nil {
			return nil, handleError(err)
		}
		gate, err := e.StageGate(ctx, projectID, input.Stage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GateResult `json:"body"`
		}{Body: gate}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-stage",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/stages/{stage}/complete",
		Summary:     "Complete a stage",
		Description: "Runs the completion gate, closes the stage and activates the next one in sequence.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `path:"stage"`
		Body      struct {
			Force bool `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Stage `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "stage.complete"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CompleteStage(ctx, projectID, input.Stage, actorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stage `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-stage-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/stages/{stage}",
		Summary:     "Set stage status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `path:"stage"`
		Body      struct {
			Status string `json:"status"`
			Force  bool   `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Stage `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "stage.complete"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SetStageStatus(ctx, projectID, input.Stage, input.Body.Status, actorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stage `json:"body"`
		}{Body: s}, nil
	})
}
