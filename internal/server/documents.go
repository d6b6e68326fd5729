package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/documents",
		Summary:       "Register document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			ID                     string   `json:"id,omitempty"`
			Stage                  string   `json:"stage"`
			Title                  string   `json:"title"`
			Category               string   `json:"category,omitempty" enum:"contract,drawing,specification,invoice,presentation,report,other"`
			RequiredForProgression bool     `json:"required_for_progression,omitempty"`
			Tags                   []string `json:"tags,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "document.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDocument(ctx, engine.DocumentCreateOptions{
			ID:                     input.Body.ID,
			ProjectID:              projectID,
			Stage:                  input.Body.Stage,
			Title:                  input.Body.Title,
			Category:               input.Body.Category,
			RequiredForProgression: input.Body.RequiredForProgression,
			Tags:                   input.Body.Tags,
			ActorID:                actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents",
		Summary:     "List documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `query:"stage"`
		Category  string `query:"category"`
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "document.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		docs, err := e.Repo.ListDocuments(ctx, projectID, input.Stage, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: docs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPatch,
		Path:        "/documents/{document_id}",
		Summary:     "Update document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Body       struct {
			Title                  *string   `json:"title,omitempty"`
			Category               *string   `json:"category,omitempty"`
			Status                 *string   `json:"status,omitempty"`
			RequiredForProgression *bool     `json:"required_for_progression,omitempty"`
			Tags                   *[]string `json:"tags,omitempty"`
			Force                  bool      `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		d, err := e.Repo.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, d.ProjectID, "document.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err = e.UpdateDocument(ctx, input.DocumentID, engine.DocumentUpdateOptions{
			Title:                  input.Body.Title,
			Category:               input.Body.Category,
			Status:                 input.Body.Status,
			RequiredForProgression: input.Body.RequiredForProgression,
			Tags:                   input.Body.Tags,
			Force:                  input.Body.Force,
			ActorID:                actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}",
		Summary:     "Delete document",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct{}, error) {
		d, err := e.Repo.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, d.ProjectID, "document.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDocument(ctx, input.DocumentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-file",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/files",
		Summary:       "Track expected stage file",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			ID          string `json:"id,omitempty"`
			Stage       string `json:"stage"`
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
			Required    bool   `json:"required,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.StageFile `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "file.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateStageFile(ctx, engine.StageFileCreateOptions{
			ID:          input.Body.ID,
			ProjectID:   projectID,
			Stage:       input.Body.Stage,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Required:    input.Body.Required,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageFile `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-files",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/files",
		Summary:     "List expected stage files",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `query:"stage"`
	}) (*struct {
		Body []domain.StageFile `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "file.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		files, err := e.Repo.ListStageFiles(ctx, projectID, input.Stage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageFile `json:"body"`
		}{Body: files}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-file-status",
		Method:      http.MethodPatch,
		Path:        "/files/{file_id}",
		Summary:     "Set file status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		FileID string `path:"file_id"`
		Body   struct {
			Status string `json:"status"`
		} `json:"body"`
	}) (*struct {
		Body domain.StageFile `json:"body"`
	}, error) {
		f, err := e.Repo.GetStageFile(ctx, input.FileID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, f.ProjectID, "file.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err = e.SetFileStatus(ctx, input.FileID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageFile `json:"body"`
		}{Body: f}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/issues",
		Summary:       "Report issue",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			ID          string `json:"id,omitempty"`
			Stage       string `json:"stage,omitempty"`
			Title       string `json:"title"`
			Description string `json:"description,omitempty"`
			Priority    string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
		} `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "issue.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
			ID:          input.Body.ID,
			ProjectID:   projectID,
			Stage:       input.Body.Stage,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: i}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues",
		Summary:     "List issues",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `query:"stage"`
		Status    string `query:"status"`
	}) (*struct {
		Body []domain.Issue `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "issue.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		issues, err := e.Repo.ListIssues(ctx, projectID, input.Stage, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Issue `json:"body"`
		}{Body: issues}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Update issue",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
		Body    struct {
			Title       *string `json:"title,omitempty"`
			Description *string `json:"description,omitempty"`
			Status      *string `json:"status,omitempty"`
			Priority    *string `json:"priority,omitempty"`
			Force       bool    `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		i, err := e.Repo.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, i.ProjectID, "issue.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err = e.UpdateIssue(ctx, input.IssueID, engine.IssueUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			Force:       input.Body.Force,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: i}, nil
	})
}
