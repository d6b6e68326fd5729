package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/repo"
)

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-approval",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/approvals",
		Summary:       "Open approval request",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			ID         string                  `json:"id,omitempty"`
			EntityType string                  `json:"entity_type" enum:"task,document,stage"`
			EntityID   string                  `json:"entity_id"`
			EntityName string                  `json:"entity_name,omitempty"`
			Stage      string                  `json:"stage,omitempty"`
			Configs    []domain.ApprovalConfig `json:"configs"`
		} `json:"body"`
	}) (*struct {
		Body domain.ApprovalRequest `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "approval.request"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateApprovalRequest(ctx, engine.ApprovalRequestOptions{
			ID:         input.Body.ID,
			ProjectID:  projectID,
			Source:     "manual",
			EntityType: input.Body.EntityType,
			EntityID:   input.Body.EntityID,
			EntityName: input.Body.EntityName,
			Stage:      input.Body.Stage,
			Configs:    input.Body.Configs,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRequest `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/approvals",
		Summary:     "List approval requests",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Status     string `query:"status"`
		Stage      string `query:"stage"`
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
		AssignedTo string `query:"assigned_to"`
	}) (*struct {
		Body []domain.ApprovalRequest `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "approval.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListApprovalRequests(ctx, repo.ApprovalFilter{
			ProjectID:  projectID,
			Status:     input.Status,
			Stage:      input.Stage,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			AssignedTo: input.AssignedTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ApprovalRequest `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/approvals/{request_id}",
		Summary:     "Get approval request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body domain.ApprovalRequest `json:"body"`
	}, error) {
		a, err := e.GetApprovalRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, a.ProjectID, "approval.read"); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRequest `json:"body"`
		}{Body: a}, nil
	})

	decide := func(action string) func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
		Body      struct {
			Comment string `json:"comment,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.ApprovalRequest `json:"body"`
	}, error) {
		return func(ctx context.Context, input *struct {
			RequestID string `path:"request_id"`
			Body      struct {
				Comment string `json:"comment,omitempty"`
			} `json:"body"`
		}) (*struct {
			Body domain.ApprovalRequest `json:"body"`
		}, error) {
			a, err := e.GetApprovalRequest(ctx, input.RequestID)
			if err != nil {
				return nil, handleError(err)
			}
			if err := requirePermission(ctx, e, a.ProjectID, "approval.decide"); err != nil {
				return nil, handleError(err)
			}
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			switch action {
			case "approve":
				a, err = e.Approve(ctx, input.RequestID, actorID, input.Body.Comment)
			case "reject":
				a, err = e.Reject(ctx, input.RequestID, actorID, input.Body.Comment)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.ApprovalRequest `json:"body"`
			}{Body: a}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "approve-request",
		Method:      http.MethodPost,
		Path:        "/approvals/{request_id}/approve",
		Summary:     "Approve current level",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, decide("approve"))

	huma.Register(api, huma.Operation{
		OperationID: "reject-request",
		Method:      http.MethodPost,
		Path:        "/approvals/{request_id}/reject",
		Summary:     "Reject request",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, decide("reject"))

	huma.Register(api, huma.Operation{
		OperationID: "delegate-request",
		Method:      http.MethodPost,
		Path:        "/approvals/{request_id}/delegate",
		Summary:     "Delegate current level",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
		Body      struct {
			DelegateID string `json:"delegate_id"`
			Comment    string `json:"comment,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.ApprovalRequest `json:"body"`
	}, error) {
		a, err := e.GetApprovalRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, a.ProjectID, "approval.decide"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err = e.Delegate(ctx, input.RequestID, actorID, input.Body.DelegateID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRequest `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remind-request",
		Method:      http.MethodPost,
		Path:        "/approvals/{request_id}/remind",
		Summary:     "Remind assignee",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body domain.ApprovalRequest `json:"body"`
	}, error) {
		a, err := e.GetApprovalRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, a.ProjectID, "approval.read"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err = e.Remind(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRequest `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approval-history",
		Method:      http.MethodGet,
		Path:        "/approvals/{request_id}/history",
		Summary:     "Approval action history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		a, err := e.Repo.GetApprovalRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, a.ProjectID, "approval.read"); err != nil {
			return nil, handleError(err)
		}
		history, err := e.ApprovalHistory(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: history}, nil
	})
}
