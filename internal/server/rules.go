package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/repo"
)

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create approval rule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ID          string                  `json:"id,omitempty"`
			Name        string                  `json:"name"`
			Description string                  `json:"description,omitempty"`
			Scope       string                  `json:"scope,omitempty" enum:"global,project"`
			ProjectID   string                  `json:"project_id,omitempty"`
			EntityType  string                  `json:"entity_type" enum:"task,document,stage"`
			Criteria    domain.MatchCriteria    `json:"criteria"`
			Configs     []domain.ApprovalConfig `json:"configs"`
			Enabled     *bool                   `json:"enabled,omitempty"`
			AutoApply   bool                    `json:"auto_apply,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.ApprovalRule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "rule.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateRule(ctx, engine.RuleCreateOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Scope:       input.Body.Scope,
			ProjectID:   input.Body.ProjectID,
			EntityType:  input.Body.EntityType,
			Criteria:    input.Body.Criteria,
			Configs:     input.Body.Configs,
			Enabled:     input.Body.Enabled,
			AutoApply:   input.Body.AutoApply,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRule `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List approval rules",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project"`
		EntityType string `query:"entity_type"`
		Enabled    bool   `query:"enabled" doc:"Only enabled rules"`
	}) (*struct {
		Body []domain.ApprovalRule `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "rule.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRules(ctx, repo.RuleFilter{
			ProjectID:   input.ProjectID,
			EntityType:  input.EntityType,
			EnabledOnly: input.Enabled,
			GlobalToo:   input.ProjectID != "",
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ApprovalRule `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{rule_id}",
		Summary:     "Get approval rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
	}) (*struct {
		Body domain.ApprovalRule `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "rule.read"); err != nil {
			return nil, handleError(err)
		}
		r, err := e.Repo.GetRule(ctx, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRule `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/rules/{rule_id}",
		Summary:     "Update approval rule",
		Description: "Edits never touch in-flight requests; they keep their config snapshot.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
		Body   struct {
			Name        *string                  `json:"name,omitempty"`
			Description *string                  `json:"description,omitempty"`
			EntityType  *string                  `json:"entity_type,omitempty"`
			Criteria    *domain.MatchCriteria    `json:"criteria,omitempty"`
			Configs     *[]domain.ApprovalConfig `json:"configs,omitempty"`
			Enabled     *bool                    `json:"enabled,omitempty"`
			AutoApply   *bool                    `json:"auto_apply,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.ApprovalRule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "rule.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.UpdateRule(ctx, input.RuleID, engine.RuleUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			EntityType:  input.Body.EntityType,
			Criteria:    input.Body.Criteria,
			Configs:     input.Body.Configs,
			Enabled:     input.Body.Enabled,
			AutoApply:   input.Body.AutoApply,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRule `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/rules/{rule_id}",
		Summary:     "Delete approval rule",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
	}) (*struct{}, error) {
		if err := requireGlobalPermission(ctx, e, "rule.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRule(ctx, input.RuleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-rule",
		Method:      http.MethodPost,
		Path:        "/rules/preview",
		Summary:     "Preview criteria match count",
		Description: "Counts how many existing entities the criteria would match right now.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ProjectID  string               `json:"project_id"`
			EntityType string               `json:"entity_type" enum:"task,document,stage"`
			Criteria   domain.MatchCriteria `json:"criteria"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Matches int `json:"matches"`
		} `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "rule.read"); err != nil {
			return nil, handleError(err)
		}
		n, err := e.CountRuleMatches(ctx, input.Body.ProjectID, input.Body.EntityType, input.Body.Criteria)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Matches int `json:"matches"`
			} `json:"body"`
		}{}
		out.Body.Matches = n
		return out, nil
	})
}
