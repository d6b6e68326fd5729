package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

func registerStatuses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses/{entity_type}",
		Summary:     "List status configs",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type" enum:"task,subtask,issue,stage,document,file,project"`
		All        bool   `query:"all" doc:"Include inactive statuses"`
	}) (*struct {
		Body []domain.StatusConfig `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "status.read"); err != nil {
			return nil, handleError(err)
		}
		var (
			items []domain.StatusConfig
			err   error
		)
		if input.All {
			items, err = e.ListStatuses(ctx, input.EntityType)
		} else {
			items, err = e.ActiveStatuses(ctx, input.EntityType)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusConfig `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status-transitions",
		Method:      http.MethodGet,
		Path:        "/statuses/{entity_type}/transitions",
		Summary:     "Allowed targets from a status",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		From       string `query:"from" required:"true"`
	}) (*struct {
		Body []domain.StatusConfig `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "status.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.AllowedTargets(ctx, input.EntityType, input.From)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusConfig `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-status",
		Method:        http.MethodPost,
		Path:          "/statuses/{entity_type}",
		Summary:       "Create status config",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		Body       struct {
			Value              string   `json:"value"`
			Label              string   `json:"label"`
			Color              string   `json:"color,omitempty"`
			Icon               string   `json:"icon,omitempty"`
			IsDefault          bool     `json:"is_default,omitempty"`
			AllowedTransitions []string `json:"allowed_transitions,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.StatusConfig `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "status.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateStatus(ctx, domain.StatusConfig{
			EntityType:         input.EntityType,
			Value:              input.Body.Value,
			Label:              input.Body.Label,
			Color:              input.Body.Color,
			Icon:               input.Body.Icon,
			IsDefault:          input.Body.IsDefault,
			AllowedTransitions: input.Body.AllowedTransitions,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusConfig `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-status",
		Method:      http.MethodPatch,
		Path:        "/statuses/{entity_type}/{value}",
		Summary:     "Update status config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		Value      string `path:"value"`
		Body       struct {
			Label              *string   `json:"label,omitempty"`
			Color              *string   `json:"color,omitempty"`
			Icon               *string   `json:"icon,omitempty"`
			IsDefault          *bool     `json:"is_default,omitempty"`
			IsActive           *bool     `json:"is_active,omitempty"`
			AllowedTransitions *[]string `json:"allowed_transitions,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.StatusConfig `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "status.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateStatus(ctx, input.EntityType, input.Value, engine.StatusUpdateOptions{
			Label:              input.Body.Label,
			Color:              input.Body.Color,
			Icon:               input.Body.Icon,
			IsDefault:          input.Body.IsDefault,
			IsActive:           input.Body.IsActive,
			AllowedTransitions: input.Body.AllowedTransitions,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusConfig `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-status",
		Method:      http.MethodDelete,
		Path:        "/statuses/{entity_type}/{value}",
		Summary:     "Delete status config",
		Description: "Blocked while any entity still carries the value; deactivate instead to retire it.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		Value      string `path:"value"`
	}) (*struct{}, error) {
		if err := requireGlobalPermission(ctx, e, "status.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteStatus(ctx, input.EntityType, input.Value, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-statuses",
		Method:      http.MethodPut,
		Path:        "/statuses/{entity_type}/order",
		Summary:     "Reorder status configs",
		Description: "Takes the full ordered value list; every existing status must appear exactly once.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		Body       struct {
			Values []string `json:"values"`
		} `json:"body"`
	}) (*struct {
		Body []domain.StatusConfig `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "status.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ReorderStatuses(ctx, input.EntityType, input.Body.Values, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusConfig `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-statuses",
		Method:      http.MethodPost,
		Path:        "/statuses/{entity_type}/reset",
		Summary:     "Reset statuses to defaults",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
	}) (*struct {
		Body []domain.StatusConfig `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "status.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ResetStatuses(ctx, input.EntityType, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusConfig `json:"body"`
		}{Body: items}, nil
	})
}
