package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List event log",
		Description: "Newest first. Pass the smallest id from a page as before= to fetch the next one.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Before     int64  `query:"before" doc:"Return events with id strictly below this cursor"`
		ProjectID  string `query:"project" doc:"Filter by project id"`
		Type       string `query:"type" doc:"Filter by event type"`
		EntityKind string `query:"entity_kind" doc:"Filter by entity kind"`
		EntityID   string `query:"entity_id" doc:"Filter by entity id"`
	}) (*struct {
		Body struct {
			Events []domain.Event `json:"events"`
			Next   int64          `json:"next,omitempty" doc:"Cursor for the next page, 0 when exhausted"`
		} `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "event.read"); err != nil {
			return nil, handleError(err)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		var (
			items []domain.Event
			err   error
		)
		if input.Before > 0 {
			items, err = e.Repo.LatestEventsFrom(ctx, limit, input.Before, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		} else {
			items, err = e.Repo.LatestEvents(ctx, limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Events []domain.Event `json:"events"`
				Next   int64          `json:"next,omitempty" doc:"Cursor for the next page, 0 when exhausted"`
			} `json:"body"`
		}{}
		resp.Body.Events = items
		if len(items) == limit {
			resp.Body.Next = items[len(items)-1].ID
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "entity-history",
		Method:      http.MethodGet,
		Path:        "/events/{entity_kind}/{entity_id}",
		Summary:     "Event history for one entity",
		Description: "Oldest first, the full audit trail of a single entity.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityKind string `path:"entity_kind"`
		EntityID   string `path:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "event.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.EntityHistory(ctx, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
