package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/repo"
)

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
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
			ID          string   `json:"id,omitempty"`
			Stage       string   `json:"stage,omitempty"`
			ParentID    string   `json:"parent_id,omitempty"`
			Title       string   `json:"title"`
			Description string   `json:"description,omitempty"`
			Priority    string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
			AssigneeID  string   `json:"assignee_id,omitempty"`
			Tags        []string `json:"tags,omitempty"`
			DueDate     string   `json:"due_date,omitempty" format:"date-time"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "task.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:          input.Body.ID,
			ProjectID:   projectID,
			Stage:       input.Body.Stage,
			ParentID:    input.Body.ParentID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			Tags:        input.Body.Tags,
			DueDate:     input.Body.DueDate,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `query:"stage"`
		Status    string `query:"status"`
		Assignee  string `query:"assignee"`
		Parent    string `query:"parent"`
		Subtasks  bool   `query:"subtasks" doc:"Include subtasks in the listing"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		projectID := projectFromPathOrDefault(e, input.ProjectID)
		if err := requirePermission(ctx, e, projectID, "task.list"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilter{
			ProjectID: projectID,
			Stage:     input.Stage,
			Status:    input.Status,
			Assignee:  input.Assignee,
			ParentID:  input.Parent,
			TopLevel:  input.Parent == "" && !input.Subtasks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, t.ProjectID, "task.read"); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			Title       *string   `json:"title,omitempty"`
			Description *string   `json:"description,omitempty"`
			Stage       *string   `json:"stage,omitempty"`
			Status      *string   `json:"status,omitempty"`
			Priority    *string   `json:"priority,omitempty"`
			AssigneeID  *string   `json:"assignee_id,omitempty"`
			Tags        *[]string `json:"tags,omitempty"`
			DueDate     *string   `json:"due_date,omitempty"`
			Force       bool      `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, t.ProjectID, "task.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err = e.UpdateTask(ctx, input.TaskID, engine.TaskUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Stage:       input.Body.Stage,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			Tags:        input.Body.Tags,
			DueDate:     input.Body.DueDate,
			Force:       input.Body.Force,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task and its subtasks",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, t.ProjectID, "task.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-transitions",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/transitions",
		Summary:     "Allowed status targets for a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []domain.StatusConfig `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, t.ProjectID, "task.read"); err != nil {
			return nil, handleError(err)
		}
		kind := "task"
		if t.ParentID != nil {
			kind = "subtask"
		}
		targets, err := e.AllowedTargets(ctx, kind, t.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusConfig `json:"body"`
		}{Body: targets}, nil
	})
}
