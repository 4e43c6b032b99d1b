// Package server exposes the HTTP API over the runtime.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskforge/internal/app"
	"taskforge/internal/domain"
	"taskforge/internal/events"
	"taskforge/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Runtime  *app.Runtime
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskforge API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Runtime.Repo))
	hcfg := huma.DefaultConfig("Taskforge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	rt := cfg.Runtime
	registerHealth(group)
	registerStatus(group, rt)
	registerBlueprints(group, rt)
	registerTasks(group, rt)
	registerPipeline(group, rt)
	registerEvents(group, rt)
	registerIncome(group, rt)
	registerWorkers(group, rt)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "no longer expandable") || strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "System status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts, err := rt.Repo.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		workers, err := rt.Repo.ListWorkers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		jobs, err := rt.Repo.ListScheduleJobs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		lastID, err := rt.Store.LastID(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			TaskCounts:  counts,
			Workers:     len(workers),
			LastEventID: lastID,
			Jobs:        jobs,
		}}, nil
	})
}

func registerBlueprints(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "list-blueprints",
		Method:      http.MethodGet,
		Path:        "/blueprints",
		Summary:     "List blueprints",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"new,approved,rejected,active,archived"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Blueprint `json:"body"`
	}, error) {
		items, err := rt.Repo.ListBlueprints(ctx, repo.BlueprintFilters{Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Blueprint `json:"body"`
		}{Body: nonNilBlueprints(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-blueprint",
		Method:      http.MethodGet,
		Path:        "/blueprints/{id}",
		Summary:     "Get blueprint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Blueprint `json:"body"`
	}, error) {
		bp, err := rt.Repo.GetBlueprint(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Blueprint `json:"body"`
		}{Body: bp}, nil
	})

	review := func(opID, urlPath, summary, status, eventType string) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        urlPath,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID int64 `path:"id"`
		}) (*struct {
			Body domain.Blueprint `json:"body"`
		}, error) {
			actor, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			now := time.Now().UTC().Format(time.RFC3339)
			if err := rt.Repo.UpdateBlueprintStatus(ctx, input.ID, status, now); err != nil {
				return nil, handleError(err)
			}
			bp, err := rt.Repo.GetBlueprint(ctx, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			rt.Bus.Publish(domain.Event{
				Type:        eventType,
				Category:    events.CategoryBlueprint,
				Message:     fmt.Sprintf("Blueprint %s: %s", status, bp.Title),
				BlueprintID: domain.Ref(bp.ID),
				Payload:     map[string]any{"actor": actor},
			})
			return &struct {
				Body domain.Blueprint `json:"body"`
			}{Body: bp}, nil
		})
	}
	review("approve-blueprint", "/blueprints/{id}/approve", "Approve blueprint", domain.BlueprintApproved, events.TypeBlueprintApproved)
	review("reject-blueprint", "/blueprints/{id}/reject", "Reject blueprint", domain.BlueprintRejected, events.TypeBlueprintRejected)
}

func registerTasks(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" enum:"pending,queued,running,completed,failed,cancelled"`
		BlueprintID int64  `query:"blueprint_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := rt.Repo.ListTasks(ctx, repo.TaskFilters{Status: input.Status, BlueprintID: input.BlueprintID, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/pending",
		Summary:     "Pending tasks in dispatch order",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := rt.Engine.SelectPendingTasks(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := rt.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Submit task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SubmitTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		payload := input.Body.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		payload["submitted_by"] = actor
		t, err := rt.Engine.SubmitTask(ctx, domain.Task{
			Name:             input.Body.Name,
			ShortDescription: input.Body.ShortDescription,
			Category:         input.Body.Category,
			Priority:         input.Body.Priority,
			Importance:       input.Body.Importance,
			BlueprintID:      input.Body.BlueprintID,
			Payload:          payload,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerPipeline(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "run-pipeline",
		Method:      http.MethodPost,
		Path:        "/pipeline/run",
		Summary:     "Expand new blueprints into tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PipelineRunResponse `json:"body"`
	}, error) {
		n, err := rt.RunPipelineOnce(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineRunResponse `json:"body"`
		}{Body: PipelineRunResponse{Expanded: n}}, nil
	})
}

const streamPollInterval = 250 * time.Millisecond
const streamMaxWait = 25 * time.Second

func registerEvents(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "recent-events",
		Method:      http.MethodGet,
		Path:        "/events/recent",
		Summary:     "Recent events, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := rt.Store.ListRecent(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: nonNilEvents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "events-since",
		Method:      http.MethodGet,
		Path:        "/events/since",
		Summary:     "Events after a cursor, oldest first",
	}, func(ctx context.Context, input *struct {
		LastID int64 `query:"last_id"`
		Limit  int   `query:"limit" default:"200"`
	}) (*struct {
		Body EventPage `json:"body"`
	}, error) {
		items, err := rt.Store.EventsSince(ctx, input.LastID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		last := input.LastID
		if len(items) > 0 {
			last = items[len(items)-1].ID
		}
		return &struct {
			Body EventPage `json:"body"`
		}{Body: EventPage{Items: nonNilEvents(items), LastID: last}}, nil
	})

	// Long poll: returns as soon as new events land, or empty after the wait
	// ceiling so clients can re-arm.
	huma.Register(api, huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/events/stream",
		Summary:     "Long-poll for new events",
	}, func(ctx context.Context, input *struct {
		LastID int64 `query:"last_id"`
		Limit  int   `query:"limit" default:"200"`
	}) (*struct {
		Body EventPage `json:"body"`
	}, error) {
		deadline := time.Now().Add(streamMaxWait)
		for {
			items, err := rt.Store.EventsSince(ctx, input.LastID, input.Limit)
			if err != nil {
				return nil, handleError(err)
			}
			if len(items) > 0 || time.Now().After(deadline) {
				last := input.LastID
				if len(items) > 0 {
					last = items[len(items)-1].ID
				}
				return &struct {
					Body EventPage `json:"body"`
				}{Body: EventPage{Items: nonNilEvents(items), LastID: last}}, nil
			}
			select {
			case <-ctx.Done():
				return &struct {
					Body EventPage `json:"body"`
				}{Body: EventPage{Items: []domain.Event{}, LastID: input.LastID}}, nil
			case <-time.After(streamPollInterval):
			}
		}
	})
}

func registerIncome(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "income-total",
		Method:      http.MethodGet,
		Path:        "/income/total",
		Summary:     "Total recorded income",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body IncomeTotalResponse `json:"body"`
	}, error) {
		total, err := rt.Repo.IncomeTotal(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncomeTotalResponse `json:"body"`
		}{Body: IncomeTotalResponse{Total: total, Currency: "USD"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "income-by-platform",
		Method:      http.MethodGet,
		Path:        "/income/by-platform",
		Summary:     "Income aggregated per platform",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PlatformIncome `json:"body"`
	}, error) {
		items, err := rt.Repo.IncomeByPlatform(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.PlatformIncome{}
		}
		return &struct {
			Body []domain.PlatformIncome `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-income",
		Method:      http.MethodGet,
		Path:        "/income/recent",
		Summary:     "Recent income records",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.IncomeRecord `json:"body"`
	}, error) {
		items, err := rt.Repo.RecentIncome(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.IncomeRecord `json:"body"`
		}{Body: nonNilIncome(items)}, nil
	})
}

func registerWorkers(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Worker `json:"body"`
	}, error) {
		items, err := rt.Repo.ListWorkers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Worker `json:"body"`
		}{Body: nonNilWorkers(items)}, nil
	})
}
