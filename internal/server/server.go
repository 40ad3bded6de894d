package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"planline/internal/baseline"
	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/planfile"
	"planline/internal/recurrence"
	"planline/internal/repo"
	"planline/internal/schedule"
	"planline/internal/segment"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cyclic_dependency"`
	Message string         `json:"message" example:"cyclic dependency: a -> b -> a"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type output[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type taskPath struct {
	ProjectID string `path:"project_id"`
	ID        string `path:"id"`
}

// New returns an HTTP handler exposing the Planline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request validation failures share the bad_request code
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Planline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerLinks(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerBaseline(group, cfg.Engine)
	registerRecurrence(group, cfg.Engine)
	registerSegments(group, cfg.Engine)
	registerPlan(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	serveOpenAPI(router, api, openRoutes(basePath, cfg.Auth.AllowDevLogin), basePath)

	return router, nil
}

// StartWebhooks posts the project's events to its configured webhooks until
// ctx is done. It returns immediately when no webhook is configured.
func StartWebhooks(ctx context.Context, e engine.Engine, cfg *config.Config, logger *log.Logger) {
	d := newWebhookDispatcher(e.Repo, cfg, logger)
	if d == nil {
		return
	}
	go d.run(ctx)
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

func fieldError(field, reason string) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("%s %s", field, reason), map[string]any{"field": field, "reason": reason})
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var cyc *schedule.CyclicDependencyError
	if errors.As(err, &cyc) {
		links := make([]string, 0, len(cyc.Links))
		for _, l := range cyc.Links {
			links = append(links, l.ID)
		}
		return newAPIError(http.StatusConflict, "cyclic_dependency", err.Error(), map[string]any{"cycle": cyc.Cycle, "links": links})
	}
	var dr *schedule.InvalidDateRangeError
	if errors.As(err, &dr) {
		return newAPIError(http.StatusBadRequest, "invalid_date_range", err.Error(), map[string]any{"task_id": dr.TaskID, "reason": dr.Reason})
	}
	var rr *recurrence.InvalidRecurrenceRuleError
	if errors.As(err, &rr) {
		return newAPIError(http.StatusBadRequest, "invalid_recurrence_rule", err.Error(), map[string]any{"violations": rr.Violations})
	}
	var so *segment.SegmentOverlapError
	if errors.As(err, &so) {
		return newAPIError(http.StatusBadRequest, "segment_overlap", err.Error(), map[string]any{"first": so.First.ID, "second": so.Second.ID})
	}
	var sd *segment.InvalidSegmentDurationError
	if errors.As(err, &sd) {
		return newAPIError(http.StatusBadRequest, "invalid_segment_duration", err.Error(), map[string]any{"segment_id": sd.SegmentID, "reason": sd.Reason})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, baseline.ErrBaselineExists):
		return newAPIError(http.StatusConflict, "baseline_exists", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, baseline.ErrNoDates),
		errors.Is(err, recurrence.ErrNoRule),
		errors.Is(err, recurrence.ErrInactiveRule),
		errors.Is(err, recurrence.ErrNotInstance),
		errors.Is(err, recurrence.ErrInvalidScope),
		errors.Is(err, segment.ErrNotSplit),
		errors.Is(err, segment.ErrNoRanges),
		errors.Is(err, planfile.ErrEmptyPlan):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
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
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*output[ProjectResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, fieldError("id", "is required")
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitProject(ctx, engine.ProjectInitOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: desc,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(projectResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*output[[]ProjectResponse], error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapProjects(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[ProjectResponse], error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(projectResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Rename a project or change its status or description",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*output[ProjectResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, engine.ProjectUpdateOptions{
			Name:        input.Body.Name,
			Status:      input.Body.Status,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(projectResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[*config.Config], error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetProjectConfig(ctx, input.ProjectID)
		if errors.Is(err, repo.ErrNotFound) {
			cfg, err = config.Default(input.ProjectID), nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(cfg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-project-config",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/config",
		Summary:     "Replace project config",
		Description: "Replaces the calendar and scheduling settings and reschedules the project.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      config.Config `json:"body"`
	}) (*output[*config.Config], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg := input.Body
		cfg.Project.ID = input.ProjectID
		if err := cfg.Validate(); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", err.Error(), nil)
		}
		if err := e.ImportConfig(ctx, input.ProjectID, &cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return reply(&cfg), nil
	})
}

// projectTask loads a task and hides tasks of other projects.
func projectTask(ctx context.Context, e engine.Engine, projectID, id string) (domain.Task, error) {
	t, err := e.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if t.ProjectID != projectID {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
	}
	return t, nil
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*output[TaskResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, fieldError("name", "is required")
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			ProjectID:   input.ProjectID,
			Name:        input.Body.Name,
			Duration:    input.Body.Duration,
			Progress:    input.Body.Progress,
			IsMilestone: input.Body.IsMilestone,
			IsGroup:     input.Body.IsGroup,
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.ParentID != nil {
			opts.ParentID = *input.Body.ParentID
		}
		var err error
		if opts.Start, err = parseDate("start_date", input.Body.StartDate); err != nil {
			return nil, handleError(err)
		}
		if opts.End, err = parseDate("end_date", input.Body.EndDate); err != nil {
			return nil, handleError(err)
		}
		if opts.Deadline, err = parseDatePtr("deadline", &input.Body.Deadline); err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ParentID  string `query:"parent_id"`
		SeriesID  string `query:"series_id"`
		Limit     int    `query:"limit" default:"200"`
	}) (*output[paginatedTasks], error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{
			ProjectID: input.ProjectID,
			Parent:    input.ParentID,
			SeriesID:  input.SeriesID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(paginatedTasks{Items: mapTasks(tasks)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[TaskResponse], error) {
		t, err := projectTask(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      UpdateTaskRequest `json:"body"`
	}) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		opts := engine.TaskUpdateOptions{
			ID:          input.ID,
			Name:        b.Name,
			Duration:    b.Duration,
			Progress:    b.Progress,
			IsMilestone: b.IsMilestone,
			SetParent:   b.ParentID,
			ActorID:     actorID,
		}
		var err error
		if opts.Start, err = parseDatePtr("start_date", b.StartDate); err != nil {
			return nil, handleError(err)
		}
		if opts.End, err = parseDatePtr("end_date", b.EndDate); err != nil {
			return nil, handleError(err)
		}
		if b.Deadline != nil && *b.Deadline == "" {
			opts.ClearDeadline = true
		} else if opts.Deadline, err = parseDatePtr("deadline", b.Deadline); err != nil {
			return nil, handleError(err)
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/tasks/{id}",
		Summary:       "Delete task",
		Description:   "Deletes the task and every link that touches it.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTask(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerLinks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-link",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/links",
		Summary:       "Add dependency",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateLinkRequest `json:"body"`
	}) (*output[domain.Link], error) {
		if input.Body.FromID == "" || input.Body.ToID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from_id and to_id are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.Body.FromID); err != nil {
			return nil, handleError(err)
		}
		opts := engine.LinkAddOptions{
			FromID:  input.Body.FromID,
			ToID:    input.Body.ToID,
			Type:    domain.LinkType(strings.ToUpper(input.Body.Type)),
			Lag:     input.Body.Lag,
			ActorID: actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		l, err := e.AddLink(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(l), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-links",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/links",
		Summary:     "List dependencies",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Link], error) {
		links, err := e.ListLinks(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(links)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-link",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/links/{id}",
		Summary:       "Remove dependency",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveLink(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "compute-schedule",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/schedule",
		Summary:     "Compute schedule",
		Description: "Runs a scheduling pass. With dry_run the result is returned without being stored.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		DryRun    bool   `query:"dry_run"`
	}) (*output[ScheduleResponse], error) {
		var (
			rep engine.ScheduleReport
			err error
		)
		if input.DryRun {
			rep, err = e.Schedule(ctx, input.ProjectID)
		} else {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			rep, err = e.Recompute(ctx, input.ProjectID, actorID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(scheduleResponse(rep)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "critical-path",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/critical-path",
		Summary:     "Critical path",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*output[CriticalPathResponse], error) {
		rep, err := e.Schedule(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(criticalPathResponse(rep)), nil
	})
}

func registerBaseline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-project-baseline",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/baseline",
		Summary:     "Baseline every dated task without one",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[map[string]int], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.SetProjectBaseline(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(map[string]int{"captured": n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-baseline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/baseline",
		Summary:     "Baseline variance summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[ProjectBaselineResponse], error) {
		sum, perf, err := e.ProjectBaselineSummary(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ProjectBaselineResponse{Summary: sum, Tasks: nonNilSlice(perf)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-baseline",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/baseline",
		Summary:     "Capture task baseline",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		t, err := e.SetBaseline(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-baseline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}/baseline",
		Summary:     "Task baseline variance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[baseline.Performance], error) {
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		perf, err := e.BaselinePerformance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(perf), nil
	})
}

func registerRecurrence(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "enable-recurrence",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/tasks/{id}/recurrence",
		Summary:     "Set recurrence rule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      RecurrenceRequest `json:"body"`
	}) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		rule, err := input.Body.rule()
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.EnableRecurrence(ctx, engine.RecurrenceOptions{TaskID: input.ID, Rule: rule, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "disable-recurrence",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/tasks/{id}/recurrence",
		Summary:     "Deactivate recurrence rule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		t, err := e.DisableRecurrence(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-instances",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/recurrence/generate",
		Summary:     "Generate recurring instances",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		ID        string          `path:"id"`
		Body      GenerateRequest `json:"body,omitempty" required:"false"`
	}) (*output[GenerateResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		opts := engine.GenerateOptions{TaskID: input.ID, ActorID: actorID}
		var err error
		if opts.From, err = parseDate("from", input.Body.From); err != nil {
			return nil, handleError(err)
		}
		if opts.To, err = parseDate("to", input.Body.To); err != nil {
			return nil, handleError(err)
		}
		res, err := e.GenerateInstances(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(GenerateResponse{SeriesID: res.SeriesID, Created: mapTasks(res.Created), Existing: res.Existing}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-instance",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/detach",
		Summary:     "Detach instance from its series",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		t, err := e.DetachInstance(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-series",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/series",
		Summary:     "Update series instances",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		ID        string              `path:"id"`
		Body      SeriesUpdateRequest `json:"body"`
	}) (*output[[]TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		updated, err := e.UpdateSeries(ctx, engine.SeriesUpdateOptions{
			TaskID:  input.ID,
			Scope:   recurrence.Scope(input.Body.Scope),
			Patch:   input.Body.patch(),
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapTasks(updated)), nil
	})
}

func registerSegments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "split-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/split",
		Summary:     "Split task into segments",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		ID        string       `path:"id"`
		Body      SplitRequest `json:"body"`
	}) (*output[SplitResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		ranges, err := input.Body.ranges()
		if err != nil {
			return nil, handleError(err)
		}
		t, sum, err := e.SplitTask(ctx, engine.SplitOptions{TaskID: input.ID, Ranges: ranges, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(SplitResponse{Task: taskResponse(t), Summary: segmentSummaryResponse(sum)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "merge-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/merge",
		Summary:     "Merge task segments",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		t, err := e.MergeTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "segment-summary",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}/segments",
		Summary:     "Segment summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[SegmentSummaryResponse], error) {
		if _, err := projectTask(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		sum, err := e.SegmentSummary(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(segmentSummaryResponse(sum)), nil
	})
}

func registerPlan(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-plan",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/plan",
		Summary:     "Export plan as TOML",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[PlanRequest], error) {
		p, err := e.ExportPlan(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := planfile.Encode(&buf, p); err != nil {
			return nil, handleError(err)
		}
		return reply(PlanRequest{TOML: buf.String()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-plan",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/plan",
		Summary:     "Import plan from TOML",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string      `path:"project_id"`
		Body      PlanRequest `json:"body"`
	}) (*output[ImportPlanResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := planfile.Parse([]byte(input.Body.TOML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_plan", err.Error(), nil)
		}
		res, err := e.ImportPlan(ctx, input.ProjectID, p, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ImportPlanResponse{
			Created:      res.Created,
			Updated:      res.Updated,
			LinksAdded:   res.LinksAdded,
			LinksSkipped: res.LinksSkipped,
			CriticalPath: nonNilSlice(res.Schedule.Result.CriticalPath),
		}), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,task,link"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
		Since      string `query:"since" doc:"Only events at or after this date or RFC 3339 time"`
	}) (*output[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Since:      input.Since,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Source  string   `json:"source"`
	Scopes  []string `json:"scopes"`
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return reply(WhoAmIResponse{ActorID: p.ActorID, Source: p.Source, Scopes: nonNilSlice(p.Scopes)}), nil
	})
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Scopes  []string `json:"scopes,omitempty"`
	// TTLSeconds defaults to one hour.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*output[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, fieldError("actor_id", "is required")
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Scopes, time.Duration(input.Body.TTLSeconds)*time.Second)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevLoginResponse{Token: token}), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
