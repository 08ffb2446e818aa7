package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"proact/internal/domain"
	"proact/internal/engine"
	"proact/internal/repo"
	"proact/internal/schema"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Schemas publishes stage output schemas; defaults to schema.New().
	Schemas *schema.Validator
	Logger  *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"concurrency_conflict"`
	Message string         `json:"message" example:"consequences version conflict: expected 2, current 3"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the decision cycle API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	schemas := cfg.Schemas
	if schemas == nil {
		schemas = schema.New()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Request shape errors are 400; 422 is reserved for output rules.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("PrOACT API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerMe(group)
	registerSessions(group, cfg.Engine)
	registerCycles(group, cfg.Engine)
	registerComponents(group, cfg.Engine)
	registerAnalysis(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerSchemas(router, basePath, schemas)
	registerOpenAPI(router, api, basePath)

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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, map[string]any{
			"component": string(ve.Component),
			"rule":      ve.Rule,
			"field":     ve.Field,
		})
	}
	var ce *domain.ConcurrencyError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "concurrency_conflict", msg, map[string]any{
			"component":        string(ce.Component),
			"expected_version": ce.Expected,
			"current_version":  ce.Actual,
		})
	}
	var pe *domain.PrerequisiteError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusConflict, "previous_component_required", msg, map[string]any{
			"component": string(pe.Component),
			"requires":  string(pe.Requires),
		})
	}
	switch {
	case errors.Is(err, domain.ErrValidationFailed):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return newAPIError(http.StatusConflict, "concurrency_conflict", msg, nil)
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return newAPIError(http.StatusConflict, "invalid_state_transition", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	}
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

// registerSchemas publishes the JSON Schema of each stage output together
// with the component schemas it references.
func registerSchemas(r chi.Router, basePath string, v *schema.Validator) {
	r.Get(path.Join(basePath, "schemas", "{component}"), func(w http.ResponseWriter, req *http.Request) {
		t, err := domain.ParseComponentType(chi.URLParam(req, "component"))
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", err.Error(), nil))
			return
		}
		s, _ := v.Schema(t)
		data, err := json.Marshal(map[string]any{
			"component":  string(t),
			"schema":     s,
			"components": v.Registry().Map(),
		})
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Create session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSession(ctx, input.Body.Title, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		items, err := e.ListSessions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: mapSessions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := e.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})
}

type cyclePath struct {
	CycleID string `path:"cycle_id"`
}

type cycleBody struct {
	Body CycleResponse `json:"body"`
}

func registerCycles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-cycle",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/cycles",
		Summary:       "Start a new cycle in a session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*cycleBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCycle(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cycles",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/cycles",
		Summary:     "List the cycles of a session, branches included",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body []CycleResponse `json:"body"`
	}, error) {
		items, err := e.ListCycles(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CycleResponse `json:"body"`
		}{Body: mapCycles(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cycle",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}",
		Summary:     "Get cycle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*cycleBody, error) {
		c, err := e.GetCycle(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "branch-cycle",
		Method:        http.MethodPost,
		Path:          "/cycles/{cycle_id}/branch",
		Summary:       "Branch a cycle at a component",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CycleID string             `path:"cycle_id"`
		Body    BranchCycleRequest `json:"body"`
	}) (*cycleBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.BranchCycle(ctx, input.CycleID, domain.ComponentType(input.Body.BranchPoint), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "navigate-cycle",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/navigate",
		Summary:     "Move the current step",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CycleID string          `path:"cycle_id"`
		Body    NavigateRequest `json:"body"`
	}) (*cycleBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.NavigateTo(ctx, input.CycleID, domain.ComponentType(input.Body.Component), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	for _, op := range []struct {
		id, path, summary string
		run               func(context.Context, string, string) (*domain.Cycle, error)
	}{
		{"complete-cycle", "/cycles/{cycle_id}/complete", "Mark the cycle completed", e.CompleteCycle},
		{"archive-cycle", "/cycles/{cycle_id}/archive", "Archive the cycle", e.ArchiveCycle},
	} {
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        op.path,
			Summary:     op.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *cyclePath) (*cycleBody, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			c, err := op.run(ctx, input.CycleID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &cycleBody{Body: cycleResponse(c)}, nil
		})
	}
}

type componentPath struct {
	CycleID   string `path:"cycle_id"`
	Component string `path:"component" enum:"issue_raising,problem_frame,objectives,alternatives,consequences,tradeoffs,recommendation,decision_quality,notes_next_steps"`
}

func registerComponents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-component",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/components/{component}/start",
		Summary:     "Start a component",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *componentPath) (*cycleBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.StartComponent(ctx, input.CycleID, domain.ComponentType(input.Component), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-component",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/components/{component}/complete",
		Summary:     "Complete a component, optionally with a final output",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		CycleID   string                    `path:"cycle_id"`
		Component string                    `path:"component" enum:"issue_raising,problem_frame,objectives,alternatives,consequences,tradeoffs,recommendation,decision_quality,notes_next_steps"`
		Body      *CompleteComponentRequest `json:"body,omitempty" required:"false"`
	}) (*cycleBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := rawBodyMap(ctx)["output"]
		c, err := e.CompleteComponent(ctx, input.CycleID, domain.ComponentType(input.Component), raw, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-component-output",
		Method:      http.MethodPut,
		Path:        "/cycles/{cycle_id}/components/{component}/output",
		Summary:     "Replace a component output (optimistic concurrency)",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		CycleID   string              `path:"cycle_id"`
		Component string              `path:"component" enum:"issue_raising,problem_frame,objectives,alternatives,consequences,tradeoffs,recommendation,decision_quality,notes_next_steps"`
		Body      UpdateOutputRequest `json:"body"`
	}) (*struct {
		Body OutputVersionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, ok := rawBodyMap(ctx)["output"]
		if !ok || isNullRaw(raw) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "output is required", nil)
		}
		c, version, err := e.UpdateComponentOutput(ctx, input.CycleID, domain.ComponentType(input.Component), raw, input.Body.ExpectedVersion, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutputVersionResponse `json:"body"`
		}{Body: OutputVersionResponse{Cycle: cycleResponse(c), Version: version}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revise-component",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/components/{component}/revise",
		Summary:     "Reopen a completed component for revision",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *componentPath) (*cycleBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ReviseComponent(ctx, input.CycleID, domain.ComponentType(input.Component), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})
}

func registerAnalysis(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "analyze-cycle",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/analysis",
		Summary:     "Run Pugh, tradeoff and decision quality analysis",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Analyze(ctx, input.CycleID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-analysis",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/analysis",
		Summary:     "Latest stored analysis",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*struct {
		Body StoredReportResponse `json:"body"`
	}, error) {
		c, err := e.GetCycle(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		rep, run, err := e.LatestAnalysis(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StoredReportResponse `json:"body"`
		}{Body: StoredReportResponse{
			RunID:     run.ID,
			ActorID:   run.ActorID,
			CreatedAt: run.CreatedAt,
			Stale:     isStale(rep, c),
			Report:    reportResponse(rep),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/analysis",
		Summary:     "Compare the analysis of every cycle in a session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body []ReportResponse `json:"body"`
	}, error) {
		reports, err := e.AnalyzeSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ReportResponse, 0, len(reports))
		for _, r := range reports {
			out = append(out, reportResponse(r))
		}
		return &struct {
			Body []ReportResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID string `query:"session_id"`
		CycleID   string `query:"cycle_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilter{
			Limit:     limit + 1,
			Cursor:    cursorID,
			SessionID: input.SessionID,
			CycleID:   input.CycleID,
			Type:      input.Type,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			// Events come newest first; the cursor is the last one returned.
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
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

// rawBodyMap returns the top-level fields of the request body as raw JSON,
// so outputs reach the engine byte for byte.
func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
