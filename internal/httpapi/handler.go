// Package httpapi is the thin net/http transport that exposes the
// orchestration core over HTTP/SSE. It owns no orchestration logic of its
// own: every handler decodes a request, drives the agent engine, session
// store, or skill registry, and encodes the result. Plain http.HandlerFunc
// methods on a Handler struct, no router framework.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nexus-skills/orchestrator/internal/agent"
	"github.com/nexus-skills/orchestrator/internal/auth"
	"github.com/nexus-skills/orchestrator/internal/observability"
	"github.com/nexus-skills/orchestrator/internal/sessions"
	"github.com/nexus-skills/orchestrator/internal/skills"
)

// maxRequestBodyBytes bounds a decoded request body so a client can't
// stream an unbounded payload into the decoder.
const maxRequestBodyBytes = 1 << 20 // 1MiB

// Handler serves the client API. It is
// constructed once per process and is safe for concurrent use: every
// dependency it holds (engine, store, registry) is itself safe for
// concurrent use.
type Handler struct {
	engine   *agent.Engine
	store    sessions.Store
	registry *skills.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	auth     *auth.Service
}

// Config names the dependencies a Handler needs. Metrics and Auth are
// optional: a nil Metrics disables instrumentation and the /metrics route,
// and a nil or disabled Auth serves every route unauthenticated.
type Config struct {
	Engine   *agent.Engine
	Store    sessions.Store
	Registry *skills.Registry
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Auth     *auth.Service
}

// NewHandler constructs a Handler from cfg. Engine and Store are required;
// Registry may be nil, in which case the skills endpoints report an empty
// catalog.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Engine == nil {
		return nil, errMissingDependency("Engine")
	}
	if cfg.Store == nil {
		return nil, errMissingDependency("Store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		engine:   cfg.Engine,
		store:    cfg.Store,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		auth:     cfg.Auth,
	}, nil
}

type missingDependencyError string

func (e missingDependencyError) Error() string { return "httpapi: missing required dependency: " + string(e) }

func errMissingDependency(name string) error { return missingDependencyError(name) }

// Mux builds the routed http.ServeMux for the client API, using Go 1.22's
// method-aware ServeMux patterns so handlers never switch on r.Method
// themselves.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /agent/completions", h.handleCompletions)

	mux.HandleFunc("POST /agent/sessions", h.handleSessionCreate)
	mux.HandleFunc("GET /agent/sessions", h.handleSessionList)
	mux.HandleFunc("GET /agent/sessions/{id}", h.handleSessionGet)
	mux.HandleFunc("PUT /agent/sessions/{id}", h.handleSessionUpdate)
	mux.HandleFunc("DELETE /agent/sessions/{id}", h.handleSessionDelete)

	mux.HandleFunc("GET /agent/sessions/{id}/messages", h.handleMessageList)
	mux.HandleFunc("DELETE /agent/sessions/{id}/messages/{mid}", h.handleMessageDelete)

	mux.HandleFunc("GET /agent/sessions/{id}/memories", h.handleMemoryList)
	mux.HandleFunc("POST /agent/sessions/{id}/memories", h.handleMemoryUpsert)
	mux.HandleFunc("GET /agent/sessions/{id}/memories/{key}", h.handleMemoryGet)
	mux.HandleFunc("DELETE /agent/sessions/{id}/memories/{key}", h.handleMemoryDelete)

	mux.HandleFunc("GET /agent/skills", h.handleSkillList)
	mux.HandleFunc("GET /agent/skills/{name}", h.handleSkillGet)
	mux.HandleFunc("POST /agent/skills/refresh", h.handleSkillRefresh)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	wrapped := http.NewServeMux()
	wrapped.Handle("/", auth.Middleware(h.auth, h.logger)(h.metricsMiddleware(mux)))
	return wrapped
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("httpapi: encode response failed", "error", err)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.jsonError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
