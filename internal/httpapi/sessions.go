package httpapi

import (
	"net/http"
	"strconv"

	"github.com/nexus-skills/orchestrator/internal/sessions"
	"github.com/nexus-skills/orchestrator/pkg/models"
)

type sessionCreateRequest struct {
	Title                string  `json:"title"`
	Model                string  `json:"model"`
	SystemPromptOverride string  `json:"system_prompt_override"`
	Temperature          float64 `json:"temperature"`
}

func (h *Handler) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	session := &models.Session{
		Title:                req.Title,
		Model:                req.Model,
		SystemPromptOverride: req.SystemPromptOverride,
		Temperature:          req.Temperature,
		Active:               true,
	}
	if err := h.store.Create(r.Context(), session); err != nil {
		h.jsonError(w, http.StatusInternalServerError, "create session: "+err.Error())
		return
	}
	h.jsonResponse(w, http.StatusCreated, session)
}

func (h *Handler) handleSessionList(w http.ResponseWriter, r *http.Request) {
	opts := sessions.ListOptions{
		Limit:  parseIntQuery(r, "limit", 0),
		Offset: parseIntQuery(r, "offset", 0),
	}
	list, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.jsonError(w, http.StatusInternalServerError, "list sessions: "+err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.jsonError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	h.jsonResponse(w, http.StatusOK, session)
}

type sessionUpdateRequest struct {
	Title                *string  `json:"title"`
	Model                *string  `json:"model"`
	SystemPromptOverride *string  `json:"system_prompt_override"`
	Temperature          *float64 `json:"temperature"`
	Active               *bool    `json:"active"`
	Archived             *bool    `json:"archived"`
}

func (h *Handler) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.jsonError(w, http.StatusNotFound, "session not found: "+id)
		return
	}

	var req sessionUpdateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Title != nil {
		session.Title = *req.Title
	}
	if req.Model != nil {
		session.Model = *req.Model
	}
	if req.SystemPromptOverride != nil {
		session.SystemPromptOverride = *req.SystemPromptOverride
	}
	if req.Temperature != nil {
		session.Temperature = *req.Temperature
	}
	if req.Active != nil {
		session.Active = *req.Active
	}
	if req.Archived != nil {
		session.Archived = *req.Archived
	}

	if err := h.store.Update(r.Context(), session); err != nil {
		h.jsonError(w, http.StatusInternalServerError, "update session: "+err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, session)
}

func (h *Handler) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.jsonError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMessageList(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := parseIntQuery(r, "limit", 0)
	messages, err := h.store.GetHistory(r.Context(), id, limit)
	if err != nil {
		h.jsonError(w, http.StatusInternalServerError, "list messages: "+err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mid := r.PathValue("mid")
	includeFollowing, _ := strconv.ParseBool(r.URL.Query().Get("include_following"))

	if err := h.store.DeleteMessage(r.Context(), id, mid, includeFollowing); err != nil {
		h.jsonError(w, http.StatusNotFound, "message not found: "+mid)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
