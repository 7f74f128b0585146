package httpapi

import (
	"net/http"
	"time"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

func (h *Handler) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := h.store.ListEntries(r.Context(), id)
	if err != nil {
		h.jsonError(w, http.StatusInternalServerError, "list memory entries: "+err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{"memories": entries})
}

func (h *Handler) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	key := r.PathValue("key")

	entries, err := h.store.ListEntries(r.Context(), id)
	if err != nil {
		h.jsonError(w, http.StatusInternalServerError, "list memory entries: "+err.Error())
		return
	}
	for _, e := range entries {
		if e.Key == key {
			h.jsonResponse(w, http.StatusOK, e)
			return
		}
	}
	h.jsonError(w, http.StatusNotFound, "memory entry not found: "+key)
}

type memoryUpsertRequest struct {
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleMemoryUpsert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req memoryUpsertRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" {
		h.jsonError(w, http.StatusBadRequest, "key is required")
		return
	}

	entry := &models.MemoryEntry{
		SessionID: id,
		Category:  req.Category,
		Key:       req.Key,
		Value:     req.Value,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.store.UpsertMemoryEntry(r.Context(), entry); err != nil {
		h.jsonError(w, http.StatusInternalServerError, "upsert memory entry: "+err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, entry)
}

func (h *Handler) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	key := r.PathValue("key")
	if err := h.store.DeleteMemoryEntry(r.Context(), id, key); err != nil {
		h.jsonError(w, http.StatusNotFound, "memory entry not found: "+key)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
