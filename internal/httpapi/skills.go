package httpapi

import "net/http"

type skillCatalogEntry struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Executable    bool     `json:"executable"`
	ClientClass   string   `json:"client_class,omitempty"`
	DefaultMethod string   `json:"default_method,omitempty"`
	RelatedTools  []string `json:"related_tools,omitempty"`
}

func (h *Handler) handleSkillList(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.jsonResponse(w, http.StatusOK, map[string]any{"skills": []skillCatalogEntry{}})
		return
	}
	snap := h.registry.Snapshot()
	if snap == nil {
		h.jsonResponse(w, http.StatusOK, map[string]any{"skills": []skillCatalogEntry{}})
		return
	}

	list := snap.List()
	entries := make([]skillCatalogEntry, 0, len(list))
	for _, m := range list {
		entries = append(entries, skillCatalogEntry{
			Name:          m.Name,
			Description:   m.Description,
			Executable:    m.Executable,
			ClientClass:   m.ClientClass,
			DefaultMethod: m.DefaultMethod,
			RelatedTools:  m.RelatedTools,
		})
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{"skills": entries})
}

func (h *Handler) handleSkillGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if h.registry == nil {
		h.jsonError(w, http.StatusNotFound, "skill not found: "+name)
		return
	}
	m, err := h.registry.Get(name)
	if err != nil {
		h.jsonError(w, http.StatusNotFound, "skill not found: "+name)
		return
	}
	h.jsonResponse(w, http.StatusOK, skillCatalogEntry{
		Name:          m.Name,
		Description:   m.Description,
		Executable:    m.Executable,
		ClientClass:   m.ClientClass,
		DefaultMethod: m.DefaultMethod,
		RelatedTools:  m.RelatedTools,
	})
}

func (h *Handler) handleSkillRefresh(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.jsonError(w, http.StatusServiceUnavailable, "no skill registry configured")
		return
	}
	if err := h.registry.Refresh(r.Context()); err != nil {
		h.jsonError(w, http.StatusInternalServerError, "refresh registry: "+err.Error())
		return
	}
	snap := h.registry.Snapshot()
	count := 0
	if snap != nil {
		count = len(snap.List())
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{"status": "ok", "skill_count": count})
}
