package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexus-skills/orchestrator/internal/agent"
	"github.com/nexus-skills/orchestrator/internal/memory"
	"github.com/nexus-skills/orchestrator/internal/sandbox"
	"github.com/nexus-skills/orchestrator/internal/sessions"
	"github.com/nexus-skills/orchestrator/internal/skills"
)

// fakeProvider streams a fixed, invocation-free reply so completions tests
// never touch a real LLM or sandbox.
type fakeProvider struct{ reply string }

func (p *fakeProvider) Name() string          { return "fake" }
func (p *fakeProvider) Models() []agent.Model { return []agent.Model{{ID: "fake-model"}} }

func (p *fakeProvider) Complete(ctx context.Context, req agent.CompletionRequest) (<-chan agent.CompletionChunk, error) {
	ch := make(chan agent.CompletionChunk, 2)
	ch <- agent.CompletionChunk{TextDelta: p.reply}
	ch <- agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	store := sessions.NewMemoryStore()
	mem := memory.NewStore(nil, nil, store, memory.Config{})
	exec := sandbox.NewExecutor(sandbox.NewGateway("http://unused.invalid", nil))
	registry := skills.NewRegistry(t.TempDir())
	if err := registry.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	engine := agent.NewEngine(&fakeProvider{reply: "Hi!"}, exec, store, mem, registry, agent.DefaultEngineConfig())

	h, err := NewHandler(Config{Engine: engine, Store: store, Registry: registry})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Mux()

	createBody := bytes.NewBufferString(`{"model":"fake-model"}`)
	req := httptest.NewRequest(http.MethodPost, "/agent/sessions", createBody)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected non-empty session id")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/agent/sessions/"+id, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/agent/sessions/"+id, nil)
	delRec := httptest.NewRecorder()
	mux.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", delRec.Code)
	}

	missingRec := httptest.NewRecorder()
	mux.ServeHTTP(missingRec, httptest.NewRequest(http.MethodGet, "/agent/sessions/"+id, nil))
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete status = %d, want 404", missingRec.Code)
	}
}

func TestCompletionsNonStreaming(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Mux()

	body := bytes.NewBufferString(`{"message":"Hello","stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/agent/completions", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp completionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "Hi!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hi!")
	}
	if resp.SessionID == "" {
		t.Error("expected a session id to be assigned on demand")
	}

	foundDone := false
	for _, e := range resp.Events {
		if e.EventType == "done" {
			foundDone = true
		}
	}
	if !foundDone {
		t.Error("expected a done event among the returned events")
	}
}

func TestSkillEndpointsEmptyRegistry(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/skills", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	refreshRec := httptest.NewRecorder()
	mux.ServeHTTP(refreshRec, httptest.NewRequest(http.MethodPost, "/agent/skills/refresh", nil))
	if refreshRec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", refreshRec.Code, refreshRec.Body.String())
	}
}
