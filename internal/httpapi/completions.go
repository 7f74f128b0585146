package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexus-skills/orchestrator/internal/agent"
	"github.com/nexus-skills/orchestrator/pkg/models"
)

type completionsRequest struct {
	Message             string  `json:"message"`
	SessionID           string  `json:"session_id"`
	Model               string  `json:"model"`
	Stream              *bool   `json:"stream"`
	SkipSaveUserMessage bool    `json:"skip_save_user_message"`
	MaxIterations       int     `json:"max_iterations"`
	Temperature         float64 `json:"temperature"`

	// Images is accepted for wire compatibility with the client API
	// contract but isn't threaded into the engine's transcript: the agent
	// engine (internal/agent) is text-only per its CompletionMessage
	// shape, and extending it to carry image payloads is outside this
	// core's scope (see DESIGN.md).
	Images []models.ImagePayload `json:"images"`
}

// wireEvent is the client-facing encoding of an agent.EventEmitter event:
// event_type, timestamp, and type-specific keys. This is a projection of
// models.AgentEvent, not the struct itself, so the wire contract stays
// stable even if the internal tagged-union shape changes.
type wireEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	Content    string `json:"content,omitempty"`
	SkillName  string `json:"skill_name,omitempty"`
	Code       string `json:"code,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func toWireEvent(e models.AgentEvent) wireEvent {
	w := wireEvent{EventType: string(e.Type), Timestamp: e.Time}
	switch e.Type {
	case models.EventThinking:
		if e.Thinking != nil {
			w.Content = e.Thinking.Delta
		}
	case models.EventAnswer:
		if e.Answer != nil {
			w.Content = e.Answer.Delta
		}
	case models.EventSkillCall:
		if e.SkillCall != nil {
			w.SkillName = e.SkillCall.Skill
			w.Code = e.SkillCall.Code
		}
	case models.EventSkillResult:
		if e.SkillResult != nil {
			success := e.SkillResult.Success
			w.SkillName = e.SkillResult.Skill
			w.Success = &success
			w.Result = e.SkillResult.Text
			w.DurationMs = e.SkillResult.DurationMs
		}
	case models.EventCodeExecute:
		if e.CodeExecute != nil {
			w.Code = e.CodeExecute.Code
		}
	case models.EventCodeResult:
		if e.CodeResult != nil {
			success := e.CodeResult.Success
			w.Success = &success
			w.Result = e.CodeResult.Stdout
			w.DurationMs = e.CodeResult.DurationMs
		}
	case models.EventWarning:
		if e.Warning != nil {
			w.Content = e.Warning.Message
		}
	case models.EventError:
		if e.Error != nil {
			w.Error = e.Error.Message
		}
	case models.EventDone:
		if e.Done != nil {
			w.Reason = e.Done.Reason
		}
	}
	return w
}

type completionsResponse struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	Content    string      `json:"content"`
	Events     []wireEvent `json:"events"`
	SkillsUsed []string    `json:"skills_used"`
	Usage      usageReport `json:"usage"`
	Created    time.Time   `json:"created"`
}

// usageReport is a placeholder until the engine threads provider token
// counts through agent.Result: the fields are always present on the wire
// but read zero today.
type usageReport struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		h.jsonError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID, err := h.resolveSession(r.Context(), req)
	if err != nil {
		h.jsonError(w, http.StatusInternalServerError, "resolve session: "+err.Error())
		return
	}

	engineReq := agent.Request{
		SessionID:           sessionID,
		Message:             req.Message,
		Model:               req.Model,
		Temperature:         req.Temperature,
		MaxIterations:       req.MaxIterations,
		SkipSaveUserMessage: req.SkipSaveUserMessage,
	}

	stream := true
	if req.Stream != nil {
		stream = *req.Stream
	}
	if stream {
		h.streamCompletion(w, r, engineReq)
		return
	}
	h.bufferedCompletion(w, r, engineReq)
}

// resolveSession creates a session on demand when the caller doesn't
// supply one.
func (h *Handler) resolveSession(ctx context.Context, req completionsRequest) (string, error) {
	if req.SessionID != "" {
		return req.SessionID, nil
	}
	session := &models.Session{Model: req.Model, Active: true}
	if err := h.store.Create(ctx, session); err != nil {
		return "", err
	}
	return session.ID, nil
}

// runOutcome carries the engine goroutine's result back to the request
// handler once the event channel has drained.
type runOutcome struct {
	result *agent.Result
	err    error
}

// runWithSink runs the engine in its own goroutine behind a
// BackpressureSink and returns the merged event channel plus the channel
// the outcome arrives on. The sink is closed when the run ends, so the
// event channel always terminates; the handler goroutine and the engine
// only ever meet through these channels.
func (h *Handler) runWithSink(r *http.Request, req agent.Request) (<-chan models.AgentEvent, <-chan runOutcome) {
	sink, events := agent.NewBackpressureSink(agent.DefaultBackpressureConfig())
	done := make(chan runOutcome, 1)
	go func() {
		result, err := h.engine.Run(r.Context(), req, sink)
		sink.Close()
		done <- runOutcome{result: result, err: err}
	}()
	return events, done
}

func (h *Handler) streamCompletion(w http.ResponseWriter, r *http.Request, req agent.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, http.StatusInternalServerError, "streaming unsupported by this transport")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	events, done := h.runWithSink(r, req)
	for e := range events {
		h.recordSkillResultMetrics(e)
		data, err := json.Marshal(toWireEvent(e))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	outcome := <-done
	h.recordAgentRunMetrics(start, outcome.result, outcome.err)
	if outcome.err != nil {
		h.logger.Warn("agent run ended with error", "session_id", req.SessionID, "error", outcome.err)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *Handler) bufferedCompletion(w http.ResponseWriter, r *http.Request, req agent.Request) {
	start := time.Now()
	events, done := h.runWithSink(r, req)

	var wireEvents []wireEvent
	for e := range events {
		h.recordSkillResultMetrics(e)
		wireEvents = append(wireEvents, toWireEvent(e))
	}

	outcome := <-done
	h.recordAgentRunMetrics(start, outcome.result, outcome.err)
	if outcome.err != nil {
		h.jsonError(w, http.StatusInternalServerError, "agent run failed: "+outcome.err.Error())
		return
	}
	result := outcome.result

	h.jsonResponse(w, http.StatusOK, completionsResponse{
		ID:         result.SessionID + "-" + fmt.Sprint(result.Iterations),
		SessionID:  result.SessionID,
		Content:    result.Content,
		Events:     wireEvents,
		SkillsUsed: result.SkillsUsed,
		Created:    time.Now(),
	})
}
