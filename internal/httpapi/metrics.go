package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nexus-skills/orchestrator/internal/agent"
	"github.com/nexus-skills/orchestrator/pkg/models"
)

// metricsMiddleware records HTTPRequestDuration/HTTPRequestCounter for
// every request. It is a no-op when h.metrics is nil, so metrics stay
// entirely optional.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	if h.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		h.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		h.metrics.HTTPRequestCounter.WithLabelValues(r.Method, r.URL.Path, status).Inc()
	})
}

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so SSE streaming keeps working when
// the metrics middleware is active.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recordSkillResultMetrics updates skill execution metrics from an emitted
// event. Called from the event-drain loop of both the streaming and the
// buffered completion paths, so both are covered identically.
func (h *Handler) recordSkillResultMetrics(e models.AgentEvent) {
	if h.metrics == nil || e.Type != models.EventSkillResult || e.SkillResult == nil {
		return
	}
	status := "success"
	if !e.SkillResult.Success {
		status = "error"
	}
	h.metrics.SkillExecutionCounter.WithLabelValues(e.SkillResult.Skill, status).Inc()
	h.metrics.SkillExecutionDuration.WithLabelValues(e.SkillResult.Skill).Observe(float64(e.SkillResult.DurationMs) / 1000)
}

// recordAgentRunMetrics updates the agent-run metrics once a completion
// request (streaming or buffered) has finished.
func (h *Handler) recordAgentRunMetrics(start time.Time, result *agent.Result, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "done"
	if err != nil {
		outcome = "failed"
		var engineErr *agent.EngineError
		if errors.As(err, &engineErr) && engineErr.Phase == agent.PhaseAborted {
			outcome = "aborted"
		}
	}
	h.metrics.AgentRunDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if result != nil {
		h.metrics.AgentIterations.Observe(float64(result.Iterations))
	}
}
