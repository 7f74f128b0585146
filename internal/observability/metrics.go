// Package observability exposes the orchestrator's Prometheus metrics. It
// owns its own registry rather than registering into the global default
// registerer, so a process (or a test) can construct more than one Metrics
// without a duplicate-registration panic.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks HTTP transport, agent loop, skill execution, and memory
// retrieval activity.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequestDuration measures client API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts client API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// AgentRunDuration measures a full agent.Engine.Run call, start to
	// Done/Aborted/Failed.
	// Labels: outcome (done|aborted|failed)
	AgentRunDuration *prometheus.HistogramVec

	// AgentIterations tracks how many reason-act iterations a run took
	// before answering or hitting the bound.
	AgentIterations prometheus.Histogram

	// SkillExecutionCounter counts dispatched skill invocations.
	// Labels: skill, status (success|error)
	SkillExecutionCounter *prometheus.CounterVec

	// SkillExecutionDuration measures sandbox round-trip time per skill.
	// Labels: skill
	SkillExecutionDuration *prometheus.HistogramVec

	// MemoryRetrievalDuration measures the two-stage retrieval pipeline.
	MemoryRetrievalDuration prometheus.Histogram
}

// NewMetrics builds a Metrics bound to a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "Duration of client API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "Total number of client API requests",
			},
			[]string{"method", "path", "status_code"},
		),
		AgentRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_agent_run_duration_seconds",
				Help:    "Duration of a full agent run in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		AgentIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_agent_iterations",
				Help:    "Number of reason-act iterations per agent run",
				Buckets: []float64{1, 2, 3, 4, 5, 7, 10, 15, 20},
			},
		),
		SkillExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_skill_executions_total",
				Help: "Total number of dispatched skill invocations",
			},
			[]string{"skill", "status"},
		),
		SkillExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_skill_execution_duration_seconds",
				Help:    "Duration of sandbox-dispatched skill invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"skill"},
		),
		MemoryRetrievalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_memory_retrieval_duration_seconds",
				Help:    "Duration of the two-stage memory retrieval pipeline in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
		),
	}
}

// Handler serves the registry's metrics in the Prometheus exposition
// format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
