package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-skills/orchestrator/internal/memory"
	"github.com/nexus-skills/orchestrator/internal/sandbox"
	"github.com/nexus-skills/orchestrator/internal/sessions"
	"github.com/nexus-skills/orchestrator/internal/skills"
	"github.com/nexus-skills/orchestrator/pkg/models"
)

const (
	defaultMaxIterations  = 10
	defaultSandboxTimeout = 30 * time.Second
	defaultCancelGrace    = 2 * time.Second
	defaultMaxTokens      = 4096
	defaultTemperature    = 0.7
)

// EngineConfig tunes one Engine. Zero values fall back to the package
// defaults above.
type EngineConfig struct {
	MaxIterations  int
	MaxTokens      int
	Temperature    float64
	SandboxTimeout time.Duration
	CancelGrace    time.Duration
}

// DefaultEngineConfig returns the stated defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations:  defaultMaxIterations,
		MaxTokens:      defaultMaxTokens,
		Temperature:    defaultTemperature,
		SandboxTimeout: defaultSandboxTimeout,
		CancelGrace:    defaultCancelGrace,
	}
}

func (c EngineConfig) sanitized() EngineConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.SandboxTimeout <= 0 {
		c.SandboxTimeout = defaultSandboxTimeout
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = defaultCancelGrace
	}
	return c
}

// SkillExecutor dispatches one parsed invocation and returns its
// observation. *sandbox.Executor satisfies this; tests substitute a fake
// so the loop can be exercised without a live sandbox gateway.
type SkillExecutor interface {
	Execute(ctx context.Context, snap *skills.Snapshot, inv sandbox.Invocation, timeout time.Duration) sandbox.Observation
}

// Engine drives the bounded reason-act loop: compose a prompt, stream from
// the LLM, parse invocations out of the stream, dispatch them through the
// sandbox, and repeat until the model produces a final answer or the
// iteration bound forces one.
//
// A pass (one LLM completion) ends one of two ways: with a final answer —
// either the pass contained no invocations at all, or the model kept
// talking after its last invocation, in which case that trailing text is
// the answer — or with the response ending right after an invocation, in
// which case the engine issues a new completion so the model can react to
// the observation; this is what re-entering Streaming between iterations
// means. Within a single pass, several invocations may close in textual
// order; each is dispatched as soon as it closes, without waiting for the
// pass to end.
type Engine struct {
	provider LLMProvider
	executor SkillExecutor
	store    sessions.Store
	mem      *memory.Store
	registry *skills.Registry
	config   EngineConfig
}

// NewEngine constructs an Engine. registry may be nil (empty skill catalog);
// mem may be nil (no memory excerpt is composed).
func NewEngine(provider LLMProvider, executor SkillExecutor, store sessions.Store, mem *memory.Store, registry *skills.Registry, config EngineConfig) *Engine {
	return &Engine{
		provider: provider,
		executor: executor,
		store:    store,
		mem:      mem,
		registry: registry,
		config:   config.sanitized(),
	}
}

// Request is one client turn against a session.
type Request struct {
	SessionID            string
	Message              string
	Model                string
	SystemPromptOverride string
	Temperature          float64
	MaxIterations        int
	SkipSaveUserMessage  bool
}

// Result is the outcome of a completed request (Done, not Aborted/Failed).
type Result struct {
	SessionID  string
	Content    string
	SkillsUsed []string
	Iterations int
	ToolCalls  int
}

// forcedFinalDirective is injected as a synthetic system turn once the
// iteration bound is reached.
const forcedFinalDirective = "You have reached the maximum number of skill invocations allowed for this turn. Answer now using only what you already know and what the skill results above told you. Do not invoke any further skills."

// Run executes one request end to end, emitting every event to sink. It
// returns a Result on normal completion, or an *EngineError whose Phase
// names where the request stopped (PhaseAborted on caller cancellation,
// PhaseFailed-shaped otherwise).
func (e *Engine) Run(ctx context.Context, req Request, sink EventSink) (*Result, error) {
	emitter := NewEventEmitter(uuid.NewString(), sink)

	if e.provider == nil {
		return fail(ctx, emitter, "no_provider", &EngineError{Phase: PhaseStarting, Cause: ErrNoProvider})
	}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = e.config.MaxIterations
	}

	session, err := e.store.Get(ctx, req.SessionID)
	if err != nil {
		return fail(ctx, emitter, "persistence_error", &EngineError{Phase: PhaseStarting, Message: "load session", Cause: err})
	}

	history, err := e.store.GetHistory(ctx, req.SessionID, 0)
	if err != nil {
		return fail(ctx, emitter, "persistence_error", &EngineError{Phase: PhaseStarting, Message: "load history", Cause: err})
	}

	if !req.SkipSaveUserMessage {
		userMsg := &models.Message{Role: models.RoleUser, Content: req.Message, CreatedAt: time.Now()}
		if err := e.store.AppendMessage(ctx, req.SessionID, userMsg); err != nil {
			return fail(ctx, emitter, "persistence_error", &EngineError{Phase: PhaseStarting, Message: "persist user message", Cause: err})
		}
	}

	transcript := append(append([]*models.Message{}, history...), &models.Message{
		Role: models.RoleUser, Content: req.Message, CreatedAt: time.Now(),
	})

	temperature := firstNonZero(req.Temperature, session.Temperature, e.config.Temperature)
	model := req.Model
	if model == "" {
		model = session.Model
	}

	// The snapshot is captured once and held for the whole request: a
	// concurrent registry refresh must not swap the skill catalog out from
	// under an in-flight run.
	var snap *skills.Snapshot
	if e.registry != nil {
		snap = e.registry.Snapshot()
	}

	i := 0
	toolCalls := 0
	skillsUsed := map[string]bool{}
	forcedFinal := false   // bound reached; no further invocation is dispatched
	finalPass := false     // currently streaming the directive-driven final pass
	dispatchedAny := false // prose routes as thinking until the first dispatch

	for {
		emitter.SetIter(i)

		if ctx.Err() != nil {
			return e.abort(req.SessionID, "")
		}

		var excerpt string
		if e.mem != nil {
			var err error
			excerpt, err = e.mem.BuildExcerpt(ctx, req.SessionID, transcript, req.Message)
			if err != nil {
				return fail(ctx, emitter, "memory_error", &EngineError{Phase: PhaseComposing, Iteration: i, Message: "build memory excerpt", Cause: err})
			}
		}

		systemPrompt := req.SystemPromptOverride
		if systemPrompt == "" {
			systemPrompt = session.SystemPromptOverride
		}
		if systemPrompt == "" {
			systemPrompt = ComposePrompt(time.Now(), snap, excerpt)
		}
		if finalPass {
			// Folded into the system prompt rather than appended as a
			// system-role turn: providers that lack a mid-transcript system
			// role (Anthropic) would otherwise drop the directive.
			systemPrompt = systemPrompt + "\n\n" + forcedFinalDirective
		}

		messages := make([]CompletionMessage, 0, len(transcript))
		for _, m := range transcript {
			messages = append(messages, CompletionMessage{Role: string(m.Role), Content: m.Content})
		}

		stream, err := e.provider.Complete(ctx, CompletionRequest{
			Model:       model,
			System:      systemPrompt,
			Messages:    messages,
			MaxTokens:   e.config.MaxTokens,
			Temperature: temperature,
		})
		if err != nil {
			return fail(ctx, emitter, "llm_stream_error", &EngineError{Phase: PhaseStreaming, Iteration: i, Message: "start completion", Cause: err})
		}

		parser := NewInvocationParser()
		var answerBuf strings.Builder
		sawAnyContent := false
		invocationsThisPass := 0
		aborted := false
		var streamErr error

	drain:
		for {
			select {
			case <-ctx.Done():
				aborted = true
				break drain
			case chunk, ok := <-stream:
				if !ok {
					break drain
				}
				if chunk.Err != nil {
					streamErr = chunk.Err
					break drain
				}

				if chunk.ThinkingDelta != "" {
					sawAnyContent = true
					emitter.Thinking(ctx, chunk.ThinkingDelta)
				}

				if chunk.TextDelta == "" {
					continue
				}
				sawAnyContent = true

				for _, seg := range parser.Feed(chunk.TextDelta) {
					if seg.Invocation == nil {
						if seg.Text == "" {
							continue
						}
						// Visible prose before the first dispatched invocation
						// is the model reasoning its way toward one; only text
						// after a dispatch is answer material.
						answerBuf.WriteString(seg.Text)
						if dispatchedAny {
							emitter.Answer(ctx, seg.Text, false, "")
						} else {
							emitter.Thinking(ctx, seg.Text)
						}
						continue
					}

					inv := *seg.Invocation
					invocationsThisPass++

					if forcedFinal {
						emitter.Warning(ctx, fmt.Sprintf("skill %q invoked after the iteration bound was reached; ignored", inv.Skill))
						continue
					}

					callID := uuid.NewString()
					emitter.SkillCall(ctx, callID, inv.Skill, "", inv.Code)

					directSandbox := inv.Skill == sandbox.SandboxSkillName
					if directSandbox {
						emitter.CodeExecute(ctx, callID, "python", inv.Code)
					}

					obs := e.executor.Execute(ctx, snap, sandbox.Invocation{Skill: inv.Skill, Code: inv.Code}, e.config.SandboxTimeout)

					if directSandbox {
						if rr, ok := obs.Raw.(*sandbox.RunResult); ok {
							emitter.CodeResult(ctx, callID, rr.Success, rr.Stdout, rr.Stderr, rr.ExitCode, rr.DurationMs)
						}
					}
					emitter.SkillResult(ctx, callID, inv.Skill, obs.Success, obs.Text, obs.DurationMs)
					skillsUsed[inv.Skill] = true
					toolCalls++

					toolMsg := &models.Message{
						Role:      models.RoleTool,
						Content:   obs.Text,
						EventType: string(models.EventSkillResult),
						SkillName: inv.Skill,
						CreatedAt: time.Now(),
					}
					if obs.Raw != nil {
						toolMsg.Extra = &models.ToolResultData{Success: obs.Success, Text: obs.Text, Raw: obs.Raw, DurationMs: obs.DurationMs}
					}
					if err := e.store.AppendMessage(ctx, req.SessionID, toolMsg); err != nil {
						return fail(ctx, emitter, "persistence_error", &EngineError{Phase: PhaseDispatch, Iteration: i, Message: "persist tool message", Cause: err})
					}
					transcript = append(transcript, toolMsg)

					// Prose seen up to here was interstitial reasoning, not the
					// answer: only text after the last dispatched invocation can
					// end the turn.
					answerBuf.Reset()
					dispatchedAny = true

					i++
					if i >= maxIter {
						forcedFinal = true
					}
				}
			}
		}

		if streamErr != nil {
			if !sawAnyContent {
				return fail(ctx, emitter, "llm_stream_error", &EngineError{Phase: PhaseStreaming, Iteration: i, Cause: streamErr})
			}
			if perr := e.persistAssistant(ctx, req.SessionID, answerBuf.String()); perr != nil {
				return fail(ctx, emitter, "persistence_error", &EngineError{Phase: PhaseStreaming, Iteration: i, Message: "persist partial assistant message", Cause: perr})
			}
			return fail(ctx, emitter, "llm_stream_error", &EngineError{Phase: PhaseStreaming, Iteration: i, Cause: streamErr})
		}

		if aborted {
			return e.abort(req.SessionID, answerBuf.String())
		}

		trailing, malformed := parser.Close()
		if malformed {
			emitter.Warning(ctx, "malformed invocation: unterminated block at end of response")
		}
		if trailing != "" {
			answerBuf.WriteString(trailing)
			if dispatchedAny {
				emitter.Answer(ctx, trailing, false, "")
			} else {
				emitter.Thinking(ctx, trailing)
			}
		}

		// Text left after the last dispatched invocation is the model
		// answering without waiting for another turn; it ends the loop the
		// same way an invocation-free pass does.
		trailingAnswer := strings.TrimSpace(answerBuf.String()) != ""
		if invocationsThisPass == 0 || finalPass || trailingAnswer {
			final := answerBuf.String()
			if strings.TrimSpace(final) == "" {
				final = ""
			}
			emitter.Answer(ctx, "", true, final)
			if err := e.persistAssistant(ctx, req.SessionID, final); err != nil {
				return fail(ctx, emitter, "persistence_error", &EngineError{Phase: PhaseAnswering, Iteration: i, Message: "persist assistant message", Cause: err})
			}

			reason := "complete"
			if forcedFinal {
				reason = "iteration_bound"
			}
			emitter.Done(ctx, reason, i, toolCalls)

			used := make([]string, 0, len(skillsUsed))
			for name := range skillsUsed {
				used = append(used, name)
			}
			return &Result{SessionID: req.SessionID, Content: final, SkillsUsed: used, Iterations: i, ToolCalls: toolCalls}, nil
		}

		// invocationsThisPass > 0: loop back into Streaming with the
		// transcript extended by the tool messages appended above. If the
		// bound was reached this pass, the next pass is the forced final
		// one: the directive is appended and invocations are suppressed.
		if forcedFinal {
			finalPass = true
		}
	}
}

// fail emits the terminal error event for an unrecoverable failure and
// returns it. Cancellation never comes through here: an aborted run emits
// nothing past the abort boundary.
func fail(ctx context.Context, emitter *EventEmitter, code string, ee *EngineError) (*Result, error) {
	emitter.Error(ctx, ee, code)
	return nil, ee
}

// abort persists partial if non-empty and returns the terminal aborted
// error. No event is emitted: cancellation produces no further stream
// events once the caller's context is done.
func (e *Engine) abort(sessionID, partial string) (*Result, error) {
	if partial != "" {
		persistCtx, cancel := context.WithTimeout(context.Background(), defaultCancelGrace)
		defer cancel()
		_ = e.persistAssistant(persistCtx, sessionID, partial)
	}
	return nil, &EngineError{Phase: PhaseAborted, Cause: ErrCancelled}
}

func (e *Engine) persistAssistant(ctx context.Context, sessionID, content string) error {
	msg := &models.Message{Role: models.RoleAssistant, Content: content, CreatedAt: time.Now()}
	return e.store.AppendMessage(ctx, sessionID, msg)
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
