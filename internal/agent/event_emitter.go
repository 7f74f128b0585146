package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// EventEmitter stamps outgoing events with a monotonic per-run sequence
// number and the current iteration, then hands them to a sink. It is the
// only place the engine constructs a models.AgentEvent, so every event on
// the wire carries consistent sequencing.
type EventEmitter struct {
	runID    string
	sequence uint64

	iter int

	sink EventSink
}

// NewEventEmitter creates an emitter for one request. A nil sink is
// replaced with NopSink.
func NewEventEmitter(runID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{runID: runID, sink: sink}
}

// SetIter updates the iteration number stamped onto subsequent events.
func (e *EventEmitter) SetIter(iter int) { e.iter = iter }

func (e *EventEmitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

func (e *EventEmitter) base(eventType models.EventType) models.AgentEvent {
	return models.AgentEvent{
		Type:     eventType,
		Time:     time.Now(),
		Sequence: e.nextSeq(),
		RunID:    e.runID,
		Iter:     e.iter,
	}
}

func (e *EventEmitter) emit(ctx context.Context, event models.AgentEvent) models.AgentEvent {
	e.sink.Emit(ctx, event)
	return event
}

// Thinking emits a chunk of reasoning text: either the provider's native
// thinking channel, or visible prose streamed before the request's first
// dispatched skill invocation.
func (e *EventEmitter) Thinking(ctx context.Context, delta string) models.AgentEvent {
	event := e.base(models.EventThinking)
	event.Thinking = &models.ThinkingPayload{Delta: delta}
	return e.emit(ctx, event)
}

// Answer emits a chunk of post-invocation answer text. final marks the
// last answer event of a turn and carries the complete accumulated text.
func (e *EventEmitter) Answer(ctx context.Context, delta string, final bool, full string) models.AgentEvent {
	event := e.base(models.EventAnswer)
	event.Answer = &models.AnswerPayload{Delta: delta, Final: final, Text: full}
	return e.emit(ctx, event)
}

// SkillCall emits the name and code preview of a dispatched invocation.
func (e *EventEmitter) SkillCall(ctx context.Context, callID, skill, args, code string) models.AgentEvent {
	event := e.base(models.EventSkillCall)
	event.SkillCall = &models.SkillCallPayload{CallID: callID, Skill: skill, Args: args, Code: code}
	return e.emit(ctx, event)
}

// SkillResult emits the observation produced by a dispatched invocation.
func (e *EventEmitter) SkillResult(ctx context.Context, callID, skill string, success bool, text string, durationMs int64) models.AgentEvent {
	event := e.base(models.EventSkillResult)
	event.SkillResult = &models.SkillResultPayload{
		CallID: callID, Skill: skill, Success: success, Text: text, DurationMs: durationMs,
	}
	return e.emit(ctx, event)
}

// CodeExecute emits the synthesized program about to be forwarded to the
// sandbox gateway.
func (e *EventEmitter) CodeExecute(ctx context.Context, callID, language, code string) models.AgentEvent {
	event := e.base(models.EventCodeExecute)
	event.CodeExecute = &models.CodeExecutePayload{CallID: callID, Language: language, Code: code}
	return e.emit(ctx, event)
}

// CodeResult emits the sandbox gateway's response to a CodeExecute event.
func (e *EventEmitter) CodeResult(ctx context.Context, callID string, success bool, stdout, stderr string, exitCode int, durationMs int64) models.AgentEvent {
	event := e.base(models.EventCodeResult)
	event.CodeResult = &models.CodeResultPayload{
		CallID: callID, Success: success, Stdout: stdout, Stderr: stderr, ExitCode: exitCode, DurationMs: durationMs,
	}
	return e.emit(ctx, event)
}

// Warning emits a non-fatal condition: a malformed invocation block, or an
// invocation attempted during the forced final pass.
func (e *EventEmitter) Warning(ctx context.Context, message string) models.AgentEvent {
	event := e.base(models.EventWarning)
	event.Warning = &models.WarningPayload{Message: message}
	return e.emit(ctx, event)
}

// Error emits the terminal error event. No further events follow it.
func (e *EventEmitter) Error(ctx context.Context, err error, code string) models.AgentEvent {
	event := e.base(models.EventError)
	event.Error = &models.ErrorPayload{Message: err.Error(), Code: code, Err: err}
	return e.emit(ctx, event)
}

// Done emits the terminal done event. No further events follow it.
func (e *EventEmitter) Done(ctx context.Context, reason string, iters, toolCalls int) models.AgentEvent {
	event := e.base(models.EventDone)
	event.Done = &models.DonePayload{Reason: reason, Iters: iters, ToolCalls: toolCalls}
	return e.emit(ctx, event)
}
