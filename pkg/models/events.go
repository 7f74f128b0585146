package models

import "time"

// EventType identifies the kind of AgentEvent. It is a closed set: every
// value the engine can emit is listed here, and every AgentEvent carries
// exactly one of the payload fields matching its Type.
type EventType string

const (
	EventThinking    EventType = "thinking"
	EventSkillCall   EventType = "skill_call"
	EventSkillResult EventType = "skill_result"
	EventCodeExecute EventType = "code_execute"
	EventCodeResult  EventType = "code_result"
	EventAnswer      EventType = "answer"
	EventWarning     EventType = "warning"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

// AgentEvent is one unit of the run's event stream. Sequence is monotonic
// within a run and is the only ordering guarantee consumers should rely on;
// Time is for display and logging, not ordering.
type AgentEvent struct {
	Type     EventType `json:"type"`
	Time     time.Time `json:"time"`
	Sequence uint64    `json:"seq"`
	RunID    string    `json:"run_id"`
	Iter     int       `json:"iter"`

	Thinking    *ThinkingPayload    `json:"thinking,omitempty"`
	SkillCall   *SkillCallPayload   `json:"skill_call,omitempty"`
	SkillResult *SkillResultPayload `json:"skill_result,omitempty"`
	CodeExecute *CodeExecutePayload `json:"code_execute,omitempty"`
	CodeResult  *CodeResultPayload  `json:"code_result,omitempty"`
	Answer      *AnswerPayload      `json:"answer,omitempty"`
	Warning     *WarningPayload     `json:"warning,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`
	Done        *DonePayload        `json:"done,omitempty"`
}

// ThinkingPayload carries a chunk of the model's reasoning text, emitted as
// it streams in. Consumers that don't display reasoning may ignore it.
type ThinkingPayload struct {
	Delta string `json:"delta"`
}

// SkillCallPayload describes a skill invocation the engine is about to
// dispatch. Args is the raw argument text extracted from the invocation
// block, not yet validated against the skill's manifest.
type SkillCallPayload struct {
	CallID string `json:"call_id"`
	Skill  string `json:"skill"`
	Args   string `json:"args,omitempty"`
	Code   string `json:"code,omitempty"`
}

// SkillResultPayload reports the outcome of a dispatched skill invocation.
type SkillResultPayload struct {
	CallID     string `json:"call_id"`
	Skill      string `json:"skill"`
	Success    bool   `json:"success"`
	Text       string `json:"text"`
	DurationMs int64  `json:"duration_ms"`
}

// CodeExecutePayload describes a synthesized program about to be dispatched
// to the sandbox gateway on behalf of a skill call.
type CodeExecutePayload struct {
	CallID   string `json:"call_id"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// CodeResultPayload reports the sandbox gateway's response to a
// CodeExecutePayload.
type CodeResultPayload struct {
	CallID     string `json:"call_id"`
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// AnswerPayload carries an incremental delta of the final answer text.
// Final is set only on the last answer event of a turn, alongside the
// complete accumulated text.
type AnswerPayload struct {
	Delta string `json:"delta"`
	Final bool   `json:"final,omitempty"`
	Text  string `json:"text,omitempty"`
}

// WarningPayload is a non-fatal condition surfaced to the caller, e.g. a
// malformed invocation block that was skipped rather than aborting the run.
type WarningPayload struct {
	Message string `json:"message"`
}

// ErrorPayload standardizes terminal errors for the stream. Err preserves
// the underlying error for errors.Is/errors.As and is not serialized.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Err     error  `json:"-"`
}

// DonePayload is the exactly-one terminal event of a run, reporting why it
// stopped and basic accounting for observability.
type DonePayload struct {
	Reason    string `json:"reason"`
	Iters     int    `json:"iters"`
	ToolCalls int    `json:"tool_calls"`
}
