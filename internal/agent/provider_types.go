package agent

import "context"

// LLMProvider is the interface the engine drives during the Streaming
// phase. Unlike a native function-calling API, a provider here only ever
// streams plain text: invocations are inline tags inside that text,
// recognized by the invocation parser, not structured tool_call objects.
// This keeps the engine portable across providers that don't support tool
// calling at all, which is the common case for small self-hosted models.
type LLMProvider interface {
	// Complete streams a completion for req. The returned channel is closed
	// when the stream ends, whether by normal completion, error, or ctx
	// cancellation; at most one chunk on the channel has Err set, and it is
	// always the last.
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)

	// Name identifies the provider for logging and the completion protocol.
	Name() string

	// Models lists the model identifiers this provider accepts in
	// CompletionRequest.Model.
	Models() []Model
}

// CompletionRequest is one turn's worth of context sent to a provider: the
// composed system prompt (date/time, skills catalog, memory excerpt,
// execution protocol — see the prompt composer) plus the message history.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float64
}

// CompletionMessage is one entry of conversation history handed to the
// provider. Skill invocations and their observations are represented as
// plain assistant/tool text turns, not structured tool-call fields, since
// the provider never sees them as anything but text.
type CompletionMessage struct {
	Role    string
	Content string
}

// CompletionChunk is one piece of a streamed completion. Exactly one of
// TextDelta or ThinkingDelta is set on a content chunk; Err is set only on
// the terminal chunk of a failed stream.
type CompletionChunk struct {
	TextDelta     string
	ThinkingDelta string
	Done          bool
	Err           error

	InputTokens  int
	OutputTokens int
}

// Model describes one model a provider can serve.
type Model struct {
	ID          string
	ContextSize int
}
