// Package llm implements agent.LLMProvider adapters for upstream model
// services. AnthropicProvider is the only implementation today; it wraps
// the official Anthropic SDK's streaming Messages API and translates its
// events into the engine's plain-text CompletionChunk stream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/nexus-skills/orchestrator/internal/agent"
)

// AnthropicProvider implements agent.LLMProvider against Anthropic's Claude
// API. Unlike a function-calling client, it never sends Tools: skill
// invocations travel as inline tags inside the streamed text, so only the
// system prompt, message history, and plain text/thinking deltas cross the
// wire.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required;
// the rest default to the same values the provider would pick on its own.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider validates config, applies defaults, and opens an SDK
// client. It does not make any network calls.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-5"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name identifies the provider for logging and routing.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models lists the Claude models this provider accepts.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-5", ContextSize: 200000},
		{ID: "claude-opus-4-5", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", ContextSize: 200000},
	}
}

// Complete opens a streaming completion and translates SDK events into
// CompletionChunks on the returned channel. The channel is always closed by
// the spawned goroutine, whether the stream ends normally, errors, or the
// context is cancelled.
func (p *AnthropicProvider) Complete(ctx context.Context, req agent.CompletionRequest) (<-chan agent.CompletionChunk, error) {
	chunks := make(chan agent.CompletionChunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}

			if !isRetryableError(err) {
				chunks <- agent.CompletionChunk{Err: p.wrapError(err)}
				return
			}

			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- agent.CompletionChunk{Err: ctx.Err()}
					return
				case <-time.After(backoff):
					continue
				}
			}
		}

		if err != nil {
			chunks <- agent.CompletionChunk{Err: fmt.Errorf("llm: anthropic max retries exceeded: %w", p.wrapError(err))}
			return
		}

		p.processStream(ctx, stream, chunks)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req agent.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents bounds how many consecutive events can carry no
// chunk-worthy payload before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- agent.CompletionChunk) {
	emptyEventCount := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		if ctx.Err() != nil {
			chunks <- agent.CompletionChunk{Err: ctx.Err()}
			return
		}

		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- agent.CompletionChunk{TextDelta: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- agent.CompletionChunk{ThinkingDelta: delta.Thinking}
					processed = true
				}
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- agent.CompletionChunk{Err: p.wrapError(errors.New("anthropic stream error"))}
			return
		}

		if processed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- agent.CompletionChunk{Err: fmt.Errorf("llm: stream appears malformed: %d consecutive empty events", emptyEventCount)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- agent.CompletionChunk{Err: p.wrapError(err)}
	}
}

// convertMessages maps plain-text turns onto Anthropic message params.
// System-role turns are dropped here; the engine sends the composed system
// prompt (and any forced-final directive) separately via req.System, not as
// a message in the slice — callers that need a mid-transcript system turn
// should fold it into System before calling Complete.
func convertMessages(messages []agent.CompletionMessage) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			continue
		case "assistant":
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			// user and tool roles both surface as user turns: Claude has no
			// separate "tool" role outside structured tool_result blocks,
			// and skill observations here are plain text, not tool_result
			// content.
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return result
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("llm: anthropic request failed (status %d): %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("llm: anthropic request failed: %w", err)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 409, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
