package llm

import (
	"context"
	"strings"

	"github.com/nexus-skills/orchestrator/internal/agent"
)

// ProviderSummarizer implements memory.Summarizer by driving a plain,
// single-shot completion through an agent.LLMProvider and draining its
// stream into one string. It is the narrow seam the memory store uses
// instead of depending on the full streaming engine.
type ProviderSummarizer struct {
	provider    agent.LLMProvider
	model       string
	maxTokens   int
	temperature float64
}

// NewProviderSummarizer wraps provider for use as a memory.Summarizer.
// model selects which model to call; if empty, the provider's own default
// is used.
func NewProviderSummarizer(provider agent.LLMProvider, model string) *ProviderSummarizer {
	return &ProviderSummarizer{provider: provider, model: model, maxTokens: 1024, temperature: 0}
}

// Summarize sends instruction as the sole user turn and returns the
// concatenation of every text delta the provider streams back.
func (s *ProviderSummarizer) Summarize(ctx context.Context, instruction string) (string, error) {
	chunks, err := s.provider.Complete(ctx, agent.CompletionRequest{
		Model:       s.model,
		Messages:    []agent.CompletionMessage{{Role: "user", Content: instruction}},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		out.WriteString(chunk.TextDelta)
	}
	return strings.TrimSpace(out.String()), nil
}
