// Package memory implements the two-stage contextual-memory retrieval
// pipeline: external-reranker candidate selection over prior session
// messages, followed by a single LLM call that distills the candidates
// into a short excerpt for the Prompt Composer.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-skills/orchestrator/internal/reranker"
	"github.com/nexus-skills/orchestrator/pkg/models"
)

// Defaults for candidate selection and retrieval gating.
const (
	defaultTopK              = 20
	defaultScoreFloor        = 0.0
	defaultUserTurnThreshold = 4
)

// Summarizer performs the knowledge-extraction stage: a single-shot call
// to the LLM with a fixed instruction, given the reranked candidates and
// the current utterance. It is a narrow seam so the memory store never
// depends on the full LLMProvider streaming interface.
type Summarizer interface {
	Summarize(ctx context.Context, instruction string) (string, error)
}

// EntryStore lists the memory entries persisted via the API for a
// session. The memory store overlays these onto the retrieval excerpt
// unconditionally, regardless of whether retrieval ran.
type EntryStore interface {
	ListEntries(ctx context.Context, sessionID string) ([]*models.MemoryEntry, error)
}

// Config tunes the retrieval pipeline. Zero values fall back to the
// package defaults.
type Config struct {
	TopK              int
	ScoreFloor        float64
	UserTurnThreshold int

	// OnRetrieval, when set, receives the wall-clock duration of each
	// retrieval run (both stages together). It lets the caller feed a
	// metrics histogram without this package importing one.
	OnRetrieval func(time.Duration)
}

func (c Config) sanitized() Config {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.UserTurnThreshold <= 0 {
		c.UserTurnThreshold = defaultUserTurnThreshold
	}
	return c
}

// Store implements the two-stage retrieval pipeline described in the
// Memory Store component: candidate rerank, then LLM-driven knowledge
// extraction, with persisted memory entries always overlaid on top.
type Store struct {
	reranker   reranker.Reranker
	summarizer Summarizer
	entries    EntryStore
	config     Config
}

// NewStore constructs a Store. entries may be nil if no persisted
// memory-entry overlay is configured.
func NewStore(rr reranker.Reranker, summarizer Summarizer, entries EntryStore, config Config) *Store {
	return &Store{reranker: rr, summarizer: summarizer, entries: entries, config: config.sanitized()}
}

// BuildExcerpt produces the memory excerpt the Prompt Composer appends to
// the system prompt. history is the session transcript preceding the
// current utterance, in chronological order. Retrieval only runs once the
// number of user messages in history reaches the configured threshold;
// persisted entries are overlaid regardless.
func (s *Store) BuildExcerpt(ctx context.Context, sessionID string, history []*models.Message, utterance string) (string, error) {
	var b strings.Builder

	if s.userTurnCount(history) >= s.config.UserTurnThreshold {
		start := time.Now()
		excerpt, err := s.retrieve(ctx, history, utterance)
		if s.config.OnRetrieval != nil {
			s.config.OnRetrieval(time.Since(start))
		}
		if err != nil {
			return "", err
		}
		if excerpt != "" {
			b.WriteString(excerpt)
		}
	}

	if s.entries != nil {
		overlay, err := s.overlayEntries(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if overlay != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(overlay)
		}
	}

	return b.String(), nil
}

// userTurnCount counts user messages only: tool and assistant messages
// never advance the retrieval-gating threshold.
func (s *Store) userTurnCount(history []*models.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == models.RoleUser {
			n++
		}
	}
	return n
}

func (s *Store) retrieve(ctx context.Context, history []*models.Message, utterance string) (string, error) {
	if s.reranker == nil || s.summarizer == nil {
		return "", nil
	}

	candidates := make([]reranker.Candidate, 0, len(history))
	for _, m := range history {
		if (m.Role == models.RoleUser || m.Role == models.RoleAssistant) && m.Content != "" {
			candidates = append(candidates, reranker.Candidate{ID: m.ID, Content: m.Content})
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	scored, err := s.reranker.Rerank(ctx, utterance, candidates)
	if err != nil {
		return "", fmt.Errorf("rerank candidates: %w", err)
	}

	kept := make([]reranker.Scored, 0, s.config.TopK)
	for _, sc := range scored {
		if sc.Score < s.config.ScoreFloor {
			continue
		}
		kept = append(kept, sc)
		if len(kept) == s.config.TopK {
			break
		}
	}
	if len(kept) == 0 {
		return "", nil
	}

	excerpt, err := s.summarizer.Summarize(ctx, extractionInstruction(kept, utterance))
	if err != nil {
		return "", fmt.Errorf("extract knowledge excerpt: %w", err)
	}
	return excerpt, nil
}

func extractionInstruction(candidates []reranker.Scored, utterance string) string {
	var b strings.Builder
	b.WriteString("Produce a short, structured excerpt of facts, preferences, and context the assistant should carry forward from the conversation below, relevant to the current message. Be terse; omit anything not useful for answering it.\n\n")
	fmt.Fprintf(&b, "Current message: %s\n\nRelevant prior messages:\n", utterance)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s\n", c.Content)
	}
	return b.String()
}

func (s *Store) overlayEntries(ctx context.Context, sessionID string) (string, error) {
	entries, err := s.entries.ListEntries(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("list memory entries: %w", err)
	}

	now := time.Now()
	var b strings.Builder
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", e.Category, e.Key, e.Value)
	}
	return b.String(), nil
}
