package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// maxMessagesPerSession bounds an in-memory session's retained history;
// older messages are trimmed on append past this cap.
const maxMessagesPerSession = 1000

// MemoryStore is an in-process Store, suitable for tests and single-node
// deployments without a database. All returned values are deep-cloned so
// callers can mutate them without corrupting the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	entries  map[string]map[string]*models.MemoryEntry // sessionID -> key -> entry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
		entries:  make(map[string]map[string]*models.MemoryEntry),
	}
}

func (s *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session already exists: %s", session.ID)
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	clone := session.Clone()
	clone.MessageCount = len(s.messages[id])
	return clone, nil
}

func (s *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return fmt.Errorf("session not found: %s", session.ID)
	}
	session.UpdatedAt = time.Now()
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		clone := session.Clone()
		clone.MessageCount = len(s.messages[session.ID])
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*models.Session{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	msg.SessionID = sessionID

	history := s.messages[sessionID]
	msg.Seq = int64(len(history)) + 1
	history = append(history, cloneMessage(msg))
	if len(history) > maxMessagesPerSession {
		history = history[len(history)-maxMessagesPerSession:]
	}
	s.messages[sessionID] = history

	if session, ok := s.sessions[sessionID]; ok {
		session.UpdatedAt = time.Now()
		session.MessageCount = len(history)
	}
	return nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.messages[sessionID]
	if limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	out := make([]*models.Message, len(history))
	for i, m := range history {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, sessionID, messageID string, includeFollowing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.messages[sessionID]
	idx := -1
	for i, m := range history {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("message not found: %s", messageID)
	}

	if includeFollowing {
		history = history[:idx]
	} else {
		history = append(append([]*models.Message{}, history[:idx]...), history[idx+1:]...)
	}
	s.messages[sessionID] = history

	if session, ok := s.sessions[sessionID]; ok {
		session.MessageCount = len(history)
	}
	return nil
}

func (s *MemoryStore) ClearMessages(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = nil
	if session, ok := s.sessions[sessionID]; ok {
		session.MessageCount = 0
	}
	return nil
}

func (s *MemoryStore) UpsertMemoryEntry(ctx context.Context, entry *models.MemoryEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.entries[entry.SessionID]
	if !ok {
		byKey = make(map[string]*models.MemoryEntry)
		s.entries[entry.SessionID] = byKey
	}
	clone := *entry
	byKey[entry.Key] = &clone
	return nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, sessionID string) ([]*models.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey := s.entries[sessionID]
	out := make([]*models.MemoryEntry, 0, len(byKey))
	for _, e := range byKey {
		clone := *e
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) DeleteMemoryEntry(ctx context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.entries[sessionID]
	if !ok {
		return fmt.Errorf("no memory entries for session: %s", sessionID)
	}
	if _, ok := byKey[key]; !ok {
		return fmt.Errorf("memory entry not found: %s", key)
	}
	delete(byKey, key)
	return nil
}

func cloneMessage(m *models.Message) *models.Message {
	clone := *m
	if m.Extra != nil {
		extra := *m.Extra
		if m.Extra.Images != nil {
			extra.Images = append([]models.ImagePayload{}, m.Extra.Images...)
		}
		clone.Extra = &extra
	}
	return &clone
}
