package sessions

import (
	"context"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// Store persists sessions, their ordered messages, and their memory
// entries. Implementations must serialize writes to a given session
// (see SessionLockManager/LockingStore) and must never return a message
// list that omits a persisted message or reorders one relative to its
// (CreatedAt, Seq) position.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	// Delete removes the session and cascades its messages and memory
	// entries.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	// GetHistory returns the session's messages in chronological order.
	// A limit > 0 returns only the most recent limit messages; limit <= 0
	// returns the full history.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	// DeleteMessage removes the message at id. If includeFollowing is
	// true, every message ordered after it in the same session is
	// removed too, atomically.
	DeleteMessage(ctx context.Context, sessionID, messageID string, includeFollowing bool) error
	ClearMessages(ctx context.Context, sessionID string) error

	UpsertMemoryEntry(ctx context.Context, entry *models.MemoryEntry) error
	ListEntries(ctx context.Context, sessionID string) ([]*models.MemoryEntry, error)
	DeleteMemoryEntry(ctx context.Context, sessionID, key string) error
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}
