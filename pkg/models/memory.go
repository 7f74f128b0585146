package models

import "time"

// MemoryEntry is a key-value fact, preference, or contextual note scoped to
// a session. Entries are retrieved as a set, never individually.
type MemoryEntry struct {
	SessionID string `json:"session_id"`
	Category  string `json:"category"`
	Key       string `json:"key"`
	Value     string `json:"value"`

	// ExpiresAt is zero when the entry never expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the entry's expiry has passed as of now.
func (e *MemoryEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
