package models

import "time"

// Session is a persisted conversation. Lifecycle: created on demand,
// mutated only by appending messages or updating metadata, and deleted
// cascades its messages and memory entries.
type Session struct {
	ID string `json:"id"`

	Title string `json:"title,omitempty"`

	Model                string  `json:"model"`
	SystemPromptOverride string  `json:"system_prompt_override,omitempty"`
	Temperature          float64 `json:"temperature"`

	Active   bool `json:"active"`
	Archived bool `json:"archived"`

	// MessageCount is derived; callers should not set it directly.
	MessageCount int `json:"message_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep-enough copy safe to hand to a caller without
// exposing the store's internal pointer.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
