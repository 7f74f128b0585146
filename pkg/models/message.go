// Package models contains the wire-shared data types used across the
// session store, memory store, and agent engine.
package models

import "time"

// Role indicates the author of a message within a session transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolResultData carries the structured outcome of a skill invocation so it
// can be reattached to the synthetic tool message that feeds the transcript.
type ToolResultData struct {
	Success    bool           `json:"success"`
	Text       string         `json:"text"`
	Raw        any            `json:"raw,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Images     []ImagePayload `json:"images,omitempty"`
}

// ImagePayload is an inline image attachment carried on a message.
type ImagePayload struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Message is one entry in a session's ordered transcript.
//
// Invariant: messages within a session form a total order by
// (CreatedAt, Seq); IDs are unique across the whole store.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	// EventType tags the message with the agent-engine event that produced
	// it, e.g. "skill_call" — empty for plain user/assistant turns.
	EventType string `json:"event_type,omitempty"`

	// SkillName is set on tool messages produced by a skill invocation.
	SkillName string `json:"skill_name,omitempty"`

	// Extra carries the structured auxiliary payload (execution result,
	// image payloads, reasoning) alongside the primary text Content.
	Extra *ToolResultData `json:"extra,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
