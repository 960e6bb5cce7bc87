package models

import "time"

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message in a conversation. Turns are never mutated after
// they are appended to a transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo is a lightweight summary of one in-memory session.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	Turns          int       `json:"turns"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
