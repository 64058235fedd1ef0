package models

import (
	"time"
)

// Session statuses
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Session represents one assistant conversation for a shopper
type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ChatMessage represents one persisted turn fragment in a session.
// Tool messages carry the tool name alongside the serialized result.
type ChatMessage struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	ToolName  *string   `json:"tool_name,omitempty" db:"tool_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
