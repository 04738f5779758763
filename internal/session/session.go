// Package session persists conversation sessions and their message log.
//
// The message log is the sole source of truth for conversation state:
// every turn rebuilds its context from here, and nothing about a
// conversation is cached in process memory. Appends are durable before
// AppendMessage returns.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound indicates the requested session does not exist.
// Checked with errors.Is().
var ErrNotFound = errors.New("session not found")

// Session represents a conversation session.
type Session struct {
	ID           uuid.UUID      `json:"session_id"`
	Title        string         `json:"title"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	MessageCount int            `json:"message_count"`
}

// Message represents a single conversation message.
// Messages are immutable once written and strictly ordered by Seq within
// a session.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}
