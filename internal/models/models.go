// Package models defines the data structures persisted by chatvault.
package models

import (
	"time"
)

// ChatRole identifies the author side of a message.
type ChatRole string

const (
	RoleUser   ChatRole = "user"
	RoleHuman  ChatRole = "human"
	RoleAI     ChatRole = "ai"
	RoleSystem ChatRole = "system"
)

// Valid reports whether the role is one of the supported values.
func (r ChatRole) Valid() bool {
	switch r {
	case RoleUser, RoleHuman, RoleAI, RoleSystem:
		return true
	}
	return false
}

// Conversation groups an ordered set of messages for one user.
// ID is immutable after creation. UpdatedAt is monotonically non-decreasing;
// it moves only on message append or an explicit touch.
type Conversation struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsActive  bool           `json:"is_active"`
}

// Message is a single exchange unit within a conversation.
// Messages are immutable once created; there is no update operation.
// Seq is a per-conversation insertion counter used to break created_at ties.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Role           ChatRole       `json:"role"`
	Content        any            `json:"content"`
	MessageType    string         `json:"message_type"`
	CreatedAt      time.Time      `json:"created_at"`
	Seq            int64          `json:"seq"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
