package models

import "time"

// UserSummary is a rolling per-user digest of past conversations. At most one
// summary exists per user. The content itself comes from the caller's
// summarization pipeline; chatvault only stores and versions it.
type UserSummary struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ConversationIDs []string       `json:"conversation_ids,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
