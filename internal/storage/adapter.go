// Package storage defines the persistence contract implemented by chatvault
// backends. The core depends only on this contract; concrete adapters live in
// the subpackages memory, sqlite and surreal.
package storage

import (
	"context"
	"time"

	"github.com/chatvault/chatvault/internal/models"
)

// MessageQuery narrows a message read. A Limit <= 0 means no limit. Types, if
// non-empty, restricts results to messages whose MessageType is in the set.
type MessageQuery struct {
	Limit  int
	Offset int
	Types  []string
}

// Adapter is the capability set every backend implements. All methods must be
// safe for concurrent invocation and honor context cancellation. Individual
// writes are atomic: a cancelled or failed call leaves either the old or the
// new state, never a partial record.
//
// Errors are reported through the sentinel taxonomy in errors.go and checked
// with errors.Is.
type Adapter interface {
	// CreateConversation persists a fully populated conversation. It fails
	// with ErrConstraintViolation when the id already exists.
	CreateConversation(ctx context.Context, conv models.Conversation) error

	// GetConversation returns the conversation or ErrConversationNotFound.
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// FindRecentConversation returns the most recently updated active
	// conversation of the user with updated_at >= since, or
	// ErrConversationNotFound when none qualifies.
	FindRecentConversation(ctx context.Context, userID string, since time.Time) (*models.Conversation, error)

	// ListRecentConversations returns every active conversation of the user
	// with updated_at >= since, ordered by created_at ascending with ties
	// broken by id. The deterministic order is what lets racing creators
	// converge on a single winner.
	ListRecentConversations(ctx context.Context, userID string, since time.Time) ([]models.Conversation, error)

	// TouchConversation advances updated_at to updatedAt. It never moves the
	// timestamp backward and returns ErrConversationNotFound when the
	// conversation is absent.
	TouchConversation(ctx context.Context, id string, updatedAt time.Time) error

	// CreateMessage persists a message. It fails with ErrConstraintViolation
	// when the referenced conversation does not exist.
	CreateMessage(ctx context.Context, msg models.Message) error

	// GetMessages returns the conversation's messages ordered by created_at
	// ascending, ties broken by seq. Repeated calls observe the same order.
	GetMessages(ctx context.Context, conversationID string, q MessageQuery) ([]models.Message, error)

	// DeleteConversation soft-deletes (is_active=false) or, when hard is set,
	// removes the conversation and all its messages atomically.
	DeleteConversation(ctx context.Context, id string, hard bool) error

	// ListConversations pages through all conversations ordered by created_at
	// ascending, ties broken by id. Used by migration and cleanup.
	ListConversations(ctx context.Context, offset, limit int) ([]models.Conversation, error)

	// CountConversations returns the total number of conversations.
	CountConversations(ctx context.Context) (int, error)

	// CountMessages returns the number of messages in a conversation.
	CountMessages(ctx context.Context, conversationID string) (int, error)

	// PutConversation is an id-keyed idempotent upsert that preserves the
	// record's own timestamps. Used by migration.
	PutConversation(ctx context.Context, conv models.Conversation) error

	// PutMessage is the message counterpart of PutConversation.
	PutMessage(ctx context.Context, msg models.Message) error
}

// SummaryKeeper stores at most one rolling summary per user. All chatvault
// backends implement it; it is kept out of Adapter so a minimal external
// backend can skip it.
type SummaryKeeper interface {
	// GetSummary returns the user's summary or ErrSummaryNotFound.
	GetSummary(ctx context.Context, userID string) (*models.UserSummary, error)

	// PutSummary upserts the summary. The user_id is unique: writing a
	// summary with a fresh id while the user already has one under a
	// different id fails with ErrConstraintViolation.
	PutSummary(ctx context.Context, summary models.UserSummary) error

	// ListSummaries pages through all summaries ordered by user_id
	// ascending. Used by migration.
	ListSummaries(ctx context.Context, offset, limit int) ([]models.UserSummary, error)
}

// ConditionalCreator is an optional capability for backends that can perform
// the find-or-create of a conversation atomically. When an adapter implements
// it, the manager uses it instead of the create-then-recheck convergence path.
// The boolean result reports whether the conversation was created (true) or an
// existing one inside the window was returned (false).
type ConditionalCreator interface {
	CreateConversationIfAbsent(ctx context.Context, conv models.Conversation, since time.Time) (models.Conversation, bool, error)
}
