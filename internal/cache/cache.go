// Package cache decorates the conversation manager and message store with a
// TTL read cache. Semantics are unchanged with caching disabled; only
// latency differs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/chatvault/chatvault/internal/conversation"
	"github.com/chatvault/chatvault/internal/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Options tunes the cache layer.
type Options struct {
	// Enabled toggles memoization. Disabled layers pass every call through.
	Enabled bool
	// TTL bounds staleness of cached reads.
	TTL time.Duration
	// Size caps the number of cached entries (LRU eviction).
	Size int
}

// DefaultOptions returns a small five-minute cache.
func DefaultOptions() Options {
	return Options{Enabled: true, TTL: 5 * time.Minute, Size: 2048}
}

// Layer fronts a Manager and MessageStore. Reads are memoized per
// (operation, arguments); every write invalidates the affected conversation's
// entries and the owning user's reuse lookup, whether or not the write
// succeeded.
type Layer struct {
	manager *conversation.Manager
	store   *conversation.MessageStore
	opts    Options
	logger  *slog.Logger
	entries *expirable.LRU[string, any]
}

// New wraps the manager and store. logger may be nil.
func New(manager *conversation.Manager, store *conversation.MessageStore, opts Options, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		manager: manager,
		store:   store,
		opts:    opts,
		logger:  logger,
		entries: expirable.NewLRU[string, any](opts.Size, nil, opts.TTL),
	}
}

func conversationKey(id string) string { return "conv|" + id }
func recentKey(userID string) string   { return "recent|" + userID }

func messagesKey(conversationID string, opts conversation.GetOptions) string {
	return fmt.Sprintf("msgs|%s|%d|%d|%s",
		conversationID, opts.Limit, opts.Offset, strings.Join(opts.Types, ","))
}

// invalidateConversation drops every cached read for the conversation.
func (l *Layer) invalidateConversation(id string) {
	l.entries.Remove(conversationKey(id))
	prefix := "msgs|" + id + "|"
	for _, key := range l.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			l.entries.Remove(key)
		}
	}
}

func (l *Layer) invalidateUser(userID string) {
	l.entries.Remove(recentKey(userID))
}

// GetConversation returns the conversation, memoized.
func (l *Layer) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if !l.opts.Enabled {
		return l.manager.GetConversation(ctx, id)
	}
	key := conversationKey(id)
	if v, ok := l.entries.Get(key); ok {
		conv := v.(models.Conversation)
		return &conv, nil
	}
	conv, err := l.manager.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	l.entries.Add(key, *conv)
	return conv, nil
}

// GetOrCreateConversation memoizes the reuse lookup per user. A cached entry
// can only come from a prior successful call inside the TTL, so returning it
// preserves the convergence contract.
func (l *Layer) GetOrCreateConversation(ctx context.Context, userID string, metadata map[string]any) (*models.Conversation, error) {
	if !l.opts.Enabled {
		return l.manager.GetOrCreateConversation(ctx, userID, metadata)
	}
	key := recentKey(userID)
	if v, ok := l.entries.Get(key); ok {
		conv := v.(models.Conversation)
		return &conv, nil
	}
	conv, err := l.manager.GetOrCreateConversation(ctx, userID, metadata)
	if err != nil {
		return nil, err
	}
	l.entries.Add(key, *conv)
	l.entries.Add(conversationKey(conv.ID), *conv)
	return conv, nil
}

// GetMessages returns conversation history, memoized per query shape. The
// cached slice is never handed out directly so callers can reorder or trim
// their copy without corrupting later hits.
func (l *Layer) GetMessages(ctx context.Context, conversationID string, opts conversation.GetOptions) ([]models.Message, error) {
	if !l.opts.Enabled {
		return l.store.GetMessages(ctx, conversationID, opts)
	}
	key := messagesKey(conversationID, opts)
	if v, ok := l.entries.Get(key); ok {
		return slices.Clone(v.([]models.Message)), nil
	}
	msgs, err := l.store.GetMessages(ctx, conversationID, opts)
	if err != nil {
		return nil, err
	}
	l.entries.Add(key, slices.Clone(msgs))
	return msgs, nil
}

// AddMessage writes through the manager and invalidates affected entries,
// succeed or fail.
func (l *Layer) AddMessage(ctx context.Context, params conversation.AddMessageParams) (*models.Message, error) {
	msg, err := l.manager.AddMessage(ctx, params)
	if params.ConversationID != "" {
		l.invalidateConversation(params.ConversationID)
	}
	if msg != nil {
		l.invalidateConversation(msg.ConversationID)
	}
	l.invalidateUser(params.UserID)
	return msg, err
}

// TouchConversation writes through and invalidates.
func (l *Layer) TouchConversation(ctx context.Context, id string) error {
	err := l.manager.TouchConversation(ctx, id)
	l.invalidateConversation(id)
	return err
}

// DeleteConversation writes through and invalidates. The user's reuse lookup
// is dropped too since the deleted conversation may have been its value.
func (l *Layer) DeleteConversation(ctx context.Context, id string, hard bool) error {
	if conv, err := l.manager.GetConversation(ctx, id); err == nil {
		l.invalidateUser(conv.UserID)
	}
	err := l.manager.DeleteConversation(ctx, id, hard)
	l.invalidateConversation(id)
	return err
}

// Purge drops every cached entry.
func (l *Layer) Purge() {
	l.entries.Purge()
}

// Len reports the number of live cache entries.
func (l *Layer) Len() int {
	return l.entries.Len()
}
