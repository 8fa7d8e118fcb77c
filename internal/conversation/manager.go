package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
)

// Observer receives operation timings. Satisfied by *metrics.Collector;
// a nil observer disables collection.
type Observer interface {
	RecordTiming(op string, duration time.Duration)
	RecordCount(op string, delta int64)
}

// Operation names reported to the observer.
const (
	OpConversationCreate = "conversation_create"
	OpConversationReuse  = "conversation_reuse"
	OpMessageAdd         = "message_add"
	OpCleanup            = "cleanup"
)

// Manager owns the conversation lifecycle on top of a storage adapter.
type Manager struct {
	adapter  storage.Adapter
	store    *MessageStore
	hooks    *Hooks
	cfg      Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// NewManager wires a manager over the adapter. hooks and logger may be nil.
func NewManager(adapter storage.Adapter, store *MessageStore, cfg Config, hooks *Hooks, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = NewHooks(logger)
	}
	m := &Manager{
		adapter: adapter,
		store:   store,
		hooks:   hooks,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hooks returns the event dispatcher for handler registration.
func (m *Manager) Hooks() *Hooks { return m.hooks }

// Store returns the message store the manager delegates writes to.
func (m *Manager) Store() *MessageStore { return m.store }

// GetOrCreateConversation returns the user's most recent active conversation
// updated within the reuse window, creating one when none qualifies. Reuse
// does not touch updated_at. Concurrent callers for the same user converge
// on a single conversation id: the earliest-created candidate wins, ties
// broken by smallest id.
func (m *Manager) GetOrCreateConversation(ctx context.Context, userID string, metadata map[string]any) (*models.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidMessage)
	}
	start := m.now()
	since := start.Add(-m.cfg.ReuseWindow)

	existing, err := m.adapter.FindRecentConversation(ctx, userID, since)
	switch {
	case err == nil:
		m.observe(OpConversationReuse, start)
		return existing, nil
	case errors.Is(err, storage.ErrConversationNotFound):
		// fall through to creation
	default:
		return nil, fmt.Errorf("find recent conversation: %w", err)
	}

	now := start.UTC()
	conv := models.Conversation{
		ID:        models.NewID(m.cfg.ConversationIDPrefix),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
		IsActive:  true,
	}

	if cc, ok := m.adapter.(storage.ConditionalCreator); ok {
		got, created, err := cc.CreateConversationIfAbsent(ctx, conv, since)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		if created {
			m.logger.Debug("conversation created", "conversation_id", got.ID, "user_id", userID)
			m.hooks.fireConversationCreated(got)
			m.observe(OpConversationCreate, start)
		} else {
			m.observe(OpConversationReuse, start)
		}
		return &got, nil
	}

	if err := m.adapter.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	winner, err := m.resolveCreationRace(ctx, conv, since)
	if err != nil {
		return nil, err
	}
	if winner.ID == conv.ID {
		m.logger.Debug("conversation created", "conversation_id", conv.ID, "user_id", userID)
		m.hooks.fireConversationCreated(conv)
		m.observe(OpConversationCreate, start)
	} else {
		m.observe(OpConversationReuse, start)
	}
	return winner, nil
}

// resolveCreationRace re-checks the window after an unconditional create.
// Candidates are ordered earliest-created first, so the head of the list is
// the winner every racer agrees on; losers delete their own row.
func (m *Manager) resolveCreationRace(ctx context.Context, own models.Conversation, since time.Time) (*models.Conversation, error) {
	candidates, err := m.adapter.ListRecentConversations(ctx, own.UserID, since)
	if err != nil {
		return nil, fmt.Errorf("recheck conversations: %w", err)
	}
	if len(candidates) == 0 {
		// Window moved past our own row between create and recheck; keep it.
		return &own, nil
	}
	winner := candidates[0]
	if winner.ID == own.ID {
		return &winner, nil
	}
	m.logger.Debug("conversation race lost, discarding own row",
		"conversation_id", own.ID, "winner_id", winner.ID, "user_id", own.UserID)
	if err := m.adapter.DeleteConversation(ctx, own.ID, true); err != nil &&
		!errors.Is(err, storage.ErrConversationNotFound) {
		return nil, fmt.Errorf("discard losing conversation: %w", err)
	}
	return &winner, nil
}

// GetConversation returns a conversation by id.
func (m *Manager) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := m.adapter.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

// AddMessage persists a message, resolving (or creating) the conversation
// first when params carry no conversation id.
func (m *Manager) AddMessage(ctx context.Context, params AddMessageParams) (*models.Message, error) {
	if params.ConversationID == "" {
		conv, err := m.GetOrCreateConversation(ctx, params.UserID, nil)
		if err != nil {
			return nil, err
		}
		params.ConversationID = conv.ID
	}
	return m.store.AddMessage(ctx, params)
}

// TouchConversation advances the conversation's updated_at to now.
func (m *Manager) TouchConversation(ctx context.Context, id string) error {
	if err := m.adapter.TouchConversation(ctx, id, m.now().UTC()); err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	return nil
}

// DeleteConversation soft-deactivates or, with hard set, removes the
// conversation and its messages.
func (m *Manager) DeleteConversation(ctx context.Context, id string, hard bool) error {
	if err := m.adapter.DeleteConversation(ctx, id, hard); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	m.logger.Debug("conversation deleted", "conversation_id", id, "hard", hard)
	return nil
}

// CleanupStale soft-deactivates active conversations idle for at least
// CleanupAfter. Returns how many were deactivated.
func (m *Manager) CleanupStale(ctx context.Context) (int, error) {
	start := m.now()
	cutoff := start.Add(-m.cfg.CleanupAfter)

	const pageSize = 200
	deactivated := 0
	for offset := 0; ; offset += pageSize {
		page, err := m.adapter.ListConversations(ctx, offset, pageSize)
		if err != nil {
			return deactivated, fmt.Errorf("list conversations: %w", err)
		}
		for _, conv := range page {
			if !conv.IsActive || conv.UpdatedAt.After(cutoff) {
				continue
			}
			if err := m.adapter.DeleteConversation(ctx, conv.ID, false); err != nil {
				if errors.Is(err, storage.ErrConversationNotFound) {
					continue
				}
				return deactivated, fmt.Errorf("deactivate conversation %s: %w", conv.ID, err)
			}
			deactivated++
		}
		if len(page) < pageSize {
			break
		}
	}
	if deactivated > 0 {
		m.logger.Info("stale conversations deactivated", "count", deactivated)
	}
	m.observe(OpCleanup, start)
	return deactivated, nil
}

// StartJanitor runs CleanupStale on the given interval until ctx is done.
// No-op when AutoCleanup is disabled.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if !m.cfg.AutoCleanup {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.CleanupStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Warn("cleanup run failed", "error", err)
				}
			}
		}
	}()
}

func (m *Manager) observe(op string, start time.Time) {
	if m.observer == nil {
		return
	}
	m.observer.RecordTiming(op, m.now().Sub(start))
	m.observer.RecordCount(op, 1)
}
