package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
)

// ErrInvalidMessage is the class of validation failures on message input.
// Check with errors.Is.
var ErrInvalidMessage = errors.New("invalid message")

// AddMessageParams is the input for a message write. ID may be empty, in
// which case a prefixed one is generated. MessageType may be empty, in which
// case it is derived from the role. Unknown type tags are accepted as-is.
type AddMessageParams struct {
	ID             string
	ConversationID string
	UserID         string
	Role           models.ChatRole
	Content        any
	MessageType    string
	Metadata       map[string]any
}

// GetOptions narrows a message read.
type GetOptions struct {
	Limit  int
	Offset int
	Types  []string
}

// MessageStore persists messages with per-conversation ordering guarantees.
type MessageStore struct {
	adapter  storage.Adapter
	cfg      Config
	hooks    *Hooks
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu  sync.Mutex
	seq map[string]int64 // conversation id -> last assigned seq
}

// StoreOption customizes a MessageStore.
type StoreOption func(*MessageStore)

// WithStoreClock overrides the time source. For tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *MessageStore) { s.now = now }
}

// WithStoreObserver attaches a metrics observer.
func WithStoreObserver(o Observer) StoreOption {
	return func(s *MessageStore) { s.observer = o }
}

// NewMessageStore wires a store over the adapter. hooks and logger may be nil.
func NewMessageStore(adapter storage.Adapter, cfg Config, hooks *Hooks, logger *slog.Logger, opts ...StoreOption) *MessageStore {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = NewHooks(logger)
	}
	s := &MessageStore{
		adapter: adapter,
		cfg:     cfg,
		hooks:   hooks,
		logger:  logger,
		now:     time.Now,
		seq:     make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MessageStore) validate(params AddMessageParams) error {
	if params.ConversationID == "" {
		return fmt.Errorf("%w: empty conversation id", ErrInvalidMessage)
	}
	if params.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidMessage)
	}
	if !params.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, params.Role)
	}
	if params.Content == nil {
		return fmt.Errorf("%w: nil content", ErrInvalidMessage)
	}
	if str, ok := params.Content.(string); ok && str == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return nil
}

func defaultType(role models.ChatRole) string {
	switch role {
	case models.RoleAI:
		return models.TypeAIResponse
	case models.RoleSystem:
		return models.TypeSystemMessage
	default:
		return models.TypeUserMessage
	}
}

// nextSeq hands out strictly increasing per-conversation sequence numbers,
// seeding the counter from the backend on first use.
func (s *MessageStore) nextSeq(ctx context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.seq[conversationID]
	if !ok {
		count, err := s.adapter.CountMessages(ctx, conversationID)
		if err != nil {
			return 0, fmt.Errorf("seed sequence: %w", err)
		}
		last = int64(count)
	}
	last++
	s.seq[conversationID] = last
	return last, nil
}

// AddMessage validates, persists and returns the message, then advances the
// conversation's updated_at and fires the MessageAdded hook. Hook failures
// never roll back the write.
func (s *MessageStore) AddMessage(ctx context.Context, params AddMessageParams) (*models.Message, error) {
	start := s.now()
	if err := s.validate(params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		params.ID = models.NewID(s.cfg.MessageIDPrefix)
	}
	if params.MessageType == "" {
		params.MessageType = defaultType(params.Role)
	}

	seq, err := s.nextSeq(ctx, params.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:             params.ID,
		ConversationID: params.ConversationID,
		UserID:         params.UserID,
		Role:           params.Role,
		Content:        params.Content,
		MessageType:    params.MessageType,
		CreatedAt:      start.UTC(),
		Seq:            seq,
		Metadata:       params.Metadata,
	}
	s.maybeCompress(&msg)

	if err := s.adapter.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	s.touch(ctx, msg.ConversationID, msg.CreatedAt)
	s.hooks.fireMessageAdded(msg)
	s.observe(OpMessageAdd, start)

	out := msg
	s.maybeDecompress(&out)
	return &out, nil
}

// AddMessagesBatch persists the batch preserving input order: each message
// gets a strictly later (CreatedAt, Seq) pair than its predecessor, even
// when the wall clock is too coarse to separate them.
func (s *MessageStore) AddMessagesBatch(ctx context.Context, conversationID string, batch []AddMessageParams) ([]models.Message, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	base := s.now().UTC()
	out := make([]models.Message, 0, len(batch))
	for i, params := range batch {
		params.ConversationID = conversationID
		if err := s.validate(params); err != nil {
			return out, fmt.Errorf("batch item %d: %w", i, err)
		}
		if params.ID == "" {
			params.ID = models.NewID(s.cfg.MessageIDPrefix)
		}
		if params.MessageType == "" {
			params.MessageType = defaultType(params.Role)
		}
		seq, err := s.nextSeq(ctx, conversationID)
		if err != nil {
			return out, fmt.Errorf("batch item %d: %w", i, err)
		}
		msg := models.Message{
			ID:             params.ID,
			ConversationID: conversationID,
			UserID:         params.UserID,
			Role:           params.Role,
			Content:        params.Content,
			MessageType:    params.MessageType,
			CreatedAt:      base.Add(time.Duration(i) * time.Microsecond),
			Seq:            seq,
			Metadata:       params.Metadata,
		}
		s.maybeCompress(&msg)
		if err := s.adapter.CreateMessage(ctx, msg); err != nil {
			return out, fmt.Errorf("batch item %d: create message: %w", i, err)
		}
		s.maybeDecompress(&msg)
		out = append(out, msg)
	}
	s.touch(ctx, conversationID, out[len(out)-1].CreatedAt)
	for _, msg := range out {
		s.hooks.fireMessageAdded(msg)
	}
	return out, nil
}

// GetMessages returns messages in chronological order. Limits above
// MaxMessagesPerConversation (or missing) are clamped silently. Type
// filtering is re-applied in process in case the backend returned extras.
func (s *MessageStore) GetMessages(ctx context.Context, conversationID string, opts GetOptions) ([]models.Message, error) {
	limit := opts.Limit
	if limit <= 0 || limit > s.cfg.MaxMessagesPerConversation {
		limit = s.cfg.MaxMessagesPerConversation
	}

	msgs, err := s.adapter.GetMessages(ctx, conversationID, storage.MessageQuery{
		Limit:  limit,
		Offset: opts.Offset,
		Types:  opts.Types,
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	if len(opts.Types) > 0 {
		allowed := make(map[string]struct{}, len(opts.Types))
		for _, t := range opts.Types {
			allowed[t] = struct{}{}
		}
		filtered := msgs[:0]
		for _, m := range msgs {
			if _, ok := allowed[m.MessageType]; ok {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}

	for i := range msgs {
		s.maybeDecompress(&msgs[i])
	}
	return msgs, nil
}

// touch advances the conversation clock after a write. A failed touch is
// logged, not surfaced: the message is already durable.
func (s *MessageStore) touch(ctx context.Context, conversationID string, at time.Time) {
	if err := s.adapter.TouchConversation(ctx, conversationID, at); err != nil {
		s.logger.Warn("touch after message write failed",
			"conversation_id", conversationID, "error", err)
	}
}

func (s *MessageStore) observe(op string, start time.Time) {
	if s.observer == nil {
		return
	}
	s.observer.RecordTiming(op, s.now().Sub(start))
	s.observer.RecordCount(op, 1)
}
