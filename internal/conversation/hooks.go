package conversation

import (
	"log/slog"
	"sync"

	"github.com/chatvault/chatvault/internal/models"
)

// ConversationCreatedHandler is invoked after a conversation was genuinely
// created (not reused).
type ConversationCreatedHandler func(conv models.Conversation)

// MessageAddedHandler is invoked after a message was persisted.
type MessageAddedHandler func(msg models.Message)

// Hooks dispatches lifecycle events to registered handlers. Dispatch is
// asynchronous and best-effort: a slow or panicking handler never blocks or
// fails the write that triggered it. Instance-scoped, safe for concurrent use.
type Hooks struct {
	mu      sync.RWMutex
	created []ConversationCreatedHandler
	added   []MessageAddedHandler

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewHooks creates an empty dispatcher. logger may be nil.
func NewHooks(logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{logger: logger}
}

// OnConversationCreated registers a handler for conversation creation.
func (h *Hooks) OnConversationCreated(fn ConversationCreatedHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, fn)
}

// OnMessageAdded registers a handler for message persistence.
func (h *Hooks) OnMessageAdded(fn MessageAddedHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.added = append(h.added, fn)
}

// Wait blocks until all in-flight handler invocations finish. For tests.
func (h *Hooks) Wait() {
	h.wg.Wait()
}

func (h *Hooks) fireConversationCreated(conv models.Conversation) {
	h.mu.RLock()
	handlers := make([]ConversationCreatedHandler, len(h.created))
	copy(handlers, h.created)
	h.mu.RUnlock()

	for _, fn := range handlers {
		h.wg.Add(1)
		go func(fn ConversationCreatedHandler) {
			defer h.wg.Done()
			defer h.recover("conversation_created")
			fn(conv)
		}(fn)
	}
}

func (h *Hooks) fireMessageAdded(msg models.Message) {
	h.mu.RLock()
	handlers := make([]MessageAddedHandler, len(h.added))
	copy(handlers, h.added)
	h.mu.RUnlock()

	for _, fn := range handlers {
		h.wg.Add(1)
		go func(fn MessageAddedHandler) {
			defer h.wg.Done()
			defer h.recover("message_added")
			fn(msg)
		}(fn)
	}
}

func (h *Hooks) recover(event string) {
	if r := recover(); r != nil {
		h.logger.Error("event handler panicked", "event", event, "panic", r)
	}
}
