// Package contextbuilder reconstructs conversation history in the shapes
// downstream pipelines consume.
package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chatvault/chatvault/internal/conversation"
	"github.com/chatvault/chatvault/internal/models"
)

// ErrUnknownFormat reports a format name with no registered formatter.
// There is no silent fallback.
var ErrUnknownFormat = errors.New("unknown context format")

// Request describes a context build. IncludeTypes narrows the candidate set
// first, ExcludeTypes then removes from it; a type in both is excluded.
// Limit <= 0 falls back to the configured default and keeps the most recent
// messages. An empty Format means "chat".
type Request struct {
	ConversationID string
	IncludeTypes   []string
	ExcludeTypes   []string
	Limit          int
	Format         string
}

// Formatter renders an ordered message slice into an output shape. Must be
// pure: no I/O, no mutation of the input.
type Formatter func(msgs []models.Message) (any, error)

// Builder fetches, filters and formats conversation history. The formatter
// registry is mutable and safe for concurrent use.
type Builder struct {
	store  *conversation.MessageStore
	cfg    conversation.Config
	logger *slog.Logger

	mu         sync.RWMutex
	formatters map[string]Formatter
}

// NewBuilder creates a builder with the built-in formatters registered:
// chat, text, langchain and raw.
func NewBuilder(store *conversation.MessageStore, cfg conversation.Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{
		store:  store,
		cfg:    cfg,
		logger: logger,
		formatters: map[string]Formatter{
			FormatChat:      formatChat,
			FormatText:      formatText,
			FormatLangchain: formatLangchain,
			FormatRaw:       formatRaw,
		},
	}
	return b
}

// RegisterFormatter adds or replaces a formatter under the given name.
func (b *Builder) RegisterFormatter(name string, f Formatter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.formatters[name] = f
}

// Formats lists the registered formatter names.
func (b *Builder) Formats() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.formatters))
	for name := range b.formatters {
		out = append(out, name)
	}
	return out
}

func (b *Builder) formatter(name string) (Formatter, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.formatters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// Build returns the conversation's history through the requested formatter.
func (b *Builder) Build(ctx context.Context, req Request) (any, error) {
	name := req.Format
	if name == "" {
		name = FormatChat
	}
	format, err := b.formatter(name)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = b.cfg.DefaultContextLimit
	}

	// Fetch the full include set; the recency cut happens after exclusion so
	// the limit counts surviving messages, not fetched ones.
	msgs, err := b.store.GetMessages(ctx, req.ConversationID, conversation.GetOptions{
		Types: req.IncludeTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("build context for %s: %w", req.ConversationID, err)
	}

	if len(req.ExcludeTypes) > 0 {
		excluded := make(map[string]struct{}, len(req.ExcludeTypes))
		for _, t := range req.ExcludeTypes {
			excluded[t] = struct{}{}
		}
		kept := msgs[:0]
		for _, m := range msgs {
			if _, drop := excluded[m.MessageType]; !drop {
				kept = append(kept, m)
			}
		}
		msgs = kept
	}

	// Most recent N, chronological order preserved
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out, err := format(msgs)
	if err != nil {
		return nil, fmt.Errorf("format %q: %w", name, err)
	}
	return out, nil
}
