// Package migrate copies conversations and messages between storage
// backends in resumable, batched fashion. The source is never written.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
)

// Progress is one report on the migration stream, emitted after every batch.
// Err carries a batch-level failure; the run continues with the next batch.
type Progress struct {
	// Processed counts conversations handled so far (migrated + skipped + failed).
	Processed int
	// Total is the conversation count in the source at start.
	Total int
	// Migrated counts conversations upserted into the target.
	Migrated int
	// Skipped counts conversations the target already held identically.
	Skipped int
	// Messages counts messages copied so far.
	Messages int
	// Summaries counts user summaries copied so far.
	Summaries int
	// Err is the error of the batch just finished, nil on success.
	Err error
}

// DefaultBatchSize is used when the caller passes a non-positive size.
const DefaultBatchSize = 100

// Run streams the migration. The returned channel is closed when the run
// finishes, fails to start, or ctx is cancelled between batches. Identical
// conversations already present in the target are skipped, everything else
// is upserted under its original id, so re-running a partial migration is
// safe and cheap. User summaries are copied after the conversations when
// both backends support them.
func Run(ctx context.Context, source, target storage.Adapter, batchSize int, logger *slog.Logger) <-chan Progress {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make(chan Progress, 1)
	go func() {
		defer close(out)

		total, err := source.CountConversations(ctx)
		if err != nil {
			out <- Progress{Err: fmt.Errorf("count source conversations: %w", err)}
			return
		}
		logger.Info("migration started", "total", total, "batch_size", batchSize)

		// Cancellation is honored between batches only: a batch in flight
		// runs to completion so no conversation is left half-copied.
		batchCtx := context.WithoutCancel(ctx)

		var cum Progress
		cum.Total = total
		for offset := 0; ; offset += batchSize {
			if err := ctx.Err(); err != nil {
				logger.Warn("migration cancelled", "processed", cum.Processed, "total", total)
				return
			}

			batch, err := source.ListConversations(batchCtx, offset, batchSize)
			if err != nil {
				cum.Err = fmt.Errorf("list source conversations at %d: %w", offset, err)
				out <- cum
				cum.Err = nil
				continue
			}
			if len(batch) == 0 {
				break
			}

			var batchErr error
			for _, conv := range batch {
				migrated, copied, err := migrateConversation(batchCtx, source, target, conv)
				cum.Processed++
				cum.Messages += copied
				switch {
				case err != nil:
					batchErr = errors.Join(batchErr, fmt.Errorf("conversation %s: %w", conv.ID, err))
				case migrated:
					cum.Migrated++
				default:
					cum.Skipped++
				}
			}
			cum.Err = batchErr
			out <- cum
			cum.Err = nil

			if len(batch) < batchSize {
				break
			}
		}

		if ctx.Err() == nil {
			migrateSummaries(batchCtx, source, target, batchSize, &cum, out, logger)
		}

		logger.Info("migration finished",
			"processed", cum.Processed, "migrated", cum.Migrated,
			"skipped", cum.Skipped, "messages", cum.Messages,
			"summaries", cum.Summaries)
	}()
	return out
}

// migrateSummaries copies per-user summaries once the conversations are
// through. Backends without summary support are silently skipped.
func migrateSummaries(ctx context.Context, source, target storage.Adapter, batchSize int, cum *Progress, out chan<- Progress, logger *slog.Logger) {
	src, ok := source.(storage.SummaryKeeper)
	if !ok {
		return
	}
	tgt, ok := target.(storage.SummaryKeeper)
	if !ok {
		logger.Warn("target backend has no summary support, summaries not migrated")
		return
	}

	for offset := 0; ; offset += batchSize {
		batch, err := src.ListSummaries(ctx, offset, batchSize)
		if err != nil {
			cum.Err = fmt.Errorf("list source summaries at %d: %w", offset, err)
			out <- *cum
			cum.Err = nil
			return
		}
		if len(batch) == 0 {
			return
		}

		var batchErr error
		for _, sum := range batch {
			existing, err := tgt.GetSummary(ctx, sum.UserID)
			if err == nil && models.SummariesEqual(*existing, sum) {
				continue
			}
			if err != nil && !errors.Is(err, storage.ErrSummaryNotFound) {
				batchErr = errors.Join(batchErr, fmt.Errorf("summary for %s: %w", sum.UserID, err))
				continue
			}
			if err := tgt.PutSummary(ctx, sum); err != nil {
				batchErr = errors.Join(batchErr, fmt.Errorf("summary for %s: %w", sum.UserID, err))
				continue
			}
			cum.Summaries++
		}
		cum.Err = batchErr
		out <- *cum
		cum.Err = nil

		if len(batch) < batchSize {
			return
		}
	}
}

// migrateConversation upserts one conversation and its messages, skipping
// entirely when the target already holds identical content. Returns whether
// a migration happened and how many messages were copied.
func migrateConversation(ctx context.Context, source, target storage.Adapter, conv models.Conversation) (bool, int, error) {
	srcMsgs, err := source.GetMessages(ctx, conv.ID, storage.MessageQuery{})
	if err != nil {
		return false, 0, fmt.Errorf("read source messages: %w", err)
	}

	existing, err := target.GetConversation(ctx, conv.ID)
	switch {
	case err == nil:
		if models.ConversationsEqual(*existing, conv) {
			tgtMsgs, err := target.GetMessages(ctx, conv.ID, storage.MessageQuery{})
			if err != nil {
				return false, 0, fmt.Errorf("read target messages: %w", err)
			}
			if messagesMatch(srcMsgs, tgtMsgs) {
				return false, 0, nil
			}
		}
	case errors.Is(err, storage.ErrConversationNotFound):
		// proceed with the copy
	default:
		return false, 0, fmt.Errorf("read target conversation: %w", err)
	}

	if err := target.PutConversation(ctx, conv); err != nil {
		return false, 0, fmt.Errorf("put conversation: %w", err)
	}
	copied := 0
	for _, msg := range srcMsgs {
		if err := target.PutMessage(ctx, msg); err != nil {
			return true, copied, fmt.Errorf("put message %s: %w", msg.ID, err)
		}
		copied++
	}
	return true, copied, nil
}

// messagesMatch reports whether both sides hold the same messages in the
// same order. Both lists come back in (created_at, seq) order.
func messagesMatch(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !models.MessagesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
