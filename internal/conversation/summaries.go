package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
)

// ErrInvalidSummary is the class of validation failures on summary input.
// Check with errors.Is.
var ErrInvalidSummary = errors.New("invalid summary")

// SaveSummaryParams is the input for a summary write. ConversationIDs are
// merged into the stored set, not replaced.
type SaveSummaryParams struct {
	UserID          string
	Content         string
	Metadata        map[string]any
	ConversationIDs []string
}

// Summaries maintains the per-user rolling summary: one record per user,
// updated in place as the caller's summarization pipeline produces new
// content. Chatvault stores summaries, it never generates them.
type Summaries struct {
	keeper storage.SummaryKeeper
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// SummariesOption customizes a Summaries service.
type SummariesOption func(*Summaries)

// WithSummariesClock overrides the time source. For tests.
func WithSummariesClock(now func() time.Time) SummariesOption {
	return func(s *Summaries) { s.now = now }
}

// NewSummaries wires the service over a summary-capable backend. logger may
// be nil.
func NewSummaries(keeper storage.SummaryKeeper, cfg Config, logger *slog.Logger, opts ...SummariesOption) *Summaries {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Summaries{
		keeper: keeper,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUserSummary returns the user's summary or storage.ErrSummaryNotFound.
func (s *Summaries) GetUserSummary(ctx context.Context, userID string) (*models.UserSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidSummary)
	}
	sum, err := s.keeper.GetSummary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get summary for %s: %w", userID, err)
	}
	return sum, nil
}

// SaveUserSummary upserts the user's summary. A first save mints a prefixed
// id; later saves keep the id and CreatedAt, replace content and metadata,
// merge conversation ids and advance UpdatedAt monotonically.
func (s *Summaries) SaveUserSummary(ctx context.Context, params SaveSummaryParams) (*models.UserSummary, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidSummary)
	}
	now := s.now().UTC()

	sum := models.UserSummary{
		ID:              models.NewID(s.cfg.SummaryIDPrefix),
		UserID:          params.UserID,
		Content:         params.Content,
		Metadata:        params.Metadata,
		ConversationIDs: slices.Clone(params.ConversationIDs),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	existing, err := s.keeper.GetSummary(ctx, params.UserID)
	switch {
	case err == nil:
		sum.ID = existing.ID
		sum.CreatedAt = existing.CreatedAt
		sum.ConversationIDs = mergeIDs(existing.ConversationIDs, params.ConversationIDs)
		if existing.UpdatedAt.After(now) {
			sum.UpdatedAt = existing.UpdatedAt
		}
	case errors.Is(err, storage.ErrSummaryNotFound):
		// first save, keep the fresh record
	default:
		return nil, fmt.Errorf("load existing summary: %w", err)
	}

	if err := s.keeper.PutSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("save summary for %s: %w", params.UserID, err)
	}
	s.logger.Debug("user summary saved", "user_id", params.UserID, "summary_id", sum.ID)
	return &sum, nil
}

// mergeIDs appends the ids missing from base, preserving first-seen order.
func mergeIDs(base, extra []string) []string {
	out := slices.Clone(base)
	for _, id := range extra {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
