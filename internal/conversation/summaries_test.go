package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSummaries(t *testing.T, opts ...SummariesOption) *Summaries {
	t.Helper()
	return NewSummaries(memory.New(), DefaultConfig(), nil, opts...)
}

func TestSaveUserSummaryFirstSave(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSummaries(t, WithSummariesClock(func() time.Time { return frozen }))
	ctx := context.Background()

	sum, err := s.SaveUserSummary(ctx, SaveSummaryParams{
		UserID:          "u1",
		Content:         "likes terse replies",
		ConversationIDs: []string{"CONV_1"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sum.ID, "SUMM_"))
	assert.True(t, sum.CreatedAt.Equal(frozen))
	assert.True(t, sum.UpdatedAt.Equal(frozen))

	got, err := s.GetUserSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, sum.ID, got.ID)
	assert.Equal(t, "likes terse replies", got.Content)
}

func TestSaveUserSummaryUpdateKeepsIdentity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSummaries(t, WithSummariesClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := s.SaveUserSummary(ctx, SaveSummaryParams{
		UserID: "u1", Content: "v1", ConversationIDs: []string{"CONV_1", "CONV_2"},
	})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	second, err := s.SaveUserSummary(ctx, SaveSummaryParams{
		UserID: "u1", Content: "v2", ConversationIDs: []string{"CONV_2", "CONV_3"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, "v2", second.Content)
	// Conversation ids merge without duplicates, first-seen order
	assert.Equal(t, []string{"CONV_1", "CONV_2", "CONV_3"}, second.ConversationIDs)
}

func TestSaveUserSummaryUpdatedAtNeverRegresses(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSummaries(t, WithSummariesClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := s.SaveUserSummary(ctx, SaveSummaryParams{UserID: "u1", Content: "v1"})
	require.NoError(t, err)

	// A clock running behind the stored timestamp must not move it back
	now = now.Add(-time.Hour)
	second, err := s.SaveUserSummary(ctx, SaveSummaryParams{UserID: "u1", Content: "v2"})
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.Equal(first.UpdatedAt))
	assert.Equal(t, "v2", second.Content)
}

func TestSummariesRejectEmptyUser(t *testing.T) {
	s := newSummaries(t)
	ctx := context.Background()

	_, err := s.GetUserSummary(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidSummary)

	_, err = s.SaveUserSummary(ctx, SaveSummaryParams{Content: "no user"})
	assert.ErrorIs(t, err, ErrInvalidSummary)
}
