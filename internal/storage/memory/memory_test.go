package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conv(id, userID string, at time.Time) models.Conversation {
	return models.Conversation{
		ID:        id,
		UserID:    userID,
		CreatedAt: at,
		UpdatedAt: at,
		IsActive:  true,
	}
}

func TestFindRecentPrefersLatestUpdated(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now()

	older := conv("CONV_1", "u1", now.Add(-time.Hour))
	newer := conv("CONV_2", "u1", now)
	require.NoError(t, a.CreateConversation(ctx, older))
	require.NoError(t, a.CreateConversation(ctx, newer))

	got, err := a.FindRecentConversation(ctx, "u1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "CONV_2", got.ID)
}

func TestFindRecentTieBreaksByCreationThenID(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now()

	// Same updated_at, CONV_b created earlier
	early := conv("CONV_b", "u1", now.Add(-time.Minute))
	early.UpdatedAt = now
	late := conv("CONV_a", "u1", now)
	require.NoError(t, a.CreateConversation(ctx, early))
	require.NoError(t, a.CreateConversation(ctx, late))

	got, err := a.FindRecentConversation(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "CONV_b", got.ID)

	// Full tie: smallest id wins
	b := New()
	for _, id := range []string{"CONV_z", "CONV_a", "CONV_m"} {
		require.NoError(t, b.CreateConversation(ctx, conv(id, "u1", now)))
	}
	got, err = b.FindRecentConversation(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "CONV_a", got.ID)
}

func TestConditionalCreateConvergesUnderConcurrency(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now()
	since := now.Add(-time.Hour)

	const racers = 32
	winners := make([]string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := conv(fmt.Sprintf("CONV_%02d", i), "u1", now)
			got, _, err := a.CreateConversationIfAbsent(ctx, c, since)
			require.NoError(t, err)
			winners[i] = got.ID
		}(i)
	}
	wg.Wait()

	// Everyone converged on a single conversation
	for i := 1; i < racers; i++ {
		assert.Equal(t, winners[0], winners[i])
	}
	n, err := a.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordsAreCopied(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now()

	c := conv("CONV_1", "u1", now)
	c.Metadata = map[string]any{"k": "v"}
	require.NoError(t, a.CreateConversation(ctx, c))

	// Mutating the caller's map must not leak into the store
	c.Metadata["k"] = "mutated"
	got, err := a.GetConversation(ctx, "CONV_1")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Metadata["k"])

	// Mutating a read result must not leak either
	got.Metadata["k"] = "mutated-read"
	again, err := a.GetConversation(ctx, "CONV_1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestMessageTypeFilterAndPaging(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, a.CreateConversation(ctx, conv("CONV_1", "u1", now)))
	for i := 0; i < 6; i++ {
		mt := models.TypeUserMessage
		if i%2 == 1 {
			mt = models.TypeAIResponse
		}
		require.NoError(t, a.CreateMessage(ctx, models.Message{
			ID:             fmt.Sprintf("MSG_%d", i),
			ConversationID: "CONV_1",
			UserID:         "u1",
			Role:           models.RoleUser,
			Content:        fmt.Sprintf("m%d", i),
			MessageType:    mt,
			CreatedAt:      now.Add(time.Duration(i) * time.Second),
			Seq:            int64(i),
		}))
	}

	ai, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{Types: []string{models.TypeAIResponse}})
	require.NoError(t, err)
	require.Len(t, ai, 3)
	for _, m := range ai {
		assert.Equal(t, models.TypeAIResponse, m.MessageType)
	}

	page, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "MSG_2", page[0].ID)
	assert.Equal(t, "MSG_3", page[1].ID)

	// Offset past the end yields an empty page, not an error
	empty, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func summary(id, userID, content string, at time.Time) models.UserSummary {
	return models.UserSummary{
		ID:        id,
		UserID:    userID,
		Content:   content,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := a.GetSummary(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrSummaryNotFound)

	s := summary("SUMM_1", "u1", "likes go", now)
	s.Metadata = map[string]any{"source": "weekly"}
	s.ConversationIDs = []string{"CONV_1", "CONV_2"}
	require.NoError(t, a.PutSummary(ctx, s))

	got, err := a.GetSummary(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, models.SummariesEqual(s, *got))

	// Mutating a read result must not leak into the store
	got.ConversationIDs[0] = "CONV_x"
	got.Metadata["source"] = "mutated"
	again, err := a.GetSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "CONV_1", again.ConversationIDs[0])
	assert.Equal(t, "weekly", again.Metadata["source"])
}

func TestSummaryUpsertKeepsOnePerUser(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, a.PutSummary(ctx, summary("SUMM_1", "u1", "v1", now)))

	// Same id overwrites in place
	updated := summary("SUMM_1", "u1", "v2", now.Add(time.Minute))
	require.NoError(t, a.PutSummary(ctx, updated))
	got, err := a.GetSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)

	// A fresh id for the same user is rejected
	err = a.PutSummary(ctx, summary("SUMM_2", "u1", "v3", now))
	assert.ErrorIs(t, err, storage.ErrConstraintViolation)
}

func TestListSummariesOrderedAndPaged(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, u := range []string{"u3", "u1", "u2"} {
		require.NoError(t, a.PutSummary(ctx, summary("SUMM_"+u, u, "s", now)))
	}

	all, err := a.ListSummaries(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "u1", all[0].UserID)
	assert.Equal(t, "u2", all[1].UserID)
	assert.Equal(t, "u3", all[2].UserID)

	page, err := a.ListSummaries(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u2", page[0].UserID)

	empty, err := a.ListSummaries(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCancelledContextShortCircuits(t *testing.T) {
	a := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.CreateConversation(ctx, conv("CONV_1", "u1", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = a.GetConversation(ctx, "CONV_1")
	assert.ErrorIs(t, err, context.Canceled)
}
