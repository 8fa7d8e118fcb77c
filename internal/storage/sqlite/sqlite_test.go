package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "chatvault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func conv(id, userID string, at time.Time) models.Conversation {
	return models.Conversation{
		ID:        id,
		UserID:    userID,
		CreatedAt: at,
		UpdatedAt: at,
		IsActive:  true,
	}
}

func msg(id, convID string, at time.Time, seq int64) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: convID,
		UserID:         "u1",
		Role:           models.RoleUser,
		Content:        "hello",
		MessageType:    models.TypeUserMessage,
		CreatedAt:      at,
		Seq:            seq,
	}
}

func TestConversationRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	c := conv("CONV_1", "u1", now)
	c.Metadata = map[string]any{"channel": "web", "priority": float64(2)}
	require.NoError(t, a.CreateConversation(ctx, c))

	got, err := a.GetConversation(ctx, "CONV_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.True(t, got.IsActive)
	assert.Equal(t, c.Metadata, got.Metadata)

	err = a.CreateConversation(ctx, c)
	assert.ErrorIs(t, err, storage.ErrConstraintViolation)

	_, err = a.GetConversation(ctx, "CONV_missing")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func TestFindRecentConversation(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, a.CreateConversation(ctx, conv("CONV_old", "u1", now.Add(-48*time.Hour))))
	require.NoError(t, a.CreateConversation(ctx, conv("CONV_new", "u1", now.Add(-time.Hour))))
	require.NoError(t, a.CreateConversation(ctx, conv("CONV_other", "u2", now)))

	found, err := a.FindRecentConversation(ctx, "u1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "CONV_new", found.ID)

	// Everything outside the window
	_, err = a.FindRecentConversation(ctx, "u1", now)
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)

	// Soft-deleted conversations do not qualify
	require.NoError(t, a.DeleteConversation(ctx, "CONV_new", false))
	_, err = a.FindRecentConversation(ctx, "u1", now.Add(-24*time.Hour))
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func TestFindRecentTieBreak(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	// Same updated_at: earliest created wins, then smallest id
	older := conv("CONV_b", "u1", now.Add(-time.Minute))
	older.UpdatedAt = now
	younger := conv("CONV_a", "u1", now)
	require.NoError(t, a.CreateConversation(ctx, younger))
	require.NoError(t, a.CreateConversation(ctx, older))

	found, err := a.FindRecentConversation(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "CONV_b", found.ID)
}

func TestListRecentConversationsOrder(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, a.CreateConversation(ctx, conv("CONV_2", "u1", now.Add(-time.Minute))))
	require.NoError(t, a.CreateConversation(ctx, conv("CONV_3", "u1", now)))
	require.NoError(t, a.CreateConversation(ctx, conv("CONV_1", "u1", now.Add(-2*time.Minute))))

	got, err := a.ListRecentConversations(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "CONV_1", got[0].ID)
	assert.Equal(t, "CONV_2", got[1].ID)
	assert.Equal(t, "CONV_3", got[2].ID)
}

func TestTouchConversationMonotonic(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, a.CreateConversation(ctx, conv("CONV_1", "u1", now)))

	future := now.Add(time.Hour)
	require.NoError(t, a.TouchConversation(ctx, "CONV_1", future))
	got, err := a.GetConversation(ctx, "CONV_1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(future))

	// Older timestamp never regresses updated_at
	require.NoError(t, a.TouchConversation(ctx, "CONV_1", now))
	got, err = a.GetConversation(ctx, "CONV_1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(future))

	assert.ErrorIs(t, a.TouchConversation(ctx, "CONV_missing", future), storage.ErrConversationNotFound)
}

func TestCreateConversationIfAbsent(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, created, err := a.CreateConversationIfAbsent(ctx, conv("CONV_1", "u1", now), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "CONV_1", first.ID)

	// Second call inside the window reuses the first
	second, created, err := a.CreateConversationIfAbsent(ctx, conv("CONV_2", "u1", now), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "CONV_1", second.ID)

	// Outside the window a fresh one is created
	third, created, err := a.CreateConversationIfAbsent(ctx, conv("CONV_3", "u1", now.Add(2*time.Hour)), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "CONV_3", third.ID)
}

func TestMessageLifecycle(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, a.CreateConversation(ctx, conv("CONV_1", "u1", now)))

	m1 := msg("MSG_1", "CONV_1", now, 1)
	m2 := msg("MSG_2", "CONV_1", now.Add(time.Second), 2)
	m2.Role = models.RoleAI
	m2.Content = map[string]any{"text": "It's sunny!"}
	m2.MessageType = models.TypeAIResponse
	require.NoError(t, a.CreateMessage(ctx, m1))
	require.NoError(t, a.CreateMessage(ctx, m2))

	// Referential integrity
	orphan := msg("MSG_3", "CONV_missing", now, 3)
	assert.ErrorIs(t, a.CreateMessage(ctx, orphan), storage.ErrConstraintViolation)

	got, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "MSG_1", got[0].ID)
	assert.Equal(t, "hello", got[0].Content)
	structured, ok := got[1].Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "It's sunny!", structured["text"])

	filtered, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{Types: []string{models.TypeAIResponse}})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "MSG_2", filtered[0].ID)

	paged, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "MSG_2", paged[0].ID)

	n, err := a.CountMessages(ctx, "CONV_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMessageOrderingTies(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, a.CreateConversation(ctx, conv("CONV_1", "u1", now)))

	// Identical created_at: seq decides
	m1 := msg("MSG_b", "CONV_1", now, 2)
	m2 := msg("MSG_a", "CONV_1", now, 1)
	require.NoError(t, a.CreateMessage(ctx, m1))
	require.NoError(t, a.CreateMessage(ctx, m2))

	got, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "MSG_a", got[0].ID)
	assert.Equal(t, "MSG_b", got[1].ID)
}

func TestDeleteConversation(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, a.CreateConversation(ctx, conv("CONV_1", "u1", now)))
	require.NoError(t, a.CreateMessage(ctx, msg("MSG_1", "CONV_1", now, 1)))

	// Soft delete keeps the record and its messages
	require.NoError(t, a.DeleteConversation(ctx, "CONV_1", false))
	got, err := a.GetConversation(ctx, "CONV_1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	n, err := a.CountMessages(ctx, "CONV_1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Hard delete removes everything
	require.NoError(t, a.DeleteConversation(ctx, "CONV_1", true))
	_, err = a.GetConversation(ctx, "CONV_1")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
	n, err = a.CountMessages(ctx, "CONV_1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, a.DeleteConversation(ctx, "CONV_1", true), storage.ErrConversationNotFound)
}

func TestListConversationsPaging(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, id := range []string{"CONV_1", "CONV_2", "CONV_3"} {
		require.NoError(t, a.CreateConversation(ctx, conv(id, "u1", now.Add(time.Duration(i)*time.Second))))
	}

	page, err := a.ListConversations(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "CONV_2", page[0].ID)

	all, err := a.ListConversations(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := a.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSummaryRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := a.GetSummary(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrSummaryNotFound)

	s := models.UserSummary{
		ID:              "SUMM_1",
		UserID:          "u1",
		Content:         "prefers short answers",
		Metadata:        map[string]any{"source": "weekly"},
		ConversationIDs: []string{"CONV_1", "CONV_2"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, a.PutSummary(ctx, s))

	got, err := a.GetSummary(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, models.SummariesEqual(s, *got))

	// Same id updates in place
	s.Content = "prefers long answers"
	s.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, a.PutSummary(ctx, s))
	got, err = a.GetSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "prefers long answers", got.Content)
	assert.True(t, got.UpdatedAt.Equal(s.UpdatedAt))

	// A second id for the same user violates the one-per-user rule
	s2 := s
	s2.ID = "SUMM_2"
	assert.ErrorIs(t, a.PutSummary(ctx, s2), storage.ErrConstraintViolation)
}

func TestListSummariesOrderedAndPaged(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for _, u := range []string{"u3", "u1", "u2"} {
		require.NoError(t, a.PutSummary(ctx, models.UserSummary{
			ID: "SUMM_" + u, UserID: u, Content: "s",
			CreatedAt: now, UpdatedAt: now,
		}))
	}

	all, err := a.ListSummaries(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "u1", all[0].UserID)
	assert.Equal(t, "u3", all[2].UserID)

	page, err := a.ListSummaries(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u2", page[0].UserID)
}

func TestPutUpserts(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	c := conv("CONV_1", "u1", now)
	require.NoError(t, a.PutConversation(ctx, c))
	c.Metadata = map[string]any{"migrated": true}
	require.NoError(t, a.PutConversation(ctx, c))

	got, err := a.GetConversation(ctx, "CONV_1")
	require.NoError(t, err)
	assert.Equal(t, true, got.Metadata["migrated"])
	n, err := a.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m := msg("MSG_1", "CONV_1", now, 1)
	require.NoError(t, a.PutMessage(ctx, m))
	m.Content = "revised"
	require.NoError(t, a.PutMessage(ctx, m))

	msgs, err := a.GetMessages(ctx, "CONV_1", storage.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "revised", msgs[0].Content)
}
