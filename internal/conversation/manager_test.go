package conversation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
	"github.com/chatvault/chatvault/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainAdapter hides the ConditionalCreator capability of the in-memory
// adapter so the create-then-recheck convergence path gets exercised.
type plainAdapter struct {
	storage.Adapter
}

func newManager(t *testing.T, adapter storage.Adapter, opts ...ManagerOption) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	hooks := NewHooks(nil)
	store := NewMessageStore(adapter, cfg, hooks, nil)
	return NewManager(adapter, store, cfg, hooks, nil, opts...)
}

func TestGetOrCreateCreatesThenReuses(t *testing.T) {
	adapter := memory.New()
	m := newManager(t, adapter)
	ctx := context.Background()

	first, err := m.GetOrCreateConversation(ctx, "u1", map[string]any{"channel": "web"})
	require.NoError(t, err)
	assert.Contains(t, first.ID, "CONV_")
	assert.True(t, first.IsActive)

	second, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Reuse must not advance updated_at
	got, err := m.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(first.UpdatedAt))

	// Different user gets a different conversation
	other, err := m.GetOrCreateConversation(ctx, "u2", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateOutsideWindowCreatesFresh(t *testing.T) {
	adapter := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m := newManager(t, adapter, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	first, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)

	// Step past the reuse window
	clock = base.Add(DefaultConfig().ReuseWindow + time.Hour)
	second, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestGetOrCreateSkipsInactive(t *testing.T) {
	adapter := memory.New()
	m := newManager(t, adapter)
	ctx := context.Background()

	first, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, m.DeleteConversation(ctx, first.ID, false))

	second, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestConcurrentGetOrCreateConvergesAtomicPath(t *testing.T) {
	adapter := memory.New()
	m := newManager(t, adapter)
	ctx := context.Background()

	const callers = 24
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := m.GetOrCreateConversation(ctx, "u1", nil)
			require.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	n, err := adapter.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// racingAdapter simulates a competing writer: the moment the manager inserts
// its conversation, a rival row with an earlier created_at sneaks in first.
type racingAdapter struct {
	storage.Adapter
	rival models.Conversation
	once  sync.Once
}

func (r *racingAdapter) FindRecentConversation(ctx context.Context, userID string, since time.Time) (*models.Conversation, error) {
	// The lookup that precedes creation misses, as it would mid-race.
	return nil, storage.ErrConversationNotFound
}

func (r *racingAdapter) CreateConversation(ctx context.Context, conv models.Conversation) error {
	var err error
	r.once.Do(func() {
		err = r.Adapter.CreateConversation(ctx, r.rival)
	})
	if err != nil {
		return err
	}
	return r.Adapter.CreateConversation(ctx, conv)
}

func TestGetOrCreateRecheckYieldsToEarlierCreation(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	rival := models.Conversation{
		ID:        "CONV_rival",
		UserID:    "u1",
		CreatedAt: now.Add(-time.Second),
		UpdatedAt: now.Add(-time.Second),
		IsActive:  true,
	}
	backing := memory.New()
	adapter := &racingAdapter{Adapter: backing, rival: rival}
	m := newManager(t, adapter)

	conv, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, "CONV_rival", conv.ID)

	// The losing row was hard-deleted, only the winner remains
	remaining, err := backing.ListRecentConversations(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "CONV_rival", remaining[0].ID)
}

func TestGetOrCreateRecheckKeepsOwnRowWhenEarliest(t *testing.T) {
	adapter := plainAdapter{memory.New()}
	m := newManager(t, adapter)
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)

	got, err := m.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestConversationCreatedHookFiresOnlyOnCreation(t *testing.T) {
	adapter := memory.New()
	m := newManager(t, adapter)
	ctx := context.Background()

	var created atomic.Int64
	m.Hooks().OnConversationCreated(func(conv models.Conversation) {
		created.Add(1)
	})

	_, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)
	_, err = m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)
	m.Hooks().Wait()

	assert.Equal(t, int64(1), created.Load())
}

func TestAddMessageResolvesConversation(t *testing.T) {
	adapter := memory.New()
	m := newManager(t, adapter)
	ctx := context.Background()

	msg, err := m.AddMessage(ctx, AddMessageParams{
		UserID:  "u1",
		Role:    models.RoleUser,
		Content: "What's the weather?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ConversationID)
	assert.Equal(t, models.TypeUserMessage, msg.MessageType)

	// A second message without an id lands in the same conversation
	msg2, err := m.AddMessage(ctx, AddMessageParams{
		UserID:  "u1",
		Role:    models.RoleAI,
		Content: "It's sunny!",
	})
	require.NoError(t, err)
	assert.Equal(t, msg.ConversationID, msg2.ConversationID)
}

func TestTouchConversation(t *testing.T) {
	adapter := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m := newManager(t, adapter, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "u1", nil)
	require.NoError(t, err)

	clock = base.Add(time.Hour)
	require.NoError(t, m.TouchConversation(ctx, conv.ID))

	got, err := m.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(clock))

	err = m.TouchConversation(ctx, "CONV_missing")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func TestCleanupStale(t *testing.T) {
	adapter := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m := newManager(t, adapter, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	stale, err := m.GetOrCreateConversation(ctx, "u-stale", nil)
	require.NoError(t, err)

	clock = base.Add(DefaultConfig().CleanupAfter + 24*time.Hour)
	fresh, err := m.GetOrCreateConversation(ctx, "u-fresh", nil)
	require.NoError(t, err)

	n, err := m.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.GetConversation(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	got, err = m.GetConversation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	// Second run finds nothing left to do
	n, err = m.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCleanupStalePagesThroughAll(t *testing.T) {
	adapter := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m := newManager(t, adapter, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	// More conversations than one cleanup page
	for i := 0; i < 250; i++ {
		_, err := m.GetOrCreateConversation(ctx, fmt.Sprintf("user-%03d", i), nil)
		require.NoError(t, err)
	}

	clock = base.Add(DefaultConfig().CleanupAfter + 24*time.Hour)
	n, err := m.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250, n)
}
