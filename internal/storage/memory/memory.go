// Package memory provides the in-memory reference implementation of the
// storage contract. It is used by tests, demos and as the semantic baseline
// the real backends are checked against.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
)

// Adapter stores conversations, messages and user summaries in process
// memory. Safe for concurrent use.
type Adapter struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message // conversation id -> insertion order
	summaries     map[string]models.UserSummary
}

// New creates an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		summaries:     make(map[string]models.UserSummary),
	}
}

var _ storage.Adapter = (*Adapter)(nil)
var _ storage.ConditionalCreator = (*Adapter)(nil)
var _ storage.SummaryKeeper = (*Adapter)(nil)

func (a *Adapter) CreateConversation(ctx context.Context, conv models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.conversations[conv.ID]; ok {
		return storage.ErrConstraintViolation
	}
	a.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// CreateConversationIfAbsent implements storage.ConditionalCreator: the
// window lookup and the insert happen under one lock, so concurrent callers
// for the same user observe a single winner.
func (a *Adapter) CreateConversationIfAbsent(ctx context.Context, conv models.Conversation, since time.Time) (models.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.findRecentLocked(conv.UserID, since); ok {
		return existing, false, nil
	}
	a.conversations[conv.ID] = cloneConversation(conv)
	return conv, true, nil
}

func (a *Adapter) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	conv, ok := a.conversations[id]
	if !ok {
		return nil, storage.ErrConversationNotFound
	}
	c := cloneConversation(conv)
	return &c, nil
}

func (a *Adapter) FindRecentConversation(ctx context.Context, userID string, since time.Time) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	conv, ok := a.findRecentLocked(userID, since)
	if !ok {
		return nil, storage.ErrConversationNotFound
	}
	return &conv, nil
}

// findRecentLocked returns the most recently updated active conversation for
// the user inside the window. Ties on updated_at resolve to the earliest
// created, then smallest id, matching the convergence order.
func (a *Adapter) findRecentLocked(userID string, since time.Time) (models.Conversation, bool) {
	var best models.Conversation
	found := false
	for _, conv := range a.conversations {
		if conv.UserID != userID || !conv.IsActive || conv.UpdatedAt.Before(since) {
			continue
		}
		if !found || moreRecent(conv, best) {
			best = conv
			found = true
		}
	}
	if !found {
		return models.Conversation{}, false
	}
	return cloneConversation(best), true
}

func moreRecent(c, than models.Conversation) bool {
	if !c.UpdatedAt.Equal(than.UpdatedAt) {
		return c.UpdatedAt.After(than.UpdatedAt)
	}
	if !c.CreatedAt.Equal(than.CreatedAt) {
		return c.CreatedAt.Before(than.CreatedAt)
	}
	return c.ID < than.ID
}

func (a *Adapter) ListRecentConversations(ctx context.Context, userID string, since time.Time) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []models.Conversation
	for _, conv := range a.conversations {
		if conv.UserID != userID || !conv.IsActive || conv.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, cloneConversation(conv))
	}
	sortByCreation(out)
	return out, nil
}

func (a *Adapter) TouchConversation(ctx context.Context, id string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[id]
	if !ok {
		return storage.ErrConversationNotFound
	}
	if updatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = updatedAt
		a.conversations[id] = conv
	}
	return nil
}

func (a *Adapter) CreateMessage(ctx context.Context, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.conversations[msg.ConversationID]; !ok {
		return storage.ErrConstraintViolation
	}
	a.messages[msg.ConversationID] = append(a.messages[msg.ConversationID], cloneMessage(msg))
	return nil
}

func (a *Adapter) GetMessages(ctx context.Context, conversationID string, q storage.MessageQuery) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var allowed map[string]struct{}
	if len(q.Types) > 0 {
		allowed = make(map[string]struct{}, len(q.Types))
		for _, t := range q.Types {
			allowed[t] = struct{}{}
		}
	}

	out := make([]models.Message, 0, len(a.messages[conversationID]))
	for _, msg := range a.messages[conversationID] {
		if allowed != nil {
			if _, ok := allowed[msg.MessageType]; !ok {
				continue
			}
		}
		out = append(out, cloneMessage(msg))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []models.Message{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (a *Adapter) DeleteConversation(ctx context.Context, id string, hard bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[id]
	if !ok {
		return storage.ErrConversationNotFound
	}
	if hard {
		delete(a.conversations, id)
		delete(a.messages, id)
		return nil
	}
	conv.IsActive = false
	a.conversations[id] = conv
	return nil
}

func (a *Adapter) ListConversations(ctx context.Context, offset, limit int) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	all := make([]models.Conversation, 0, len(a.conversations))
	for _, conv := range a.conversations {
		all = append(all, cloneConversation(conv))
	}
	sortByCreation(all)
	if offset >= len(all) {
		return []models.Conversation{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (a *Adapter) CountConversations(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conversations), nil
}

func (a *Adapter) CountMessages(ctx context.Context, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.messages[conversationID]), nil
}

func (a *Adapter) PutConversation(ctx context.Context, conv models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (a *Adapter) PutMessage(ctx context.Context, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.conversations[msg.ConversationID]; !ok {
		return storage.ErrConstraintViolation
	}
	msgs := a.messages[msg.ConversationID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = cloneMessage(msg)
			return nil
		}
	}
	a.messages[msg.ConversationID] = append(msgs, cloneMessage(msg))
	return nil
}

func (a *Adapter) GetSummary(ctx context.Context, userID string) (*models.UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	sum, ok := a.summaries[userID]
	if !ok {
		return nil, storage.ErrSummaryNotFound
	}
	s := cloneSummary(sum)
	return &s, nil
}

func (a *Adapter) PutSummary(ctx context.Context, summary models.UserSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.summaries[summary.UserID]; ok && existing.ID != summary.ID {
		return storage.ErrConstraintViolation
	}
	a.summaries[summary.UserID] = cloneSummary(summary)
	return nil
}

func (a *Adapter) ListSummaries(ctx context.Context, offset, limit int) ([]models.UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	all := make([]models.UserSummary, 0, len(a.summaries))
	for _, sum := range a.summaries {
		all = append(all, cloneSummary(sum))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })
	if offset >= len(all) {
		return []models.UserSummary{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func sortByCreation(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].CreatedAt.Before(convs[j].CreatedAt)
		}
		return convs[i].ID < convs[j].ID
	})
}

// Records are copied on the way in and out so callers never alias the maps
// held under the lock.
func cloneConversation(c models.Conversation) models.Conversation {
	c.Metadata = cloneMetadata(c.Metadata)
	return c
}

func cloneMessage(m models.Message) models.Message {
	m.Metadata = cloneMetadata(m.Metadata)
	return m
}

func cloneSummary(s models.UserSummary) models.UserSummary {
	s.Metadata = cloneMetadata(s.Metadata)
	if s.ConversationIDs != nil {
		s.ConversationIDs = append([]string(nil), s.ConversationIDs...)
	}
	return s
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
