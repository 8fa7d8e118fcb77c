package surreal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Adapter implements the storage contract on a SurrealDB client.
//
// It deliberately does not implement storage.ConditionalCreator: the SDK's
// query API gives no single-statement find-or-create with our window
// semantics, so the manager's create-then-recheck convergence path is used
// instead.
type Adapter struct {
	client *Client
}

// NewAdapter wraps an established client. Call client.InitSchema first.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

var _ storage.Adapter = (*Adapter)(nil)
var _ storage.SummaryKeeper = (*Adapter)(nil)

// conversationRow is the wire shape of a conversation record.
type conversationRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	UserID    string                 `json:"user_id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
	IsActive  bool                   `json:"is_active"`
}

// messageRow is the wire shape of a message record.
type messageRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	UserID         string                 `json:"user_id"`
	Role           string                 `json:"role"`
	Content        any                    `json:"content"`
	MessageType    string                 `json:"message_type"`
	CreatedAt      time.Time              `json:"created_at"`
	Seq            int64                  `json:"seq"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
}

func recordIDString(rid surrealmodels.RecordID) string {
	return fmt.Sprintf("%v", rid.ID)
}

func (r conversationRow) toModel() models.Conversation {
	return models.Conversation{
		ID:        recordIDString(r.ID),
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Metadata:  r.Metadata,
		IsActive:  r.IsActive,
	}
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:             recordIDString(r.ID),
		ConversationID: r.ConversationID,
		UserID:         r.UserID,
		Role:           models.ChatRole(r.Role),
		Content:        r.Content,
		MessageType:    r.MessageType,
		CreatedAt:      r.CreatedAt.UTC(),
		Seq:            r.Seq,
		Metadata:       r.Metadata,
	}
}

// wrapErr maps SDK errors onto the storage taxonomy. Record collisions and
// the THROWN referential check surface as constraint violations; everything
// else is treated as a connection-level failure.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains") ||
			strings.Contains(msg, "conversation missing") {
			return fmt.Errorf("%s: %w: %s", op, storage.ErrConstraintViolation, msg)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, storage.ErrConnectionFailure, err)
}

func firstRow[T any](results *[]surrealdb.QueryResult[[]T]) (*T, bool) {
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, false
	}
	return &(*results)[0].Result[0], true
}

func allRows[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

func (a *Adapter) CreateConversation(ctx context.Context, conv models.Conversation) error {
	_, err := surrealdb.Query[any](ctx, a.client.db, `
		CREATE type::record("conversation", $id) SET
			user_id = $user_id,
			created_at = <datetime>$created_at,
			updated_at = <datetime>$updated_at,
			metadata = $metadata,
			is_active = $is_active
	`, map[string]any{
		"id":         conv.ID,
		"user_id":    conv.UserID,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
		"metadata":   conv.Metadata,
		"is_active":  conv.IsActive,
	})
	return wrapErr("create conversation", err)
}

func (a *Adapter) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, a.client.db, `
		SELECT * FROM type::record("conversation", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, wrapErr("get conversation", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return nil, storage.ErrConversationNotFound
	}
	conv := row.toModel()
	return &conv, nil
}

func (a *Adapter) FindRecentConversation(ctx context.Context, userID string, since time.Time) (*models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, a.client.db, `
		SELECT * FROM conversation
		WHERE user_id = $user_id AND is_active = true AND updated_at >= <datetime>$since
		ORDER BY updated_at DESC, created_at ASC, id ASC
		LIMIT 1
	`, map[string]any{"user_id": userID, "since": since})
	if err != nil {
		return nil, wrapErr("find recent conversation", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return nil, storage.ErrConversationNotFound
	}
	conv := row.toModel()
	return &conv, nil
}

func (a *Adapter) ListRecentConversations(ctx context.Context, userID string, since time.Time) ([]models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, a.client.db, `
		SELECT * FROM conversation
		WHERE user_id = $user_id AND is_active = true AND updated_at >= <datetime>$since
		ORDER BY created_at ASC, id ASC
	`, map[string]any{"user_id": userID, "since": since})
	if err != nil {
		return nil, wrapErr("list recent conversations", err)
	}
	rows := allRows(results)
	out := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (a *Adapter) TouchConversation(ctx context.Context, id string, updatedAt time.Time) error {
	results, err := surrealdb.Query[[]conversationRow](ctx, a.client.db, `
		UPDATE type::record("conversation", $id) SET
			updated_at = IF updated_at > <datetime>$ts THEN updated_at ELSE <datetime>$ts END
		RETURN AFTER
	`, map[string]any{"id": id, "ts": updatedAt})
	if err != nil {
		return wrapErr("touch conversation", err)
	}
	if _, ok := firstRow(results); !ok {
		return storage.ErrConversationNotFound
	}
	return nil
}

func (a *Adapter) CreateMessage(ctx context.Context, msg models.Message) error {
	_, err := surrealdb.Query[any](ctx, a.client.db, `
		LET $conv = SELECT VALUE count() FROM type::record("conversation", $conversation_id);
		IF array::len($conv) == 0 {
			THROW "conversation missing"
		};
		CREATE type::record("message", $id) SET
			conversation_id = $conversation_id,
			user_id = $user_id,
			role = $role,
			content = $content,
			message_type = $message_type,
			created_at = <datetime>$created_at,
			seq = $seq,
			metadata = $metadata;
	`, map[string]any{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"user_id":         msg.UserID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"message_type":    msg.MessageType,
		"created_at":      msg.CreatedAt,
		"seq":             msg.Seq,
		"metadata":        msg.Metadata,
	})
	return wrapErr("create message", err)
}

func (a *Adapter) GetMessages(ctx context.Context, conversationID string, q storage.MessageQuery) ([]models.Message, error) {
	sql := `
		SELECT * FROM message
		WHERE conversation_id = $conversation_id`
	vars := map[string]any{"conversation_id": conversationID}
	if len(q.Types) > 0 {
		sql += ` AND message_type IN $types`
		vars["types"] = q.Types
	}
	sql += `
		ORDER BY created_at ASC, seq ASC`
	if q.Limit > 0 {
		sql += ` LIMIT $limit`
		vars["limit"] = q.Limit
	}
	if q.Offset > 0 {
		if q.Limit <= 0 {
			// SurrealQL needs LIMIT before START
			sql += ` LIMIT $limit`
			vars["limit"] = int(^uint(0) >> 1)
		}
		sql += ` START $offset`
		vars["offset"] = q.Offset
	}

	results, err := surrealdb.Query[[]messageRow](ctx, a.client.db, sql, vars)
	if err != nil {
		return nil, wrapErr("get messages", err)
	}
	rows := allRows(results)
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (a *Adapter) DeleteConversation(ctx context.Context, id string, hard bool) error {
	if !hard {
		results, err := surrealdb.Query[[]conversationRow](ctx, a.client.db, `
			UPDATE type::record("conversation", $id) SET is_active = false RETURN AFTER
		`, map[string]any{"id": id})
		if err != nil {
			return wrapErr("deactivate conversation", err)
		}
		if _, ok := firstRow(results); !ok {
			return storage.ErrConversationNotFound
		}
		return nil
	}

	results, err := surrealdb.Query[[]conversationRow](ctx, a.client.db, `
		BEGIN TRANSACTION;
		DELETE message WHERE conversation_id = $id;
		DELETE type::record("conversation", $id) RETURN BEFORE;
		COMMIT TRANSACTION;
	`, map[string]any{"id": id})
	if err != nil {
		return wrapErr("delete conversation", err)
	}
	// The RETURN BEFORE result of the conversation delete is the last statement.
	if results == nil || len(*results) == 0 {
		return storage.ErrConversationNotFound
	}
	last := (*results)[len(*results)-1]
	if len(last.Result) == 0 {
		return storage.ErrConversationNotFound
	}
	return nil
}

func (a *Adapter) ListConversations(ctx context.Context, offset, limit int) ([]models.Conversation, error) {
	sql := `
		SELECT * FROM conversation
		ORDER BY created_at ASC, id ASC`
	vars := map[string]any{}
	if limit <= 0 {
		limit = int(^uint(0) >> 1)
	}
	sql += ` LIMIT $limit`
	vars["limit"] = limit
	if offset > 0 {
		sql += ` START $offset`
		vars["offset"] = offset
	}

	results, err := surrealdb.Query[[]conversationRow](ctx, a.client.db, sql, vars)
	if err != nil {
		return nil, wrapErr("list conversations", err)
	}
	rows := allRows(results)
	out := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type countRow struct {
	C int `json:"c"`
}

func (a *Adapter) CountConversations(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, a.client.db, `
		SELECT count() AS c FROM conversation GROUP ALL
	`, nil)
	if err != nil {
		return 0, wrapErr("count conversations", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return 0, nil
	}
	return row.C, nil
}

func (a *Adapter) CountMessages(ctx context.Context, conversationID string) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, a.client.db, `
		SELECT count() AS c FROM message WHERE conversation_id = $conversation_id GROUP ALL
	`, map[string]any{"conversation_id": conversationID})
	if err != nil {
		return 0, wrapErr("count messages", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return 0, nil
	}
	return row.C, nil
}

// summaryRow is the wire shape of a user summary record.
type summaryRow struct {
	ID              surrealmodels.RecordID `json:"id"`
	UserID          string                 `json:"user_id"`
	Content         string                 `json:"content"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	ConversationIDs []string               `json:"conversation_ids,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func (r summaryRow) toModel() models.UserSummary {
	return models.UserSummary{
		ID:              recordIDString(r.ID),
		UserID:          r.UserID,
		Content:         r.Content,
		Metadata:        r.Metadata,
		ConversationIDs: r.ConversationIDs,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func (a *Adapter) GetSummary(ctx context.Context, userID string) (*models.UserSummary, error) {
	results, err := surrealdb.Query[[]summaryRow](ctx, a.client.db, `
		SELECT * FROM user_summary WHERE user_id = $user_id LIMIT 1
	`, map[string]any{"user_id": userID})
	if err != nil {
		return nil, wrapErr("get summary", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return nil, storage.ErrSummaryNotFound
	}
	sum := row.toModel()
	return &sum, nil
}

func (a *Adapter) PutSummary(ctx context.Context, summary models.UserSummary) error {
	// The unique index on user_id rejects a second summary id for the same
	// user; the SDK surfaces that as a QueryError mapped by wrapErr.
	_, err := surrealdb.Query[any](ctx, a.client.db, `
		UPSERT type::record("user_summary", $id) SET
			user_id = $user_id,
			content = $content,
			metadata = $metadata,
			conversation_ids = $conversation_ids,
			created_at = <datetime>$created_at,
			updated_at = <datetime>$updated_at
	`, map[string]any{
		"id":               summary.ID,
		"user_id":          summary.UserID,
		"content":          summary.Content,
		"metadata":         summary.Metadata,
		"conversation_ids": summary.ConversationIDs,
		"created_at":       summary.CreatedAt,
		"updated_at":       summary.UpdatedAt,
	})
	return wrapErr("put summary", err)
}

func (a *Adapter) ListSummaries(ctx context.Context, offset, limit int) ([]models.UserSummary, error) {
	sql := `
		SELECT * FROM user_summary
		ORDER BY user_id ASC`
	vars := map[string]any{}
	if limit <= 0 {
		limit = int(^uint(0) >> 1)
	}
	sql += ` LIMIT $limit`
	vars["limit"] = limit
	if offset > 0 {
		sql += ` START $offset`
		vars["offset"] = offset
	}

	results, err := surrealdb.Query[[]summaryRow](ctx, a.client.db, sql, vars)
	if err != nil {
		return nil, wrapErr("list summaries", err)
	}
	rows := allRows(results)
	out := make([]models.UserSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (a *Adapter) PutConversation(ctx context.Context, conv models.Conversation) error {
	_, err := surrealdb.Query[any](ctx, a.client.db, `
		UPSERT type::record("conversation", $id) SET
			user_id = $user_id,
			created_at = <datetime>$created_at,
			updated_at = <datetime>$updated_at,
			metadata = $metadata,
			is_active = $is_active
	`, map[string]any{
		"id":         conv.ID,
		"user_id":    conv.UserID,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
		"metadata":   conv.Metadata,
		"is_active":  conv.IsActive,
	})
	return wrapErr("put conversation", err)
}

func (a *Adapter) PutMessage(ctx context.Context, msg models.Message) error {
	_, err := surrealdb.Query[any](ctx, a.client.db, `
		LET $conv = SELECT VALUE count() FROM type::record("conversation", $conversation_id);
		IF array::len($conv) == 0 {
			THROW "conversation missing"
		};
		UPSERT type::record("message", $id) SET
			conversation_id = $conversation_id,
			user_id = $user_id,
			role = $role,
			content = $content,
			message_type = $message_type,
			created_at = <datetime>$created_at,
			seq = $seq,
			metadata = $metadata;
	`, map[string]any{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"user_id":         msg.UserID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"message_type":    msg.MessageType,
		"created_at":      msg.CreatedAt,
		"seq":             msg.Seq,
		"metadata":        msg.Metadata,
	})
	return wrapErr("put message", err)
}
