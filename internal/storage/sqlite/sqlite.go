// Package sqlite implements the storage contract on an embedded SQLite
// database (modernc.org/sqlite, pure Go driver). It is the default backend:
// durable, serverless and good enough for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/chatvault/chatvault/internal/storage"
	_ "modernc.org/sqlite"
)

// Adapter persists conversations and messages in a SQLite database file.
type Adapter struct {
	db *sql.DB
}

// New creates/opens the database at path and bootstraps the schema.
func New(path string) (*Adapter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention with SQLite under
	// concurrent goroutines, and makes tx-scoped find-or-create atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Adapter{db: db}
	if err := a.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Adapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

var _ storage.Adapter = (*Adapter)(nil)
var _ storage.ConditionalCreator = (*Adapter)(nil)
var _ storage.SummaryKeeper = (*Adapter)(nil)

func (a *Adapter) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_user_updated_idx ON conversations(user_id, updated_at_ns DESC);`,
		`CREATE INDEX IF NOT EXISTS conversations_created_idx ON conversations(created_at_ns, id);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content_json TEXT NOT NULL,
			message_type TEXT NOT NULL,
			created_at_ns INTEGER NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			metadata_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, created_at_ns, seq);`,
		`CREATE TABLE IF NOT EXISTS user_summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			conversation_ids_json TEXT NOT NULL DEFAULT '[]',
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	line := strings.TrimSpace(stmt)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

// wrapErr maps driver errors onto the storage taxonomy. Constraint failures
// keep their identity; everything else is treated as a connection-level
// failure the caller may retry.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "FOREIGN KEY") || strings.Contains(msg, "UNIQUE") ||
		strings.Contains(msg, "constraint failed") {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConstraintViolation, err)
	}
	return fmt.Errorf("%s: %w: %v", op, storage.ErrConnectionFailure, err)
}

func encodeJSON(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func decodeContent(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	return encodeJSON(m)
}

const conversationCols = `id, user_id, created_at_ns, updated_at_ns, metadata_json, is_active`

func scanConversation(row interface{ Scan(...any) error }) (models.Conversation, error) {
	var c models.Conversation
	var createdNS, updatedNS int64
	var metaRaw string
	var active int
	if err := row.Scan(&c.ID, &c.UserID, &createdNS, &updatedNS, &metaRaw, &active); err != nil {
		return models.Conversation{}, err
	}
	c.CreatedAt = time.Unix(0, createdNS).UTC()
	c.UpdatedAt = time.Unix(0, updatedNS).UTC()
	c.Metadata = decodeMetadata(metaRaw)
	c.IsActive = active != 0
	return c, nil
}

func (a *Adapter) CreateConversation(ctx context.Context, conv models.Conversation) error {
	active := 0
	if conv.IsActive {
		active = 1
	}
	_, err := a.db.ExecContext(ctx, `
INSERT INTO conversations(id, user_id, created_at_ns, updated_at_ns, metadata_json, is_active)
VALUES(?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
		encodeMetadata(conv.Metadata), active)
	return wrapErr("create conversation", err)
}

// CreateConversationIfAbsent runs the window lookup and the insert inside one
// transaction on the single shared connection, making find-or-create atomic.
func (a *Adapter) CreateConversationIfAbsent(ctx context.Context, conv models.Conversation, since time.Time) (models.Conversation, bool, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, wrapErr("find-or-create begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT `+conversationCols+`
FROM conversations
WHERE user_id = ? AND is_active = 1 AND updated_at_ns >= ?
ORDER BY updated_at_ns DESC, created_at_ns ASC, id ASC
LIMIT 1`, conv.UserID, since.UnixNano())
	existing, err := scanConversation(row)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return models.Conversation{}, false, wrapErr("find-or-create commit", err)
		}
		return existing, false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return models.Conversation{}, false, wrapErr("find-or-create select", err)
	}

	active := 0
	if conv.IsActive {
		active = 1
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(id, user_id, created_at_ns, updated_at_ns, metadata_json, is_active)
VALUES(?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
		encodeMetadata(conv.Metadata), active); err != nil {
		return models.Conversation{}, false, wrapErr("find-or-create insert", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, wrapErr("find-or-create commit", err)
	}
	return conv, true, nil
}

func (a *Adapter) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConversationNotFound
		}
		return nil, wrapErr("get conversation", err)
	}
	return &conv, nil
}

func (a *Adapter) FindRecentConversation(ctx context.Context, userID string, since time.Time) (*models.Conversation, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT `+conversationCols+`
FROM conversations
WHERE user_id = ? AND is_active = 1 AND updated_at_ns >= ?
ORDER BY updated_at_ns DESC, created_at_ns ASC, id ASC
LIMIT 1`, userID, since.UnixNano())
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConversationNotFound
		}
		return nil, wrapErr("find recent conversation", err)
	}
	return &conv, nil
}

func (a *Adapter) ListRecentConversations(ctx context.Context, userID string, since time.Time) ([]models.Conversation, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT `+conversationCols+`
FROM conversations
WHERE user_id = ? AND is_active = 1 AND updated_at_ns >= ?
ORDER BY created_at_ns ASC, id ASC`, userID, since.UnixNano())
	if err != nil {
		return nil, wrapErr("list recent conversations", err)
	}
	defer rows.Close()
	return collectConversations(rows, "list recent conversations")
}

func (a *Adapter) TouchConversation(ctx context.Context, id string, updatedAt time.Time) error {
	res, err := a.db.ExecContext(ctx, `
UPDATE conversations
SET updated_at_ns = MAX(updated_at_ns, ?)
WHERE id = ?`, updatedAt.UnixNano(), id)
	if err != nil {
		return wrapErr("touch conversation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrConversationNotFound
	}
	return nil
}

func (a *Adapter) CreateMessage(ctx context.Context, msg models.Message) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("create message begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	if err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("create message: %w: conversation %s absent",
				storage.ErrConstraintViolation, msg.ConversationID)
		}
		return wrapErr("create message check conversation", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, user_id, role, content_json, message_type, created_at_ns, seq, metadata_json)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, string(msg.Role), encodeJSON(msg.Content),
		msg.MessageType, msg.CreatedAt.UnixNano(), msg.Seq, encodeMetadata(msg.Metadata)); err != nil {
		return wrapErr("create message insert", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("create message commit", err)
	}
	return nil
}

func (a *Adapter) GetMessages(ctx context.Context, conversationID string, q storage.MessageQuery) ([]models.Message, error) {
	query := `
SELECT id, conversation_id, user_id, role, content_json, message_type, created_at_ns, seq, metadata_json
FROM messages
WHERE conversation_id = ?`
	args := []any{conversationID}

	if len(q.Types) > 0 {
		query += ` AND message_type IN (` + strings.TrimRight(strings.Repeat("?,", len(q.Types)), ",") + `)`
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at_ns ASC, seq ASC`
	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("get messages", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var m models.Message
		var role, contentRaw, metaRaw string
		var createdNS int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &role, &contentRaw,
			&m.MessageType, &createdNS, &m.Seq, &metaRaw); err != nil {
			return nil, wrapErr("scan message", err)
		}
		m.Role = models.ChatRole(role)
		m.Content = decodeContent(contentRaw)
		m.CreatedAt = time.Unix(0, createdNS).UTC()
		m.Metadata = decodeMetadata(metaRaw)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate messages", err)
	}
	return out, nil
}

func (a *Adapter) DeleteConversation(ctx context.Context, id string, hard bool) error {
	if !hard {
		res, err := a.db.ExecContext(ctx,
			`UPDATE conversations SET is_active = 0 WHERE id = ?`, id)
		if err != nil {
			return wrapErr("deactivate conversation", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return storage.ErrConversationNotFound
		}
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete conversation begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return wrapErr("delete conversation messages", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete conversation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrConversationNotFound
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("delete conversation commit", err)
	}
	return nil
}

func (a *Adapter) ListConversations(ctx context.Context, offset, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT `+conversationCols+`
FROM conversations
ORDER BY created_at_ns ASC, id ASC
LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, wrapErr("list conversations", err)
	}
	defer rows.Close()
	return collectConversations(rows, "list conversations")
}

func collectConversations(rows *sql.Rows, op string) ([]models.Conversation, error) {
	out := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func (a *Adapter) CountConversations(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, wrapErr("count conversations", err)
	}
	return n, nil
}

func (a *Adapter) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n); err != nil {
		return 0, wrapErr("count messages", err)
	}
	return n, nil
}

func (a *Adapter) PutConversation(ctx context.Context, conv models.Conversation) error {
	active := 0
	if conv.IsActive {
		active = 1
	}
	_, err := a.db.ExecContext(ctx, `
INSERT INTO conversations(id, user_id, created_at_ns, updated_at_ns, metadata_json, is_active)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	user_id = excluded.user_id,
	created_at_ns = excluded.created_at_ns,
	updated_at_ns = excluded.updated_at_ns,
	metadata_json = excluded.metadata_json,
	is_active = excluded.is_active`,
		conv.ID, conv.UserID, conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
		encodeMetadata(conv.Metadata), active)
	return wrapErr("put conversation", err)
}

const summaryCols = `id, user_id, content, metadata_json, conversation_ids_json, created_at_ns, updated_at_ns`

func scanSummary(row interface{ Scan(...any) error }) (models.UserSummary, error) {
	var s models.UserSummary
	var metaRaw, convIDsRaw string
	var createdNS, updatedNS int64
	if err := row.Scan(&s.ID, &s.UserID, &s.Content, &metaRaw, &convIDsRaw, &createdNS, &updatedNS); err != nil {
		return models.UserSummary{}, err
	}
	s.Metadata = decodeMetadata(metaRaw)
	if convIDsRaw != "" && convIDsRaw != "[]" && convIDsRaw != "null" {
		_ = json.Unmarshal([]byte(convIDsRaw), &s.ConversationIDs)
	}
	s.CreatedAt = time.Unix(0, createdNS).UTC()
	s.UpdatedAt = time.Unix(0, updatedNS).UTC()
	return s, nil
}

func (a *Adapter) GetSummary(ctx context.Context, userID string) (*models.UserSummary, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT `+summaryCols+` FROM user_summaries WHERE user_id = ?`, userID)
	sum, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSummaryNotFound
		}
		return nil, wrapErr("get summary", err)
	}
	return &sum, nil
}

func (a *Adapter) PutSummary(ctx context.Context, summary models.UserSummary) error {
	// Conflicting on user_id keeps the one-summary-per-user invariant. The
	// WHERE guard turns an id mismatch into zero affected rows, reported as
	// a constraint violation to match the other backends.
	res, err := a.db.ExecContext(ctx, `
INSERT INTO user_summaries(id, user_id, content, metadata_json, conversation_ids_json, created_at_ns, updated_at_ns)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	content = excluded.content,
	metadata_json = excluded.metadata_json,
	conversation_ids_json = excluded.conversation_ids_json,
	created_at_ns = excluded.created_at_ns,
	updated_at_ns = excluded.updated_at_ns
WHERE user_summaries.id = excluded.id`,
		summary.ID, summary.UserID, summary.Content, encodeMetadata(summary.Metadata),
		encodeConversationIDs(summary.ConversationIDs),
		summary.CreatedAt.UnixNano(), summary.UpdatedAt.UnixNano())
	if err != nil {
		return wrapErr("put summary", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("put summary: %w: user %s already has a summary under a different id",
			storage.ErrConstraintViolation, summary.UserID)
	}
	return nil
}

func encodeConversationIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	return encodeJSON(ids)
}

func (a *Adapter) ListSummaries(ctx context.Context, offset, limit int) ([]models.UserSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT `+summaryCols+`
FROM user_summaries
ORDER BY user_id ASC
LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, wrapErr("list summaries", err)
	}
	defer rows.Close()

	out := []models.UserSummary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, wrapErr("scan summary", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate summaries", err)
	}
	return out, nil
}

func (a *Adapter) PutMessage(ctx context.Context, msg models.Message) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, user_id, role, content_json, message_type, created_at_ns, seq, metadata_json)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	conversation_id = excluded.conversation_id,
	user_id = excluded.user_id,
	role = excluded.role,
	content_json = excluded.content_json,
	message_type = excluded.message_type,
	created_at_ns = excluded.created_at_ns,
	seq = excluded.seq,
	metadata_json = excluded.metadata_json`,
		msg.ID, msg.ConversationID, msg.UserID, string(msg.Role), encodeJSON(msg.Content),
		msg.MessageType, msg.CreatedAt.UnixNano(), msg.Seq, encodeMetadata(msg.Metadata))
	return wrapErr("put message", err)
}
