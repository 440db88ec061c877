package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/chatline-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id               TEXT PRIMARY KEY,
	pair_key         TEXT UNIQUE,
	message_seq      INTEGER NOT NULL DEFAULT 0,
	pending_deletion BOOLEAN NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id  TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	chat_id      TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	media_url    TEXT NOT NULL DEFAULT '',
	media_type   TEXT NOT NULL DEFAULT 'none',
	seq          INTEGER NOT NULL,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_chat_participants_user ON chat_participants(user_id);
`

// SQLiteStore implements store.Store for SQLite.
// The chat message id list is derived from the messages table, so it cannot drift.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests that need direct access to the database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ==== UserStore implementation ====

// UpsertUser creates or refreshes display fields for a user.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *store.User) error {
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (id, username, avatar_url, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			avatar_url = CASE WHEN excluded.avatar_url = '' THEN users.avatar_url ELSE excluded.avatar_url END,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.AvatarURL, user.UpdatedAt); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUsers returns the known users among ids.
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) ([]*store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, avatar_url, updated_at
		FROM users
		WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// ==== ChatStore implementation ====

// CreateChat persists a new chat with its participants.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *store.Chat) error {
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = chat.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var pairKey sql.NullString
	if chat.PairKey != "" {
		pairKey = sql.NullString{String: chat.PairKey, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, chat.ID, pairKey, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert chat: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert chat: %w", err)
	}

	for i, userID := range chat.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, position)
			VALUES (?, ?, ?)
		`, chat.ID, userID, i); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	chat.MessageIDs = []string{}
	return nil
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	return loadChat(ctx, s.db, `WHERE id = ?`, id)
}

// GetChatByPairKey retrieves the chat between two users.
func (s *SQLiteStore) GetChatByPairKey(ctx context.Context, pairKey string) (*store.Chat, error) {
	return loadChat(ctx, s.db, `WHERE pair_key = ?`, pairKey)
}

// ListChats lists chats in insertion order.
func (s *SQLiteStore) ListChats(ctx context.Context, participantID string) ([]*store.Chat, error) {
	query := `SELECT id FROM chats ORDER BY rowid`
	var args []any
	if participantID != "" {
		query = `
			SELECT c.id FROM chats c
			JOIN chat_participants cp ON cp.chat_id = c.id
			WHERE cp.user_id = ?
			ORDER BY c.rowid
		`
		args = append(args, participantID)
	}

	ids, err := scanStrings(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	chats := make([]*store.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.GetChat(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// DeleteChat removes a chat and its messages in a single transaction.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) (store.DeleteReport, error) {
	var report store.DeleteReport

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	deleted, err := deleteChatTx(ctx, tx, id)
	if err != nil {
		return report, err
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit transaction: %w", err)
	}
	report.MessagesDeleted = deleted
	report.ChatDeleted = true
	return report, nil
}

func deleteChatTx(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id = ?`, id); err != nil {
		return 0, fmt.Errorf("delete participants: %w", err)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
	}
	return deleted, nil
}

// ==== MessageStore implementation ====

// InsertMessage persists msg and assigns its per-chat sequence number.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	if msg.MediaType == "" {
		msg.MediaType = store.AttachmentNone
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	// Timestamp inside the transaction so created_at order agrees with seq order.
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt

	res, err := tx.ExecContext(ctx, `
		UPDATE chats SET message_seq = message_seq + 1, updated_at = ?
		WHERE id = ?
	`, msg.CreatedAt, msg.ChatID)
	if err != nil {
		return fmt.Errorf("bump chat sequence: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("chat %s: %w", msg.ChatID, store.ErrNotFound)
	}

	if err := tx.QueryRowContext(ctx, `SELECT message_seq FROM chats WHERE id = ?`, msg.ChatID).Scan(&msg.Seq); err != nil {
		return fmt.Errorf("read chat sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, recipient_id, content, media_url, media_type, seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.RecipientID, msg.Content, msg.MediaURL, string(msg.MediaType), msg.Seq, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, recipient_id, content, media_url, media_type, seq, created_at, updated_at
		FROM messages
		WHERE id = ?
	`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// UpdateMessage replaces the mutable fields of a message.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *store.Message) error {
	msg.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, media_url = ?, media_type = ?, updated_at = ?
		WHERE id = ?
	`, msg.Content, msg.MediaURL, string(msg.MediaType), msg.UpdatedAt, msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, store.ErrNotFound)
	}
	return nil
}

// DeleteMessage removes a message. The chat's id list is derived, so no back-reference remains.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var chatID string
	if err := tx.QueryRowContext(ctx, `SELECT chat_id FROM messages WHERE id = ?`, id).Scan(&chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("query message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC(), chatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListMessages returns messages of a chat ordered by creation time ascending.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, recipient_id, content, media_url, media_type, seq, created_at, updated_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, seq ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*store.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ==== Sweeper implementation ====

// Sweep finishes flagged deletions and removes messages whose chat no longer exists.
func (s *SQLiteStore) Sweep(ctx context.Context) (store.SweepReport, error) {
	var report store.SweepReport

	pending, err := scanStrings(ctx, s.db, `SELECT id FROM chats WHERE pending_deletion = 1`)
	if err != nil {
		return report, fmt.Errorf("query pending deletions: %w", err)
	}
	for _, id := range pending {
		if _, err := s.DeleteChat(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return report, fmt.Errorf("finish deletion of %s: %w", id, err)
		}
		report.FinishedDeletions++
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id NOT IN (SELECT id FROM chats)`)
	if err != nil {
		return report, fmt.Errorf("delete orphaned messages: %w", err)
	}
	if report.OrphanedMessages, err = res.RowsAffected(); err != nil {
		return report, fmt.Errorf("rows affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id NOT IN (SELECT id FROM chats)`); err != nil {
		return report, fmt.Errorf("delete orphaned participants: %w", err)
	}

	return report, nil
}

// ==== helpers ====

func loadChat(ctx context.Context, q queryer, where string, arg any) (*store.Chat, error) {
	var chat store.Chat
	var pairKey sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, pair_key, pending_deletion, created_at, updated_at
		FROM chats `+where, arg).Scan(
		&chat.ID,
		&pairKey,
		&chat.PendingDeletion,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	chat.PairKey = pairKey.String

	chat.Participants, err = scanStrings(ctx, q, `
		SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY position
	`, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}

	chat.MessageIDs, err = scanStrings(ctx, q, `
		SELECT id FROM messages WHERE chat_id = ? ORDER BY created_at ASC, seq ASC
	`, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("query message ids: %w", err)
	}

	return &chat, nil
}

func scanStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var mediaType string
	if err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Content,
		&msg.MediaURL,
		&mediaType,
		&msg.Seq,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	msg.MediaType = store.AttachmentKind(mediaType)
	return &msg, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
