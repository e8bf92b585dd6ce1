// Package store provides PostgreSQL-backed storage for chat sessions and
// messages. Sessions are pairwise and append-only: a chat is never deleted,
// only deactivated, and messages are immutable except for the is_read flag
// which transitions false -> true exactly once.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/skillswap/chat-app/internal/apperr"
)

// ChatType tags for chat sessions.
const (
	ChatTypeDirect   = "direct"
	ChatTypeExchange = "exchange"
)

// ChatSession is a two-party message thread. ParticipantA/B ordering is
// normalized at creation time (lexicographic) so the pair is unique.
type ChatSession struct {
	ID              string
	ParticipantA    string
	ParticipantB    string
	ExchangeID      string // optional link to the originating exchange record
	ChatType        string
	IsActive        bool
	LastMessageText string
	LastMessageAt   *time.Time
	CreatedAt       time.Time
	UnreadCount     int // populated by ListForUser only
}

// Participants returns the fixed, ordered participant pair.
func (cs *ChatSession) Participants() []string {
	return []string{cs.ParticipantA, cs.ParticipantB}
}

// IsParticipant checks whether userID belongs to this chat.
func (cs *ChatSession) IsParticipant(userID string) bool {
	return userID == cs.ParticipantA || userID == cs.ParticipantB
}

// Partner returns the other participant's id, or "" if userID is not a
// participant.
func (cs *ChatSession) Partner(userID string) string {
	if userID == cs.ParticipantA {
		return cs.ParticipantB
	}
	if userID == cs.ParticipantB {
		return cs.ParticipantA
	}
	return ""
}

// Message is one persisted chat entry. Read means "read by the non-sender
// participant", which is only sound because sessions have exactly two
// participants.
type Message struct {
	ID          string
	ChatID      string
	SenderID    string
	Text        string
	MessageType string
	FileData    string
	Read        bool
	CreatedAt   time.Time
}

// Store manages chat sessions and messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a chat store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle for sharing with other stores.
func (s *Store) DB() *sql.DB { return s.db }

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

// FindOrCreate returns the chat between the two users, creating it if it does
// not exist. The participant pair is normalized so that (a,b) and (b,a) map
// to the same session. ExchangeID and chatType only apply on creation.
func (s *Store) FindOrCreate(ctx context.Context, userA, userB, exchangeID, chatType string) (*ChatSession, error) {
	if userA == userB {
		return nil, apperr.Invalid("cannot open a chat with yourself")
	}
	if userA > userB {
		userA, userB = userB, userA
	}
	if chatType == "" {
		chatType = ChatTypeDirect
	}

	id := uuid.New().String()
	const insert = `
		INSERT INTO chats (id, participant_a, participant_b, exchange_id, chat_type)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (participant_a, participant_b) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert, id, userA, userB, exchangeID, chatType); err != nil {
		return nil, fmt.Errorf("store: create chat: %w", err)
	}

	const query = `
		SELECT id, participant_a, participant_b, COALESCE(exchange_id, ''),
		       chat_type, is_active, last_message_text, last_message_at, created_at
		FROM chats
		WHERE participant_a = $1 AND participant_b = $2`

	cs, err := scanChat(s.db.QueryRowContext(ctx, query, userA, userB))
	if err != nil {
		return nil, fmt.Errorf("store: find chat: %w", err)
	}
	return cs, nil
}

// Get retrieves a chat session without its messages.
func (s *Store) Get(ctx context.Context, chatID string) (*ChatSession, error) {
	const query = `
		SELECT id, participant_a, participant_b, COALESCE(exchange_id, ''),
		       chat_type, is_active, last_message_text, last_message_at, created_at
		FROM chats
		WHERE id = $1`

	cs, err := scanChat(s.db.QueryRowContext(ctx, query, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chat %s: %w", chatID, err)
	}
	return cs, nil
}

// Messages returns the chat's messages ordered by creation time ascending.
func (s *Store) Messages(ctx context.Context, chatID string) ([]Message, error) {
	const query = `
		SELECT id, chat_id, sender_id, text, message_type, COALESCE(file_data, ''), is_read, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages for %s: %w", chatID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text,
			&m.MessageType, &m.FileData, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessage atomically inserts a message and refreshes the chat's
// denormalized last-message cache in one transaction. The message id and
// timestamp are assigned here, at persistence time. Two concurrent appends to
// the same chat both commit; there is no session-level read-modify-write.
func (s *Store) AppendMessage(ctx context.Context, chatID, senderID, text, msgType, fileData string) (*Message, error) {
	if msgType == "" {
		msgType = "text"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback()

	m := &Message{
		ID:          uuid.New().String(),
		ChatID:      chatID,
		SenderID:    senderID,
		Text:        text,
		MessageType: msgType,
		FileData:    fileData,
	}

	const insert = `
		INSERT INTO messages (id, chat_id, sender_id, text, message_type, file_data)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at`
	if err := tx.QueryRowContext(ctx, insert, m.ID, chatID, senderID, text, msgType, fileData).Scan(&m.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperr.NotFound("chat not found")
		}
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	const cache = `
		UPDATE chats
		SET last_message_text = $2, last_message_at = $3
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $3)`
	if _, err := tx.ExecContext(ctx, cache, chatID, text, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: update last-message cache: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit append: %w", err)
	}
	return m, nil
}

// MarkRead flips every unread message not sent by readerID to read and
// returns the number of rows changed. A call with nothing unread touches no
// rows, making repeated calls idempotent.
func (s *Store) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	const query = `
		UPDATE messages
		SET is_read = TRUE
		WHERE chat_id = $1 AND sender_id <> $2 AND is_read = FALSE`

	res, err := s.db.ExecContext(ctx, query, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("store: mark read %s: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: mark read rows: %w", err)
	}
	return n, nil
}

// ListForUser returns the user's chats, most recently active first, each with
// its unread count (messages from the other participant still unread).
func (s *Store) ListForUser(ctx context.Context, userID string) ([]ChatSession, error) {
	const query = `
		SELECT c.id, c.participant_a, c.participant_b, COALESCE(c.exchange_id, ''),
		       c.chat_type, c.is_active, c.last_message_text, c.last_message_at, c.created_at,
		       COUNT(m.id) FILTER (WHERE m.sender_id <> $1 AND m.is_read = FALSE) AS unread_count
		FROM chats c
		LEFT JOIN messages m ON m.chat_id = c.id
		WHERE c.participant_a = $1 OR c.participant_b = $1
		GROUP BY c.id
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list chats for %s: %w", userID, err)
	}
	defer rows.Close()

	var chats []ChatSession
	for rows.Next() {
		var cs ChatSession
		if err := rows.Scan(&cs.ID, &cs.ParticipantA, &cs.ParticipantB, &cs.ExchangeID,
			&cs.ChatType, &cs.IsActive, &cs.LastMessageText, &cs.LastMessageAt,
			&cs.CreatedAt, &cs.UnreadCount); err != nil {
			return nil, fmt.Errorf("store: scan chat row: %w", err)
		}
		chats = append(chats, cs)
	}
	return chats, rows.Err()
}

// UnreadCounts returns a chat_id -> unread count map for all of the user's
// chats with at least one unread message.
func (s *Store) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	const query = `
		SELECT m.chat_id, COUNT(*)
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE (c.participant_a = $1 OR c.participant_b = $1)
		  AND m.sender_id <> $1 AND m.is_read = FALSE
		GROUP BY m.chat_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: unread counts for %s: %w", userID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var chatID string
		var n int
		if err := rows.Scan(&chatID, &n); err != nil {
			return nil, fmt.Errorf("store: scan unread row: %w", err)
		}
		counts[chatID] = n
	}
	return counts, rows.Err()
}

// Deactivate soft-deletes a chat. The session and its messages remain stored.
func (s *Store) Deactivate(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET is_active = FALSE WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("store: deactivate %s: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("chat not found")
	}
	return nil
}

func scanChat(row *sql.Row) (*ChatSession, error) {
	var cs ChatSession
	err := row.Scan(&cs.ID, &cs.ParticipantA, &cs.ParticipantB, &cs.ExchangeID,
		&cs.ChatType, &cs.IsActive, &cs.LastMessageText, &cs.LastMessageAt, &cs.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
