// Package message implements one-to-one conversations and direct
// messages. A conversation is stored once per unordered user pair as
// (user_low, user_high).
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
)

// MaxBodyLen is the longest message body in characters.
const MaxBodyLen = 4000

// Sentinel errors for messaging operations.
var (
	ErrNotFound         = errors.New("message: not found")
	ErrSelfConversation = errors.New("message: cannot message yourself")
	ErrNotAllowed       = errors.New("message: recipient does not accept messages from you")
	ErrInvalid          = errors.New("message: invalid input")
)

// Participant is the public summary of the other conversation member.
type Participant struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarKey   string `json:"avatarKey,omitempty"`
}

// Conversation is a conversation as seen by one of its members.
type Conversation struct {
	ID            int64       `json:"id"`
	Other         Participant `json:"other"`
	UnreadCount   int         `json:"unreadCount"`
	LastMessageAt *time.Time  `json:"lastMessageAt"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Message is a direct message.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	SenderID       int64      `json:"senderId"`
	Body           string     `json:"body"`
	ReadAt         *time.Time `json:"readAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Sent is returned by Send.
type Sent struct {
	Message     *Message
	RecipientID int64
}

// Store provides messaging operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a message Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// OpenConversation returns the conversation between userID and otherID,
// creating it if needed. The recipient's allow_messages_from setting is
// enforced.
func (s *Store) OpenConversation(ctx context.Context, userID, otherID int64) (*Conversation, error) {
	if userID == otherID {
		return nil, ErrSelfConversation
	}
	if err := checkAllowed(ctx, s.db.Pool, userID, otherID); err != nil {
		return nil, err
	}

	low, high := pair(userID, otherID)
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO conversations (user_low, user_high) VALUES ($1, $2)
		 ON CONFLICT (user_low, user_high) DO NOTHING`, low, high)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, otherID)
		}
		return nil, fmt.Errorf("message: open conversation: %w", err)
	}

	var id int64
	err = s.db.Pool.QueryRow(ctx,
		`SELECT id FROM conversations WHERE user_low = $1 AND user_high = $2`, low, high).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("message: open conversation: %w", err)
	}
	return s.Conversation(ctx, userID, id)
}

// Conversation returns one conversation if userID is a member.
func (s *Store) Conversation(ctx context.Context, userID, id int64) (*Conversation, error) {
	rows, err := s.db.Pool.Query(ctx, selectConversations+` AND cv.id = $2`, userID, id)
	if err != nil {
		return nil, fmt.Errorf("message: get conversation %d: %w", id, err)
	}
	convs, err := collectConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, id)
	}
	return &convs[0], nil
}

// ListConversations returns the user's conversations, most recently
// active first, with the other member and the user's unread count.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.db.Pool.Query(ctx,
		selectConversations+` ORDER BY COALESCE(cv.last_message_at, cv.created_at) DESC, cv.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("message: list conversations: %w", err)
	}
	return collectConversations(rows)
}

// Send posts a message into a conversation the sender belongs to and
// bumps the conversation's last_message_at.
func (s *Store) Send(ctx context.Context, conversationID, senderID int64, body string) (*Sent, error) {
	body = strings.TrimSpace(body)
	if n := len([]rune(body)); n == 0 || n > MaxBodyLen {
		return nil, fmt.Errorf("%w: body must be 1-%d characters", ErrInvalid, MaxBodyLen)
	}

	var sent Sent
	err := s.db.WithTx(ctx, "send message", func(tx pgx.Tx) error {
		var low, high int64
		err := tx.QueryRow(ctx,
			`SELECT user_low, user_high FROM conversations WHERE id = $1 FOR UPDATE`,
			conversationID).Scan(&low, &high)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && senderID != low && senderID != high) {
			return fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		if err != nil {
			return fmt.Errorf("message: lock conversation %d: %w", conversationID, err)
		}

		sent.RecipientID = low
		if senderID == low {
			sent.RecipientID = high
		}
		if err := checkAllowed(ctx, tx, senderID, sent.RecipientID); err != nil {
			return err
		}

		var m Message
		err = tx.QueryRow(ctx,
			`INSERT INTO messages (conversation_id, sender_id, body) VALUES ($1, $2, $3)
			 RETURNING id, conversation_id, sender_id, body, read_at, created_at`,
			conversationID, senderID, body,
		).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.ReadAt, &m.CreatedAt)
		if err != nil {
			return fmt.Errorf("message: insert: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET last_message_at = $2 WHERE id = $1`,
			conversationID, m.CreatedAt); err != nil {
			return fmt.Errorf("message: bump conversation %d: %w", conversationID, err)
		}
		sent.Message = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sent, nil
}

// ListMessages returns messages in a conversation, newest first.
func (s *Store) ListMessages(ctx context.Context, conversationID, userID int64, page database.Page) ([]Message, error) {
	if err := s.checkMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, body, read_at, created_at
		 FROM messages WHERE conversation_id = $1 AND id < $2
		 ORDER BY id DESC LIMIT $3`,
		conversationID, page.BeforeOrMax(), page.Limit)
	if err != nil {
		return nil, fmt.Errorf("message: list %d: %w", conversationID, err)
	}
	return collectMessages(rows)
}

// SentByUser returns every message the user sent, for data export.
func (s *Store) SentByUser(ctx context.Context, userID int64) ([]Message, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, body, read_at, created_at
		 FROM messages WHERE sender_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("message: sent by user %d: %w", userID, err)
	}
	return collectMessages(rows)
}

// MarkRead marks every message the other member sent in the
// conversation as read and returns how many changed.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID int64) (int64, error) {
	if err := s.checkMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE messages SET read_at = NOW()
		 WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL`,
		conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("message: mark read %d: %w", conversationID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) checkMember(ctx context.Context, conversationID, userID int64) error {
	var ok bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations
		 WHERE id = $1 AND $2 IN (user_low, user_high))`, conversationID, userID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("message: check member %d: %w", conversationID, err)
	}
	if !ok {
		return fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
	}
	return nil
}

// checkAllowed enforces the recipient's allow_messages_from setting.
func checkAllowed(ctx context.Context, q database.Querier, senderID, recipientID int64) error {
	var allow string
	err := q.QueryRow(ctx,
		`SELECT allow_messages_from FROM users
		 WHERE id = $1 AND status NOT IN ('banned', 'deleted')`, recipientID).Scan(&allow)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: user %d", ErrNotFound, recipientID)
	}
	if err != nil {
		return fmt.Errorf("message: lookup recipient %d: %w", recipientID, err)
	}

	switch allow {
	case "none":
		return ErrNotAllowed
	case "followers":
		ok, err := follow.IsFollowing(ctx, q, senderID, recipientID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAllowed
		}
	}
	return nil
}

func pair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// selectConversations lists conversations of the member $1.
const selectConversations = `SELECT cv.id, u.id, u.username, u.display_name, COALESCE(u.avatar_key, ''),
	(SELECT count(*) FROM messages m
	 WHERE m.conversation_id = cv.id AND m.sender_id <> $1 AND m.read_at IS NULL),
	cv.last_message_at, cv.created_at
	FROM conversations cv
	JOIN users u ON u.id = CASE WHEN cv.user_low = $1 THEN cv.user_high ELSE cv.user_low END
	WHERE $1 IN (cv.user_low, cv.user_high)`

func collectConversations(rows pgx.Rows) ([]Conversation, error) {
	defer rows.Close()
	convs := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Other.ID, &c.Other.Username, &c.Other.DisplayName, &c.Other.AvatarKey,
			&c.UnreadCount, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
