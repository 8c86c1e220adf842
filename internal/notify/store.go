// Package notify persists notifications and pushes them, along with
// direct messages, to users' live WebSocket connections.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/database"
)

// ErrNotFound is returned when a notification does not exist or belongs
// to another user.
var ErrNotFound = errors.New("notify: not found")

// Notification types.
const (
	TypeVibe           = "vibe"
	TypeComment        = "comment"
	TypeFollow         = "follow"
	TypeFollowRequest  = "follow_request"
	TypeFollowAccepted = "follow_accepted"
	TypeMessage        = "message"
	TypeModeration     = "moderation"
)

// Sender is the public summary of the user who caused a notification.
type Sender struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarKey   string `json:"avatarKey,omitempty"`
}

// Notification is one row of a user's notification inbox.
type Notification struct {
	ID          int64      `json:"id"`
	RecipientID int64      `json:"recipientId"`
	Sender      *Sender    `json:"sender,omitempty"`
	Type        string     `json:"type"`
	EntityType  string     `json:"entityType,omitempty"`
	EntityID    int64      `json:"entityId,omitempty"`
	Body        string     `json:"body"`
	ReadAt      *time.Time `json:"readAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Store persists notifications in PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a notification Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Insert stores n and fills in its ID and CreatedAt.
func (s *Store) Insert(ctx context.Context, n *Notification) error {
	var senderID *int64
	if n.Sender != nil {
		senderID = &n.Sender.ID
	}
	err := s.db.Pool.QueryRow(ctx,
		`INSERT INTO notifications (recipient_id, sender_id, type, entity_type, entity_id, body)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		n.RecipientID, senderID, n.Type, n.EntityType, n.EntityID, n.Body,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}

// List returns a user's notifications, newest first.
func (s *Store) List(ctx context.Context, recipientID int64, unreadOnly bool, page database.Page) ([]Notification, error) {
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		`SELECT n.id, n.recipient_id, n.type, n.entity_type, n.entity_id, n.body, n.read_at, n.created_at,
		        u.id, u.username, u.display_name, u.avatar_key
		 FROM notifications n LEFT JOIN users u ON u.id = n.sender_id
		 WHERE n.recipient_id = $1 AND n.id < $2 AND (NOT $3 OR n.read_at IS NULL)
		 ORDER BY n.id DESC LIMIT $4`,
		recipientID, page.BeforeOrMax(), unreadOnly, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	list := []Notification{}
	for rows.Next() {
		var n Notification
		var senderID *int64
		var username, displayName, avatarKey *string
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.EntityType, &n.EntityID, &n.Body,
			&n.ReadAt, &n.CreatedAt, &senderID, &username, &displayName, &avatarKey); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		if senderID != nil {
			n.Sender = &Sender{ID: *senderID, Username: deref(username), DisplayName: deref(displayName), AvatarKey: deref(avatarKey)}
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	var n int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE recipient_id = $1 AND read_at IS NULL`,
		recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("notify: unread count: %w", err)
	}
	return n, nil
}

// MarkRead marks one of the recipient's notifications as read. Marking
// an already-read notification is not an error.
func (s *Store) MarkRead(ctx context.Context, recipientID, id int64) error {
	var ok bool
	err := s.db.Pool.QueryRow(ctx,
		`WITH upd AS (
		     UPDATE notifications SET read_at = COALESCE(read_at, NOW())
		     WHERE id = $1 AND recipient_id = $2 RETURNING 1)
		 SELECT EXISTS (SELECT 1 FROM upd)`, id, recipientID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("notify: mark read %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// MarkAllRead marks every unread notification as read and returns how
// many changed.
func (s *Store) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE notifications SET read_at = NOW() WHERE recipient_id = $1 AND read_at IS NULL`,
		recipientID)
	if err != nil {
		return 0, fmt.Errorf("notify: mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// lookupSender fetches the public summary of a user.
func (s *Store) lookupSender(ctx context.Context, id int64) (*Sender, error) {
	var snd Sender
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, username, display_name, COALESCE(avatar_key, '') FROM users WHERE id = $1`, id,
	).Scan(&snd.ID, &snd.Username, &snd.DisplayName, &snd.AvatarKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("notify: lookup sender %d: %w", id, err)
	}
	return &snd, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
