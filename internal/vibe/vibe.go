// Package vibe implements typed reactions. A user attaches at most one
// vibe to any post, comment or message; vibing again changes the type.
// Vibe types double as the names of the vibe channels posts can be
// tagged with.
package vibe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
)

// Sentinel errors for vibe operations.
var (
	ErrNotFound    = errors.New("vibe: not found")
	ErrInvalidType = errors.New("vibe: invalid vibe type")
	ErrInvalidKind = errors.New("vibe: invalid target kind")
)

// Vibe types.
const (
	Energy = "energy"
	Flow   = "flow"
	Fire   = "fire"
	Chill  = "chill"
	Glow   = "glow"
)

// Types lists every vibe type in display order.
var Types = []string{Energy, Flow, Fire, Chill, Glow}

// IsType reports whether t is a known vibe type.
func IsType(t string) bool {
	for _, vt := range Types {
		if vt == t {
			return true
		}
	}
	return false
}

// Target kinds.
const (
	KindPost    = "post"
	KindComment = "comment"
	KindMessage = "message"
)

// Target identifies the post, comment or message a vibe is attached to.
type Target struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// column maps a target kind to its vibes column.
func (t Target) column() (string, error) {
	switch t.Kind {
	case KindPost:
		return "post_id", nil
	case KindComment:
		return "comment_id", nil
	case KindMessage:
		return "message_id", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
}

// Vibe is one user's reaction on a target.
type Vibe struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Target    Target    `json:"target"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetResult describes the outcome of Set.
type SetResult struct {
	Vibe    Vibe
	Created bool  // false when an existing vibe changed type
	OwnerID int64 // author of the target, for notifications
}

// Summary aggregates the vibes on one target.
type Summary struct {
	Target Target         `json:"target"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
	Mine   string         `json:"mine,omitempty"`
}

// Store provides vibe operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a vibe Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Set attaches or replaces userID's vibe on target. The target must be
// visible to the user; otherwise ErrNotFound is returned.
func (s *Store) Set(ctx context.Context, userID int64, target Target, vibeType string) (*SetResult, error) {
	if !IsType(vibeType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, vibeType)
	}
	col, err := target.column()
	if err != nil {
		return nil, err
	}

	ownerID, err := s.targetOwner(ctx, userID, target)
	if err != nil {
		return nil, err
	}

	res := SetResult{OwnerID: ownerID}
	res.Vibe.UserID = userID
	res.Vibe.Target = target
	err = s.db.Pool.QueryRow(ctx,
		`INSERT INTO vibes (user_id, `+col+`, vibe_type) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, `+col+`) WHERE `+col+` IS NOT NULL
		 DO UPDATE SET vibe_type = EXCLUDED.vibe_type, updated_at = NOW()
		 RETURNING id, vibe_type, created_at, updated_at, (xmax = 0)`,
		userID, target.ID, vibeType,
	).Scan(&res.Vibe.ID, &res.Vibe.Type, &res.Vibe.CreatedAt, &res.Vibe.UpdatedAt, &res.Created)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			// Target deleted between the visibility check and the insert.
			return nil, fmt.Errorf("%w: %s %d", ErrNotFound, target.Kind, target.ID)
		}
		return nil, fmt.Errorf("vibe: set %s %d: %w", target.Kind, target.ID, err)
	}
	return &res, nil
}

// Remove deletes userID's vibe on target. Returns ErrNotFound if the
// user had no vibe there.
func (s *Store) Remove(ctx context.Context, userID int64, target Target) error {
	col, err := target.column()
	if err != nil {
		return err
	}
	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM vibes WHERE user_id = $1 AND `+col+` = $2`, userID, target.ID)
	if err != nil {
		return fmt.Errorf("vibe: remove %s %d: %w", target.Kind, target.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, target.Kind, target.ID)
	}
	return nil
}

// Summary counts the vibes on target per type and reports the viewer's
// own vibe. The target must be visible to the viewer.
func (s *Store) Summary(ctx context.Context, viewerID int64, target Target) (*Summary, error) {
	col, err := target.column()
	if err != nil {
		return nil, err
	}
	if _, err := s.targetOwner(ctx, viewerID, target); err != nil {
		return nil, err
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT vibe_type, count(*), bool_or(user_id = $2)
		 FROM vibes WHERE `+col+` = $1 GROUP BY vibe_type`,
		target.ID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("vibe: summary %s %d: %w", target.Kind, target.ID, err)
	}
	defer rows.Close()

	sum := &Summary{Target: target, Counts: make(map[string]int, len(Types))}
	for _, t := range Types {
		sum.Counts[t] = 0
	}
	for rows.Next() {
		var vt string
		var n int
		var mine bool
		if err := rows.Scan(&vt, &n, &mine); err != nil {
			return nil, fmt.Errorf("vibe: summary scan: %w", err)
		}
		sum.Counts[vt] = n
		sum.Total += n
		if mine {
			sum.Mine = vt
		}
	}
	return sum, rows.Err()
}

// ListByUser returns every vibe a user has given, newest first.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]Vibe, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, post_id, comment_id, message_id, vibe_type, created_at, updated_at
		 FROM vibes WHERE user_id = $1 ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("vibe: list by user %d: %w", userID, err)
	}
	defer rows.Close()

	vibes := []Vibe{}
	for rows.Next() {
		v := Vibe{UserID: userID}
		var postID, commentID, messageID *int64
		if err := rows.Scan(&v.ID, &postID, &commentID, &messageID, &v.Type, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("vibe: list by user scan: %w", err)
		}
		switch {
		case postID != nil:
			v.Target = Target{Kind: KindPost, ID: *postID}
		case commentID != nil:
			v.Target = Target{Kind: KindComment, ID: *commentID}
		case messageID != nil:
			v.Target = Target{Kind: KindMessage, ID: *messageID}
		}
		vibes = append(vibes, v)
	}
	return vibes, rows.Err()
}

// postVisible is true when the viewer ($2) may see the post aliased "p".
var postVisible = follow.AuthorVisibleSQL("$2", "au")

// targetOwner returns the author of target if viewerID may see it.
// Posts and comments follow the post author's privacy; messages are
// visible only to the two conversation members.
func (s *Store) targetOwner(ctx context.Context, viewerID int64, target Target) (int64, error) {
	var query string
	switch target.Kind {
	case KindPost:
		query = `SELECT p.user_id FROM posts p JOIN users au ON au.id = p.user_id
		         WHERE p.id = $1 AND ` + postVisible
	case KindComment:
		query = `SELECT c.user_id FROM comments c
		         JOIN posts p ON p.id = c.post_id
		         JOIN users au ON au.id = p.user_id
		         WHERE c.id = $1 AND ` + postVisible
	case KindMessage:
		query = `SELECT m.sender_id FROM messages m
		         JOIN conversations cv ON cv.id = m.conversation_id
		         WHERE m.id = $1 AND $2 IN (cv.user_low, cv.user_high)`
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, target.Kind)
	}

	var ownerID int64
	err := s.db.Pool.QueryRow(ctx, query, target.ID, viewerID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %d", ErrNotFound, target.Kind, target.ID)
	}
	if err != nil {
		return 0, fmt.Errorf("vibe: lookup %s %d: %w", target.Kind, target.ID, err)
	}
	return ownerID, nil
}
