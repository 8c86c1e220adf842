// Package follow manages follow edges between users. Following a
// private account creates a pending request the followee must accept.
package follow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/database"
)

// Sentinel errors for follow operations.
var (
	ErrNotFound         = errors.New("follow: not found")
	ErrSelfFollow       = errors.New("follow: cannot follow yourself")
	ErrAlreadyFollowing = errors.New("follow: already following")
)

// Edge statuses.
const (
	StatusAccepted = "accepted"
	StatusPending  = "pending"
)

// Edge is one follow relationship as seen from the listing user's side.
// User describes the other party.
type Edge struct {
	User      User      `json:"user"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is the public summary of a follower or followee.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarKey   string `json:"avatarKey,omitempty"`
}

// Result is returned by Follow.
type Result struct {
	Status string `json:"status"`
}

// AuthorVisibleSQL returns a SQL predicate that is true when the viewer
// may see content by the account aliased author: the viewer wrote it,
// or the author is not banned and is public or followed (accepted) by
// the viewer. viewer is the placeholder holding the viewer's ID.
func AuthorVisibleSQL(viewer, author string) string {
	return `(` + author + `.id = ` + viewer + ` OR (` + author + `.status <> 'banned' AND (NOT ` + author + `.is_private OR EXISTS (
	SELECT 1 FROM follows f
	WHERE f.follower_id = ` + viewer + ` AND f.followee_id = ` + author + `.id AND f.status = 'accepted'))))`
}

// Store provides follow operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a follow Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Follow creates an edge from follower to followee. The edge is pending
// when the followee's account is private.
func (s *Store) Follow(ctx context.Context, followerID, followeeID int64) (*Result, error) {
	if followerID == followeeID {
		return nil, ErrSelfFollow
	}

	var private bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT is_private FROM users WHERE id = $1 AND status NOT IN ('banned', 'deleted')`,
		followeeID).Scan(&private)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, followeeID)
	}
	if err != nil {
		return nil, fmt.Errorf("follow: lookup user %d: %w", followeeID, err)
	}

	status := StatusAccepted
	if private {
		status = StatusPending
	}
	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO follows (follower_id, followee_id, status) VALUES ($1, $2, $3)`,
		followerID, followeeID, status)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrAlreadyFollowing
		}
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, followeeID)
		}
		return nil, fmt.Errorf("follow: insert: %w", err)
	}
	return &Result{Status: status}, nil
}

// Unfollow removes an edge, accepted or pending.
func (s *Store) Unfollow(ctx context.Context, followerID, followeeID int64) error {
	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	if err != nil {
		return fmt.Errorf("follow: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Followers lists accepted followers of a user.
func (s *Store) Followers(ctx context.Context, userID int64, page database.Page) ([]Edge, error) {
	return s.list(ctx, "f.followee_id", "f.follower_id", StatusAccepted, userID, page)
}

// Following lists accounts a user follows with an accepted edge.
func (s *Store) Following(ctx context.Context, userID int64, page database.Page) ([]Edge, error) {
	return s.list(ctx, "f.follower_id", "f.followee_id", StatusAccepted, userID, page)
}

// PendingRequests lists follow requests awaiting the user's decision.
func (s *Store) PendingRequests(ctx context.Context, userID int64, page database.Page) ([]Edge, error) {
	return s.list(ctx, "f.followee_id", "f.follower_id", StatusPending, userID, page)
}

// AllByUser returns every edge touching a user in either direction, for
// data export. Each edge's User is the other party.
func (s *Store) AllByUser(ctx context.Context, userID int64) (following, followers []Edge, err error) {
	following, err = s.all(ctx, "f.follower_id", "f.followee_id", userID)
	if err != nil {
		return nil, nil, err
	}
	followers, err = s.all(ctx, "f.followee_id", "f.follower_id", userID)
	if err != nil {
		return nil, nil, err
	}
	return following, followers, nil
}

// Accept turns a pending request from follower into an accepted edge.
func (s *Store) Accept(ctx context.Context, followeeID, followerID int64) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE follows SET status = 'accepted'
		 WHERE follower_id = $1 AND followee_id = $2 AND status = 'pending'`,
		followerID, followeeID)
	if err != nil {
		return fmt.Errorf("follow: accept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reject deletes a pending request from follower.
func (s *Store) Reject(ctx context.Context, followeeID, followerID int64) error {
	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2 AND status = 'pending'`,
		followerID, followeeID)
	if err != nil {
		return fmt.Errorf("follow: reject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsFollowing reports whether a follows b with an accepted edge.
func (s *Store) IsFollowing(ctx context.Context, a, b int64) (bool, error) {
	return IsFollowing(ctx, s.db.Pool, a, b)
}

// IsFollowing reports whether a follows b with an accepted edge, using q.
func IsFollowing(ctx context.Context, q database.Querier, a, b int64) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows
		 WHERE follower_id = $1 AND followee_id = $2 AND status = 'accepted')`, a, b).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("follow: is following: %w", err)
	}
	return ok, nil
}

// Counts holds a user's accepted follower and following totals.
type Counts struct {
	Followers int `json:"followers"`
	Following int `json:"following"`
}

// Counts returns the accepted follower and following totals of a user.
func (s *Store) Counts(ctx context.Context, userID int64) (*Counts, error) {
	var c Counts
	err := s.db.Pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM follows WHERE followee_id = $1 AND status = 'accepted'),
			(SELECT count(*) FROM follows WHERE follower_id = $1 AND status = 'accepted')`,
		userID).Scan(&c.Followers, &c.Following)
	if err != nil {
		return nil, fmt.Errorf("follow: counts: %w", err)
	}
	return &c, nil
}

// Status returns the status of the edge from a to b, or "" when a does
// not follow b.
func (s *Store) Status(ctx context.Context, a, b int64) (string, error) {
	var status string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT status FROM follows WHERE follower_id = $1 AND followee_id = $2`, a, b).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("follow: status: %w", err)
	}
	return status, nil
}

// list pages edges by the other party's user ID, descending. The
// keyset is the other party's ID because follows has no surrogate key.
func (s *Store) list(ctx context.Context, selfCol, otherCol, status string, userID int64, page database.Page) ([]Edge, error) {
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		`SELECT u.id, u.username, u.display_name, COALESCE(u.avatar_key, ''), f.status, f.created_at
		 FROM follows f JOIN users u ON u.id = `+otherCol+`
		 WHERE `+selfCol+` = $1 AND f.status = $2 AND u.id < $3
		 ORDER BY u.id DESC LIMIT $4`,
		userID, status, page.BeforeOrMax(), page.Limit)
	if err != nil {
		return nil, fmt.Errorf("follow: list: %w", err)
	}
	return collect(rows)
}

func (s *Store) all(ctx context.Context, selfCol, otherCol string, userID int64) ([]Edge, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT u.id, u.username, u.display_name, COALESCE(u.avatar_key, ''), f.status, f.created_at
		 FROM follows f JOIN users u ON u.id = `+otherCol+`
		 WHERE `+selfCol+` = $1 ORDER BY f.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("follow: list all: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Edge, error) {
	defer rows.Close()
	edges := []Edge{}
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.User.ID, &e.User.Username, &e.User.DisplayName, &e.User.AvatarKey,
			&e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("follow: scan: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
