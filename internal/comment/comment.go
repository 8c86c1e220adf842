// Package comment provides comments on posts. A comment is visible to
// exactly the viewers who can see its parent post.
package comment

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

// MaxBodyLen is the longest comment body in characters.
const MaxBodyLen = 1000

// Sentinel errors for comment operations.
var (
	ErrNotFound  = errors.New("comment: not found")
	ErrForbidden = errors.New("comment: not the author")
	ErrInvalid   = errors.New("comment: invalid input")
)

// Comment is a comment on a post.
type Comment struct {
	ID          int64     `json:"id"`
	PostID      int64     `json:"postId"`
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Body        string    `json:"body"`
	VibeCount   int       `json:"vibeCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Created is returned by Create: the new comment plus the author of the
// parent post, who gets notified.
type Created struct {
	Comment     *Comment
	PostOwnerID int64
}

const selectComment = `SELECT c.id, c.post_id, c.user_id, cu.username, cu.display_name, c.body,
	(SELECT count(*) FROM vibes v WHERE v.comment_id = c.id),
	c.created_at, c.updated_at
	FROM comments c JOIN users cu ON cu.id = c.user_id`

// postVisible is true when the viewer ($1) may see post "p" by "au".
var postVisible = follow.AuthorVisibleSQL("$1", "au")

func scanComment(row pgx.Row) (*Comment, error) {
	var c Comment
	if err := row.Scan(&c.ID, &c.PostID, &c.UserID, &c.Username, &c.DisplayName, &c.Body,
		&c.VibeCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Store provides comment operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a comment Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create adds a comment to a post visible to the author.
func (s *Store) Create(ctx context.Context, userID, postID int64, body string) (*Created, error) {
	body, err := normalizeBody(body)
	if err != nil {
		return nil, err
	}

	var ownerID int64
	err = s.db.Pool.QueryRow(ctx,
		`SELECT p.user_id FROM posts p JOIN users au ON au.id = p.user_id
		 WHERE p.id = $2 AND `+postVisible, userID, postID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: post %d", ErrNotFound, postID)
	}
	if err != nil {
		return nil, fmt.Errorf("comment: lookup post %d: %w", postID, err)
	}

	var id int64
	err = s.db.Pool.QueryRow(ctx,
		`INSERT INTO comments (post_id, user_id, body) VALUES ($1, $2, $3) RETURNING id`,
		postID, userID, body).Scan(&id)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: post %d", ErrNotFound, postID)
		}
		return nil, fmt.Errorf("comment: create: %w", err)
	}

	c, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Created{Comment: c, PostOwnerID: ownerID}, nil
}

// ListByPost returns the comments on a post, oldest first. Page.Before
// is treated as an "after" cursor since comments read top to bottom.
func (s *Store) ListByPost(ctx context.Context, viewerID, postID int64, page database.Page) ([]Comment, error) {
	page = page.Normalize()

	var visible bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts p JOIN users au ON au.id = p.user_id
		 WHERE p.id = $2 AND `+postVisible+`)`, viewerID, postID).Scan(&visible)
	if err != nil {
		return nil, fmt.Errorf("comment: lookup post %d: %w", postID, err)
	}
	if !visible {
		return nil, fmt.Errorf("%w: post %d", ErrNotFound, postID)
	}

	rows, err := s.db.Pool.Query(ctx,
		selectComment+` WHERE c.post_id = $1 AND c.id > $2 ORDER BY c.id LIMIT $3`,
		postID, page.Before, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("comment: list post %d: %w", postID, err)
	}
	return collect(rows)
}

// AllByUser returns every comment a user wrote, for data export.
func (s *Store) AllByUser(ctx context.Context, userID int64) ([]Comment, error) {
	rows, err := s.db.Pool.Query(ctx,
		selectComment+` WHERE c.user_id = $1 ORDER BY c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("comment: all by user %d: %w", userID, err)
	}
	return collect(rows)
}

// Update edits a comment. Only its author may edit.
func (s *Store) Update(ctx context.Context, userID, id int64, body string) (*Comment, error) {
	body, err := normalizeBody(body)
	if err != nil {
		return nil, err
	}
	if err := s.checkAuthor(ctx, userID, id); err != nil {
		return nil, err
	}
	if _, err := s.db.Pool.Exec(ctx,
		`UPDATE comments SET body = $2, updated_at = NOW() WHERE id = $1`, id, body); err != nil {
		return nil, fmt.Errorf("comment: update %d: %w", id, err)
	}
	return s.get(ctx, id)
}

// Delete removes a comment. The comment's author or the author of the
// parent post may delete it.
func (s *Store) Delete(ctx context.Context, userID, id int64) error {
	var authorID, postOwnerID int64
	err := s.db.Pool.QueryRow(ctx,
		`SELECT c.user_id, p.user_id FROM comments c JOIN posts p ON p.id = c.post_id
		 WHERE c.id = $1`, id).Scan(&authorID, &postOwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("comment: delete %d: %w", id, err)
	}
	if userID != authorID && userID != postOwnerID {
		return ErrForbidden
	}
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("comment: delete %d: %w", id, err)
	}
	return nil
}

// ForceDelete removes a comment for moderation and returns its author.
func ForceDelete(ctx context.Context, q database.Querier, id int64) (int64, error) {
	var authorID int64
	err := q.QueryRow(ctx, `DELETE FROM comments WHERE id = $1 RETURNING user_id`, id).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("comment: force delete %d: %w", id, err)
	}
	return authorID, nil
}

func (s *Store) get(ctx context.Context, id int64) (*Comment, error) {
	c, err := scanComment(s.db.Pool.QueryRow(ctx, selectComment+` WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("comment: get %d: %w", id, err)
	}
	return c, nil
}

func (s *Store) checkAuthor(ctx context.Context, userID, id int64) error {
	var authorID int64
	err := s.db.Pool.QueryRow(ctx, `SELECT user_id FROM comments WHERE id = $1`, id).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("comment: lookup %d: %w", id, err)
	}
	if authorID != userID {
		return ErrForbidden
	}
	return nil
}

func collect(rows pgx.Rows) ([]Comment, error) {
	defer rows.Close()
	comments := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("comment: scan: %w", err)
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

func normalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	n := len([]rune(body))
	if n == 0 {
		return "", fmt.Errorf("%w: body is required", ErrInvalid)
	}
	if n > MaxBodyLen {
		return "", fmt.Errorf("%w: body longer than %d characters", ErrInvalid, MaxBodyLen)
	}
	return body, nil
}
