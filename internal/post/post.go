// Package post provides posts, the home feed, and vibe channels.
//
// A post is visible to a viewer when its author is the viewer, the
// author's account is public, or the viewer is an accepted follower.
// Posts by banned authors are hidden from everyone but the author.
package post

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
	"github.com/primal-host/vibespace/internal/media"
	"github.com/primal-host/vibespace/internal/vibe"
)

// MaxBodyLen is the longest post body in characters.
const MaxBodyLen = 2000

// Sentinel errors for post operations.
var (
	ErrNotFound  = errors.New("post: not found")
	ErrForbidden = errors.New("post: not the author")
	ErrInvalid   = errors.New("post: invalid input")
)

// Author is the public summary of a post's author.
type Author struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarKey   string `json:"avatarKey,omitempty"`
}

// Post is a post as seen by a particular viewer.
type Post struct {
	ID           int64     `json:"id"`
	Author       Author    `json:"author"`
	Body         string    `json:"body"`
	MediaKey     string    `json:"mediaKey,omitempty"`
	VibeChannel  string    `json:"vibeChannel,omitempty"`
	VibeCount    int       `json:"vibeCount"`
	CommentCount int       `json:"commentCount"`
	MyVibe       string    `json:"myVibe,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateParams holds the fields of a new post.
type CreateParams struct {
	Body        string `json:"body"`
	MediaKey    string `json:"mediaKey"`
	VibeChannel string `json:"vibeChannel"`
}

// UpdateParams is a partial update; nil fields are unchanged. An empty
// VibeChannel clears the channel.
type UpdateParams struct {
	Body        *string `json:"body"`
	VibeChannel *string `json:"vibeChannel"`
}

// ChannelCount is a vibe channel with its number of posts.
type ChannelCount struct {
	Channel   string `json:"channel"`
	PostCount int    `json:"postCount"`
}

// selectPost reads posts "p" joined with authors "au"; $1 is the viewer.
const selectPost = `SELECT p.id, au.id, au.username, au.display_name, COALESCE(au.avatar_key, ''),
	p.body, COALESCE(p.media_key, ''), COALESCE(p.vibe_channel, ''),
	(SELECT count(*) FROM vibes v WHERE v.post_id = p.id),
	(SELECT count(*) FROM comments c WHERE c.post_id = p.id),
	COALESCE((SELECT v.vibe_type FROM vibes v WHERE v.post_id = p.id AND v.user_id = $1), ''),
	p.created_at, p.updated_at
	FROM posts p JOIN users au ON au.id = p.user_id`

// visibleTo restricts "p"/"au" to posts the viewer ($1) may see.
var visibleTo = follow.AuthorVisibleSQL("$1", "au")

func scanPost(row pgx.Row) (*Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.Author.ID, &p.Author.Username, &p.Author.DisplayName, &p.Author.AvatarKey,
		&p.Body, &p.MediaKey, &p.VibeChannel, &p.VibeCount, &p.CommentCount, &p.MyVibe,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPosts(rows pgx.Rows) ([]Post, error) {
	defer rows.Close()
	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// Store provides post operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a post Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create validates and inserts a new post.
func (s *Store) Create(ctx context.Context, userID int64, p CreateParams) (*Post, error) {
	p.Body = strings.TrimSpace(p.Body)
	if err := validateBody(p.Body, p.MediaKey != ""); err != nil {
		return nil, err
	}
	if p.MediaKey != "" && !media.OwnedBy(p.MediaKey, userID) {
		return nil, fmt.Errorf("%w: media key does not belong to the author", ErrInvalid)
	}
	if err := validateChannel(p.VibeChannel); err != nil {
		return nil, err
	}

	var id int64
	err := s.db.Pool.QueryRow(ctx,
		`INSERT INTO posts (user_id, body, media_key, vibe_channel)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		 RETURNING id`,
		userID, p.Body, p.MediaKey, p.VibeChannel,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("post: create: %w", err)
	}
	return s.Get(ctx, userID, id)
}

// Get returns a post if it is visible to the viewer.
func (s *Store) Get(ctx context.Context, viewerID, id int64) (*Post, error) {
	p, err := scanPost(s.db.Pool.QueryRow(ctx,
		selectPost+` WHERE p.id = $2 AND `+visibleTo, viewerID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("post: get %d: %w", id, err)
	}
	return p, nil
}

// Update edits a post. Only the author may edit.
func (s *Store) Update(ctx context.Context, userID, id int64, u UpdateParams) (*Post, error) {
	existing, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing.Author.ID != userID {
		return nil, ErrForbidden
	}

	if u.Body != nil {
		body := strings.TrimSpace(*u.Body)
		if err := validateBody(body, existing.MediaKey != ""); err != nil {
			return nil, err
		}
		u.Body = &body
	}
	if u.VibeChannel != nil {
		if err := validateChannel(*u.VibeChannel); err != nil {
			return nil, err
		}
	}

	_, err = s.db.Pool.Exec(ctx,
		`UPDATE posts SET
		     body         = COALESCE($3, body),
		     vibe_channel = CASE WHEN $4::text IS NULL THEN vibe_channel ELSE NULLIF($4, '') END,
		     updated_at   = NOW()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, u.Body, u.VibeChannel)
	if err != nil {
		return nil, fmt.Errorf("post: update %d: %w", id, err)
	}
	return s.Get(ctx, userID, id)
}

// Delete removes a post. Only the author may delete; comments and vibes
// cascade.
func (s *Store) Delete(ctx context.Context, userID, id int64) error {
	var authorID int64
	err := s.db.Pool.QueryRow(ctx, `SELECT user_id FROM posts WHERE id = $1`, id).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("post: delete %d: %w", id, err)
	}
	if authorID != userID {
		return ErrForbidden
	}
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("post: delete %d: %w", id, err)
	}
	return nil
}

// ForceDelete removes a post regardless of author, for moderation, and
// returns the author's ID.
func ForceDelete(ctx context.Context, q database.Querier, id int64) (int64, error) {
	var authorID int64
	err := q.QueryRow(ctx, `DELETE FROM posts WHERE id = $1 RETURNING user_id`, id).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("post: force delete %d: %w", id, err)
	}
	return authorID, nil
}

// ListByUser returns an author's posts visible to the viewer, newest first.
func (s *Store) ListByUser(ctx context.Context, viewerID, authorID int64, page database.Page) ([]Post, error) {
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		selectPost+` WHERE p.user_id = $2 AND p.id < $3 AND `+visibleTo+`
		ORDER BY p.id DESC LIMIT $4`,
		viewerID, authorID, page.BeforeOrMax(), page.Limit)
	if err != nil {
		return nil, fmt.Errorf("post: list by user %d: %w", authorID, err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("post: list by user %d: %w", authorID, err)
	}
	return posts, nil
}

// Feed returns the viewer's own posts and those of accounts they follow
// (accepted follows only), newest first.
func (s *Store) Feed(ctx context.Context, viewerID int64, page database.Page) ([]Post, error) {
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		selectPost+` WHERE p.id < $2 AND au.status <> 'banned' AND (p.user_id = $1 OR p.user_id IN (
			SELECT followee_id FROM follows WHERE follower_id = $1 AND status = 'accepted'))
		ORDER BY p.id DESC LIMIT $3`,
		viewerID, page.BeforeOrMax(), page.Limit)
	if err != nil {
		return nil, fmt.Errorf("post: feed %d: %w", viewerID, err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("post: feed %d: %w", viewerID, err)
	}
	return posts, nil
}

// ListByChannel returns visible posts tagged with a vibe channel.
func (s *Store) ListByChannel(ctx context.Context, viewerID int64, channel string, page database.Page) ([]Post, error) {
	if !vibe.IsType(channel) {
		return nil, fmt.Errorf("%w: unknown vibe channel %q", ErrInvalid, channel)
	}
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		selectPost+` WHERE p.vibe_channel = $2 AND p.id < $3 AND `+visibleTo+`
		ORDER BY p.id DESC LIMIT $4`,
		viewerID, channel, page.BeforeOrMax(), page.Limit)
	if err != nil {
		return nil, fmt.Errorf("post: list channel %s: %w", channel, err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("post: list channel %s: %w", channel, err)
	}
	return posts, nil
}

// Channels returns every vibe channel with its post count, in the
// display order of vibe.Types.
func (s *Store) Channels(ctx context.Context) ([]ChannelCount, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT vibe_channel, count(*) FROM posts
		 WHERE vibe_channel IS NOT NULL GROUP BY vibe_channel`)
	if err != nil {
		return nil, fmt.Errorf("post: channels: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var ch string
		var n int
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, fmt.Errorf("post: channels scan: %w", err)
		}
		counts[ch] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("post: channels: %w", err)
	}

	channels := make([]ChannelCount, 0, len(vibe.Types))
	for _, t := range vibe.Types {
		channels = append(channels, ChannelCount{Channel: t, PostCount: counts[t]})
	}
	return channels, nil
}

// AllByUser returns every post written by a user, newest first, for
// data export.
func (s *Store) AllByUser(ctx context.Context, userID int64) ([]Post, error) {
	rows, err := s.db.Pool.Query(ctx,
		selectPost+` WHERE p.user_id = $1 ORDER BY p.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("post: all by user %d: %w", userID, err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("post: all by user %d: %w", userID, err)
	}
	return posts, nil
}

func validateBody(body string, hasMedia bool) error {
	n := len([]rune(body))
	if n == 0 && !hasMedia {
		return fmt.Errorf("%w: body is required", ErrInvalid)
	}
	if n > MaxBodyLen {
		return fmt.Errorf("%w: body longer than %d characters", ErrInvalid, MaxBodyLen)
	}
	return nil
}

func validateChannel(ch string) error {
	if ch != "" && !vibe.IsType(ch) {
		return fmt.Errorf("%w: unknown vibe channel %q", ErrInvalid, ch)
	}
	return nil
}
