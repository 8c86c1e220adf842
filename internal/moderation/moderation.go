// Package moderation handles user reports, their resolution by
// moderators, and the audit log of every moderator and admin action.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/comment"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
	"github.com/primal-host/vibespace/internal/post"
)

// Sentinel errors for moderation operations.
var (
	ErrNotFound        = errors.New("moderation: not found")
	ErrInvalid         = errors.New("moderation: invalid input")
	ErrSelfReport      = errors.New("moderation: cannot report yourself")
	ErrDuplicateReport = errors.New("moderation: report already open")
	ErrAlreadyResolved = errors.New("moderation: report already resolved")
	ErrForbidden       = errors.New("moderation: only admins can act on staff accounts")
)

// Report target types.
const (
	TargetPost    = "post"
	TargetComment = "comment"
	TargetUser    = "user"
	TargetMessage = "message"
)

// Report statuses.
const (
	StatusOpen      = "open"
	StatusDismissed = "dismissed"
	StatusActioned  = "actioned"
)

// Resolutions a moderator can choose.
const (
	ResolveDismiss       = "dismiss"
	ResolveRemoveContent = "remove_content"
	ResolveSuspendUser   = "suspend_user"
)

// Audit log action names.
const (
	ActionDismissReport = "dismiss_report"
	ActionRemovePost    = "remove_post"
	ActionRemoveComment = "remove_comment"
	ActionRemoveMessage = "remove_message"
	ActionSuspendUser   = "suspend_user"
	ActionSetStatus     = "set_status"
	ActionSetRole       = "set_role"
)

// Reasons lists the accepted report reasons.
var Reasons = []string{"spam", "harassment", "hate", "violence", "nudity", "other"}

// MaxDetailsLen bounds report details and moderator notes.
const MaxDetailsLen = 1000

// Report is a user's complaint about a piece of content or an account.
type Report struct {
	ID             int64      `json:"id"`
	ReporterID     *int64     `json:"reporterId"`
	TargetType     string     `json:"targetType"`
	TargetID       int64      `json:"targetId"`
	Reason         string     `json:"reason"`
	Details        string     `json:"details"`
	Status         string     `json:"status"`
	ResolvedBy     *int64     `json:"resolvedBy"`
	ResolutionNote string     `json:"resolutionNote"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt"`
}

// ReportParams holds the fields of a new report.
type ReportParams struct {
	TargetType string `json:"targetType"`
	TargetID   int64  `json:"targetId"`
	Reason     string `json:"reason"`
	Details    string `json:"details"`
}

// Action is one audit log entry. ActorID is nil when the operator admin
// key was used.
type Action struct {
	ID         int64     `json:"id"`
	ActorID    *int64    `json:"actorId"`
	Action     string    `json:"action"`
	TargetType string    `json:"targetType"`
	TargetID   int64     `json:"targetId"`
	ReportID   *int64    `json:"reportId"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Actor is whoever performs a moderation action. ID is nil for the
// operator admin key, which always acts as an admin.
type Actor struct {
	ID    *int64
	Admin bool
}

// Resolution describes what Resolve did.
type Resolution struct {
	Report *Report `json:"report"`
	// AffectedUserID is the author or account acted on; zero when the
	// report was dismissed or the content was already gone.
	AffectedUserID int64 `json:"affectedUserId,omitempty"`
}

const reportColumns = `id, reporter_id, target_type, target_id, reason, details, status,
	resolved_by, resolution_note, created_at, resolved_at`

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	if err := row.Scan(&r.ID, &r.ReporterID, &r.TargetType, &r.TargetID, &r.Reason, &r.Details,
		&r.Status, &r.ResolvedBy, &r.ResolutionNote, &r.CreatedAt, &r.ResolvedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Store provides moderation operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a moderation Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Report files a report. A reporter may hold only one open report per
// target and cannot report themselves or their own content.
func (s *Store) Report(ctx context.Context, reporterID int64, p ReportParams) (*Report, error) {
	if !isTargetType(p.TargetType) {
		return nil, fmt.Errorf("%w: unknown target type %q", ErrInvalid, p.TargetType)
	}
	if !isReason(p.Reason) {
		return nil, fmt.Errorf("%w: reason must be one of %s", ErrInvalid, strings.Join(Reasons, ", "))
	}
	p.Details = strings.TrimSpace(p.Details)
	if len([]rune(p.Details)) > MaxDetailsLen {
		return nil, fmt.Errorf("%w: details longer than %d characters", ErrInvalid, MaxDetailsLen)
	}

	ownerID, err := targetOwner(ctx, s.db.Pool, reporterID, p.TargetType, p.TargetID)
	if err != nil {
		return nil, err
	}
	if ownerID == reporterID {
		return nil, ErrSelfReport
	}

	r, err := scanReport(s.db.Pool.QueryRow(ctx,
		`INSERT INTO reports (reporter_id, target_type, target_id, reason, details)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+reportColumns,
		reporterID, p.TargetType, p.TargetID, p.Reason, p.Details))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateReport
		}
		return nil, fmt.Errorf("moderation: insert report: %w", err)
	}
	return r, nil
}

// List returns reports with the given status (all when empty), newest
// first.
func (s *Store) List(ctx context.Context, status string, page database.Page) ([]Report, error) {
	switch status {
	case "", StatusOpen, StatusDismissed, StatusActioned:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE ($1 = '' OR status = $1) AND id < $2
		 ORDER BY id DESC LIMIT $3`,
		status, page.BeforeOrMax(), page.Limit)
	if err != nil {
		return nil, fmt.Errorf("moderation: list reports: %w", err)
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("moderation: scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// Resolve closes an open report with the chosen resolution. The report
// update, the enforcement and the audit entry commit together. Other
// open reports on the same target are closed alongside when content is
// removed or its author suspended.
func (s *Store) Resolve(ctx context.Context, actor Actor, reportID int64, resolution, note string) (*Resolution, error) {
	note = strings.TrimSpace(note)
	if len([]rune(note)) > MaxDetailsLen {
		return nil, fmt.Errorf("%w: note longer than %d characters", ErrInvalid, MaxDetailsLen)
	}

	var res Resolution
	err := s.db.WithTx(ctx, "resolve report", func(tx pgx.Tx) error {
		r, err := scanReport(tx.QueryRow(ctx,
			`SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, reportID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: report %d", ErrNotFound, reportID)
		}
		if err != nil {
			return fmt.Errorf("moderation: lock report %d: %w", reportID, err)
		}
		if r.Status != StatusOpen {
			return ErrAlreadyResolved
		}

		status := StatusActioned
		var entry Action
		switch resolution {
		case ResolveDismiss:
			status = StatusDismissed
			entry = Action{Action: ActionDismissReport, TargetType: r.TargetType, TargetID: r.TargetID}

		case ResolveRemoveContent:
			action, authorID, err := removeContent(ctx, tx, r.TargetType, r.TargetID)
			if err != nil {
				return err
			}
			res.AffectedUserID = authorID
			entry = Action{Action: action, TargetType: r.TargetType, TargetID: r.TargetID}

		case ResolveSuspendUser:
			userID, err := targetAuthor(ctx, tx, r.TargetType, r.TargetID)
			if err != nil {
				return err
			}
			if err := checkStaffTarget(ctx, tx, actor, userID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`UPDATE users SET status = 'suspended', updated_at = NOW()
				 WHERE id = $1 AND status = 'active'`, userID); err != nil {
				return fmt.Errorf("moderation: suspend user %d: %w", userID, err)
			}
			res.AffectedUserID = userID
			entry = Action{Action: ActionSuspendUser, TargetType: TargetUser, TargetID: userID}

		default:
			return fmt.Errorf("%w: resolution must be dismiss, remove_content or suspend_user", ErrInvalid)
		}

		query := `UPDATE reports SET status = $2, resolved_by = $3, resolution_note = $4, resolved_at = NOW()
			WHERE id = $1 RETURNING ` + reportColumns
		res.Report, err = scanReport(tx.QueryRow(ctx, query, reportID, status, actor.ID, note))
		if err != nil {
			return fmt.Errorf("moderation: update report %d: %w", reportID, err)
		}
		if status == StatusActioned {
			if _, err := tx.Exec(ctx,
				`UPDATE reports SET status = 'actioned', resolved_by = $3, resolved_at = NOW()
				 WHERE target_type = $1 AND target_id = $2 AND status = 'open'`,
				r.TargetType, r.TargetID, actor.ID); err != nil {
				return fmt.Errorf("moderation: close sibling reports: %w", err)
			}
		}

		entry.ActorID = actor.ID
		entry.ReportID = &reportID
		entry.Note = note
		_, err = LogAction(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SetStatus suspends, bans or reinstates an account and records the
// change. Only admins may change the status of moderators and admins.
func (s *Store) SetStatus(ctx context.Context, actor Actor, userID int64, status, note string) (*account.User, error) {
	if len([]rune(note)) > MaxDetailsLen {
		return nil, fmt.Errorf("%w: note longer than %d characters", ErrInvalid, MaxDetailsLen)
	}
	var u *account.User
	err := s.db.WithTx(ctx, "set user status", func(tx pgx.Tx) error {
		if err := checkStaffTarget(ctx, tx, actor, userID); err != nil {
			return err
		}
		var err error
		if u, err = account.SetStatus(ctx, tx, userID, status); err != nil {
			return err
		}
		_, err = LogAction(ctx, tx, Action{
			ActorID: actor.ID, Action: ActionSetStatus, TargetType: TargetUser, TargetID: userID,
			Note: joinNote(status, note),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetRole changes an account's role and records the change. Admin only.
func (s *Store) SetRole(ctx context.Context, actor Actor, userID int64, role, note string) (*account.User, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if len([]rune(note)) > MaxDetailsLen {
		return nil, fmt.Errorf("%w: note longer than %d characters", ErrInvalid, MaxDetailsLen)
	}
	var u *account.User
	err := s.db.WithTx(ctx, "set user role", func(tx pgx.Tx) error {
		var err error
		if u, err = account.SetRole(ctx, tx, userID, role); err != nil {
			return err
		}
		_, err = LogAction(ctx, tx, Action{
			ActorID: actor.ID, Action: ActionSetRole, TargetType: TargetUser, TargetID: userID,
			Note: joinNote(role, note),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// joinNote prefixes a moderator note with the new value.
func joinNote(value, note string) string {
	if note = strings.TrimSpace(note); note != "" {
		return value + ": " + note
	}
	return value
}

// checkStaffTarget locks the target account and rejects non-admin
// actors when it belongs to a moderator or admin.
func checkStaffTarget(ctx context.Context, q database.Querier, actor Actor, userID int64) error {
	var role string
	err := q.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("moderation: lookup user %d: %w", userID, err)
	}
	if account.IsModerator(role) && !actor.Admin {
		return ErrForbidden
	}
	return nil
}

// RemovePost force-deletes a post and records the action. Returns the
// post's author.
func (s *Store) RemovePost(ctx context.Context, actorID *int64, postID int64, note string) (int64, error) {
	return s.remove(ctx, actorID, TargetPost, postID, note)
}

// RemoveComment force-deletes a comment and records the action. Returns
// the comment's author.
func (s *Store) RemoveComment(ctx context.Context, actorID *int64, commentID int64, note string) (int64, error) {
	return s.remove(ctx, actorID, TargetComment, commentID, note)
}

func (s *Store) remove(ctx context.Context, actorID *int64, targetType string, id int64, note string) (int64, error) {
	var authorID int64
	err := s.db.WithTx(ctx, "remove "+targetType, func(tx pgx.Tx) error {
		action, author, err := removeContent(ctx, tx, targetType, id)
		if err != nil {
			return err
		}
		if author == 0 {
			return fmt.Errorf("%w: %s %d", ErrNotFound, targetType, id)
		}
		authorID = author
		_, err = LogAction(ctx, tx, Action{
			ActorID: actorID, Action: action, TargetType: targetType, TargetID: id, Note: note,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return authorID, nil
}

// LogAction inserts an audit entry using q, typically the transaction
// that performed the action.
func LogAction(ctx context.Context, q database.Querier, a Action) (*Action, error) {
	err := q.QueryRow(ctx,
		`INSERT INTO moderation_actions (actor_id, action, target_type, target_id, report_id, note)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		a.ActorID, a.Action, a.TargetType, a.TargetID, a.ReportID, a.Note,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("moderation: log action %s: %w", a.Action, err)
	}
	return &a, nil
}

// ListActions returns the audit log, newest first.
func (s *Store) ListActions(ctx context.Context, page database.Page) ([]Action, error) {
	page = page.Normalize()
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, actor_id, action, target_type, target_id, report_id, note, created_at
		 FROM moderation_actions WHERE id < $1 ORDER BY id DESC LIMIT $2`,
		page.BeforeOrMax(), page.Limit)
	if err != nil {
		return nil, fmt.Errorf("moderation: list actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Action, &a.TargetType, &a.TargetID,
			&a.ReportID, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("moderation: scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// removeContent deletes the reported content and returns the audit
// action name and the content's author. Content that is already gone
// yields a zero author and no error.
func removeContent(ctx context.Context, q database.Querier, targetType string, id int64) (string, int64, error) {
	var (
		action   string
		authorID int64
		err      error
	)
	switch targetType {
	case TargetPost:
		action = ActionRemovePost
		authorID, err = post.ForceDelete(ctx, q, id)
		if errors.Is(err, post.ErrNotFound) {
			return action, 0, nil
		}
	case TargetComment:
		action = ActionRemoveComment
		authorID, err = comment.ForceDelete(ctx, q, id)
		if errors.Is(err, comment.ErrNotFound) {
			return action, 0, nil
		}
	case TargetMessage:
		action = ActionRemoveMessage
		err = q.QueryRow(ctx, `DELETE FROM messages WHERE id = $1 RETURNING sender_id`, id).Scan(&authorID)
		if errors.Is(err, pgx.ErrNoRows) {
			return action, 0, nil
		}
	default:
		return "", 0, fmt.Errorf("%w: cannot remove a %s; suspend the user instead", ErrInvalid, targetType)
	}
	if err != nil {
		return "", 0, fmt.Errorf("moderation: remove %s %d: %w", targetType, id, err)
	}
	return action, authorID, nil
}

// targetAuthor returns the account behind a report target.
func targetAuthor(ctx context.Context, q database.Querier, targetType string, id int64) (int64, error) {
	var query string
	switch targetType {
	case TargetUser:
		query = `SELECT id FROM users WHERE id = $1`
	case TargetPost:
		query = `SELECT user_id FROM posts WHERE id = $1`
	case TargetComment:
		query = `SELECT user_id FROM comments WHERE id = $1`
	case TargetMessage:
		query = `SELECT sender_id FROM messages WHERE id = $1`
	default:
		return 0, fmt.Errorf("%w: unknown target type %q", ErrInvalid, targetType)
	}
	var userID int64
	err := q.QueryRow(ctx, query, id).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %d", ErrNotFound, targetType, id)
	}
	if err != nil {
		return 0, fmt.Errorf("moderation: lookup %s %d: %w", targetType, id, err)
	}
	return userID, nil
}

// reportableVisible is true when the reporter ($2) may see the post "p"
// by "au".
var reportableVisible = follow.AuthorVisibleSQL("$2", "au")

// targetOwner is targetAuthor restricted to what the reporter can see:
// posts and comments follow the post author's privacy, and messages can
// only be reported by conversation members.
func targetOwner(ctx context.Context, q database.Querier, reporterID int64, targetType string, id int64) (int64, error) {
	var query string
	switch targetType {
	case TargetPost:
		query = `SELECT p.user_id FROM posts p JOIN users au ON au.id = p.user_id
			WHERE p.id = $1 AND ` + reportableVisible
	case TargetComment:
		query = `SELECT c.user_id FROM comments c
			JOIN posts p ON p.id = c.post_id
			JOIN users au ON au.id = p.user_id
			WHERE c.id = $1 AND ` + reportableVisible
	case TargetMessage:
		query = `SELECT m.sender_id FROM messages m JOIN conversations cv ON cv.id = m.conversation_id
			WHERE m.id = $1 AND $2 IN (cv.user_low, cv.user_high)`
	default:
		return targetAuthor(ctx, q, targetType, id)
	}

	var ownerID int64
	err := q.QueryRow(ctx, query, id, reporterID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %d", ErrNotFound, targetType, id)
	}
	if err != nil {
		return 0, fmt.Errorf("moderation: lookup %s %d: %w", targetType, id, err)
	}
	return ownerID, nil
}

func isTargetType(t string) bool {
	switch t {
	case TargetPost, TargetComment, TargetUser, TargetMessage:
		return true
	}
	return false
}

func isReason(r string) bool {
	for _, reason := range Reasons {
		if reason == r {
			return true
		}
	}
	return false
}
