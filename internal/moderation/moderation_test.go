package moderation

import (
	"context"
	"testing"

	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportValidation(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, alice, "spammy")

	_, err := s.Report(ctx, bob, ReportParams{TargetType: "planet", TargetID: 1, Reason: "spam"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "boring"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Report(ctx, alice, ReportParams{TargetType: TargetUser, TargetID: alice, Reason: "other"})
	assert.ErrorIs(t, err, ErrSelfReport)
	_, err = s.Report(ctx, alice, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "spam"})
	assert.ErrorIs(t, err, ErrSelfReport)
	_, err = s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: 999999, Reason: "spam"})
	assert.ErrorIs(t, err, ErrNotFound)

	r, err := s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "spam", Details: " ads "})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, r.Status)
	assert.Equal(t, "ads", r.Details)

	_, err = s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "hate"})
	assert.ErrorIs(t, err, ErrDuplicateReport)
}

func TestResolveRemoveContent(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")
	mod := testutil.CreateUser(t, db, "mod")
	post := testutil.CreatePost(t, db, alice, "awful")

	r1, err := s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "hate"})
	require.NoError(t, err)
	r2, err := s.Report(ctx, carol, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "hate"})
	require.NoError(t, err)

	res, err := s.Resolve(ctx, Actor{ID: &mod}, r1.ID, ResolveRemoveContent, "hate speech")
	require.NoError(t, err)
	assert.Equal(t, StatusActioned, res.Report.Status)
	assert.Equal(t, alice, res.AffectedUserID)
	require.NotNil(t, res.Report.ResolvedBy)
	assert.Equal(t, mod, *res.Report.ResolvedBy)

	_, err = s.Resolve(ctx, Actor{ID: &mod}, r1.ID, ResolveDismiss, "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = s.Resolve(ctx, Actor{ID: &mod}, r2.ID, ResolveDismiss, "")
	assert.ErrorIs(t, err, ErrAlreadyResolved, "sibling report closed with the first")

	open, err := s.List(ctx, StatusOpen, database.Page{})
	require.NoError(t, err)
	assert.Empty(t, open)

	actions, err := s.ListActions(ctx, database.Page{})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRemovePost, actions[0].Action)
	require.NotNil(t, actions[0].ReportID)
	assert.Equal(t, r1.ID, *actions[0].ReportID)

	var n int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM posts WHERE id = $1`, post).Scan(&n))
	assert.Zero(t, n)
}

func TestResolveSuspendAndDismiss(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	r, err := s.Report(ctx, bob, ReportParams{TargetType: TargetUser, TargetID: alice, Reason: "harassment"})
	require.NoError(t, err)

	_, err = s.Resolve(ctx, Actor{Admin: true}, r.ID, "banish", "")
	assert.ErrorIs(t, err, ErrInvalid)

	res, err := s.Resolve(ctx, Actor{Admin: true}, r.ID, ResolveSuspendUser, "cool off")
	require.NoError(t, err)
	assert.Equal(t, alice, res.AffectedUserID)
	assert.Nil(t, res.Report.ResolvedBy)

	var status string
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT status FROM users WHERE id = $1`, alice).Scan(&status))
	assert.Equal(t, "suspended", status)

	// A fresh report on the same target is allowed once the first is closed.
	r, err = s.Report(ctx, bob, ReportParams{TargetType: TargetUser, TargetID: alice, Reason: "spam"})
	require.NoError(t, err)
	res, err = s.Resolve(ctx, Actor{Admin: true}, r.ID, ResolveDismiss, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, res.Report.Status)
	assert.Zero(t, res.AffectedUserID)

	dismissed, err := s.List(ctx, StatusDismissed, database.Page{})
	require.NoError(t, err)
	assert.Len(t, dismissed, 1)
	_, err = s.List(ctx, "pending", database.Page{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRemoveCommentLogsAction(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	mod := testutil.CreateUser(t, db, "mod")
	post := testutil.CreatePost(t, db, alice, "hi")
	var commentID int64
	require.NoError(t, db.Pool.QueryRow(ctx,
		`INSERT INTO comments (post_id, user_id, body) VALUES ($1, $2, 'rude') RETURNING id`,
		post, alice).Scan(&commentID))

	authorID, err := s.RemoveComment(ctx, &mod, commentID, "rude")
	require.NoError(t, err)
	assert.Equal(t, alice, authorID)

	_, err = s.RemoveComment(ctx, &mod, commentID, "again")
	assert.ErrorIs(t, err, ErrNotFound)

	testutil.Exec(t, db, `UPDATE users SET role = 'moderator' WHERE id = $1`, mod)
	_, err = s.SetStatus(ctx, Actor{ID: &mod}, alice, "banned", "")
	require.NoError(t, err)

	actions, err := s.ListActions(ctx, database.Page{})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSetStatus, actions[0].Action)
	assert.Equal(t, ActionRemoveComment, actions[1].Action)
}

func TestReportHiddenPost(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	testutil.Exec(t, db, `UPDATE users SET is_private = TRUE WHERE id = $1`, alice)
	post := testutil.CreatePost(t, db, alice, "followers only")
	var commentID int64
	require.NoError(t, db.Pool.QueryRow(ctx,
		`INSERT INTO comments (post_id, user_id, body) VALUES ($1, $2, 'hidden') RETURNING id`,
		post, alice).Scan(&commentID))

	_, err := s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "spam"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Report(ctx, bob, ReportParams{TargetType: TargetComment, TargetID: commentID, Reason: "spam"})
	assert.ErrorIs(t, err, ErrNotFound)

	testutil.Exec(t, db,
		`INSERT INTO follows (follower_id, followee_id, status) VALUES ($1, $2, 'accepted')`, bob, alice)
	_, err = s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "spam"})
	assert.NoError(t, err)
}

func TestResolveSuspendStaffRequiresAdmin(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	mod := testutil.CreateUser(t, db, "mod")
	boss := testutil.CreateUser(t, db, "boss")
	testutil.Exec(t, db, `UPDATE users SET role = 'admin' WHERE id = $1`, alice)
	testutil.Exec(t, db, `UPDATE users SET role = 'moderator' WHERE id = $1`, mod)
	testutil.Exec(t, db, `UPDATE users SET role = 'admin' WHERE id = $1`, boss)
	post := testutil.CreatePost(t, db, alice, "admin post")

	r, err := s.Report(ctx, bob, ReportParams{TargetType: TargetPost, TargetID: post, Reason: "other"})
	require.NoError(t, err)

	_, err = s.Resolve(ctx, Actor{ID: &mod}, r.ID, ResolveSuspendUser, "")
	assert.ErrorIs(t, err, ErrForbidden)

	var status, reportStatus string
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT status FROM users WHERE id = $1`, alice).Scan(&status))
	assert.Equal(t, account.StatusActive, status)
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1`, r.ID).Scan(&reportStatus))
	assert.Equal(t, StatusOpen, reportStatus)

	res, err := s.Resolve(ctx, Actor{ID: &boss, Admin: true}, r.ID, ResolveSuspendUser, "")
	require.NoError(t, err)
	assert.Equal(t, alice, res.AffectedUserID)
}

func TestSetStatusAndRole(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	mod := testutil.CreateUser(t, db, "mod")
	testutil.Exec(t, db, `UPDATE users SET role = 'admin' WHERE id = $1`, alice)
	testutil.Exec(t, db, `UPDATE users SET role = 'moderator' WHERE id = $1`, mod)
	moderator := Actor{ID: &mod}

	_, err := s.SetStatus(ctx, moderator, alice, account.StatusSuspended, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.SetStatus(ctx, moderator, 999999, account.StatusSuspended, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SetStatus(ctx, moderator, bob, account.StatusDeleted, "")
	assert.ErrorIs(t, err, account.ErrInvalid)

	u, err := s.SetStatus(ctx, moderator, bob, account.StatusSuspended, " spam ")
	require.NoError(t, err)
	assert.Equal(t, account.StatusSuspended, u.Status)

	_, err = s.SetRole(ctx, moderator, bob, account.RoleModerator, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.SetRole(ctx, Actor{Admin: true}, bob, "emperor", "")
	assert.ErrorIs(t, err, account.ErrInvalid)
	u, err = s.SetRole(ctx, Actor{Admin: true}, bob, account.RoleModerator, "")
	require.NoError(t, err)
	assert.Equal(t, account.RoleModerator, u.Role)

	actions, err := s.ListActions(ctx, database.Page{})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSetRole, actions[0].Action)
	assert.Nil(t, actions[0].ActorID)
	assert.Equal(t, "moderator", actions[0].Note)
	assert.Equal(t, ActionSetStatus, actions[1].Action)
	assert.Equal(t, "suspended: spam", actions[1].Note)
}

func TestSetStatusRollsBackWithoutAuditEntry(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	bob := testutil.CreateUser(t, db, "bob")
	ghost := int64(999999) // no such user: the audit insert fails its foreign key

	_, err := s.SetStatus(ctx, Actor{ID: &ghost, Admin: true}, bob, account.StatusBanned, "")
	require.Error(t, err)
	_, err = s.SetRole(ctx, Actor{ID: &ghost, Admin: true}, bob, account.RoleAdmin, "")
	require.Error(t, err)

	var status, role string
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT status, role FROM users WHERE id = $1`, bob).Scan(&status, &role))
	assert.Equal(t, account.StatusActive, status)
	assert.Equal(t, account.RoleUser, role)

	actions, err := s.ListActions(ctx, database.Page{})
	require.NoError(t, err)
	assert.Empty(t, actions)
}
