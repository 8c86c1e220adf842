package comment

import (
	"context"
	"strings"
	"testing"

	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBody(t *testing.T) {
	body, err := normalizeBody("  nice  ")
	require.NoError(t, err)
	assert.Equal(t, "nice", body)

	_, err = normalizeBody("   ")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = normalizeBody(strings.Repeat("x", MaxBodyLen+1))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCommentLifecycle(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")
	post := testutil.CreatePost(t, db, alice, "hello")

	first, err := s.Create(ctx, bob, post, "first!")
	require.NoError(t, err)
	assert.Equal(t, alice, first.PostOwnerID)
	assert.Equal(t, "bob", first.Comment.Username)

	second, err := s.Create(ctx, carol, post, "second")
	require.NoError(t, err)

	list, err := s.ListByPost(ctx, alice, post, database.Page{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.Comment.ID, list[0].ID)

	list, err = s.ListByPost(ctx, alice, post, database.Page{Before: first.Comment.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.Comment.ID, list[0].ID)

	_, err = s.Update(ctx, carol, first.Comment.ID, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)
	edited, err := s.Update(ctx, bob, first.Comment.ID, "first, edited")
	require.NoError(t, err)
	assert.Equal(t, "first, edited", edited.Body)

	assert.ErrorIs(t, s.Delete(ctx, carol, first.Comment.ID), ErrForbidden)
	// The post author may remove comments on their post.
	require.NoError(t, s.Delete(ctx, alice, second.Comment.ID))

	authorID, err := ForceDelete(ctx, db.Pool, first.Comment.ID)
	require.NoError(t, err)
	assert.Equal(t, bob, authorID)

	list, err = s.ListByPost(ctx, alice, post, database.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCommentOnHiddenPost(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	testutil.Exec(t, db, `UPDATE users SET is_private = TRUE WHERE id = $1`, alice)
	post := testutil.CreatePost(t, db, alice, "private")

	_, err := s.Create(ctx, bob, post, "let me in")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ListByPost(ctx, bob, post, database.Page{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Create(ctx, bob, 424242, "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}
