package follow

import (
	"context"
	"testing"

	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowPublicAccount(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	_, err := s.Follow(ctx, alice, alice)
	assert.ErrorIs(t, err, ErrSelfFollow)

	res, err := s.Follow(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)

	_, err = s.Follow(ctx, bob, alice)
	assert.ErrorIs(t, err, ErrAlreadyFollowing)

	ok, err := s.IsFollowing(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	followers, err := s.Followers(ctx, alice, database.Page{})
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "bob", followers[0].User.Username)

	following, err := s.Following(ctx, bob, database.Page{})
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, alice, following[0].User.ID)

	counts, err := s.Counts(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Counts{Followers: 1}, *counts)

	status, err := s.Status(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, status)
	status, err = s.Status(ctx, alice, bob)
	require.NoError(t, err)
	assert.Empty(t, status)

	require.NoError(t, s.Unfollow(ctx, bob, alice))
	assert.ErrorIs(t, s.Unfollow(ctx, bob, alice), ErrNotFound)

	_, err = s.Follow(ctx, bob, 987654)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFollowPrivateAccount(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")
	testutil.Exec(t, db, `UPDATE users SET is_private = TRUE WHERE id = $1`, alice)

	res, err := s.Follow(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	_, err = s.Follow(ctx, carol, alice)
	require.NoError(t, err)

	ok, err := s.IsFollowing(ctx, bob, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := s.PendingRequests(ctx, alice, database.Page{})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, s.Accept(ctx, alice, bob))
	assert.ErrorIs(t, s.Accept(ctx, alice, bob), ErrNotFound)
	require.NoError(t, s.Reject(ctx, alice, carol))

	ok, err = s.IsFollowing(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsFollowing(ctx, carol, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	following, followers, err := s.AllByUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, following)
	require.Len(t, followers, 1)
	assert.Equal(t, bob, followers[0].User.ID)
}
