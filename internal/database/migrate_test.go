package database_test

import (
	"context"
	"testing"

	"github.com/primal-host/vibespace/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikesBecomeEnergyVibes(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.MigrateTo(6))
	status, err := db.MigrateStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(6), status.Current)
	assert.False(t, status.UpToDate())

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, alice, "liked before vibes existed")
	testutil.Exec(t, db, `INSERT INTO post_likes (user_id, post_id) VALUES ($1, $2), ($3, $2)`, alice, post, bob)

	require.NoError(t, db.MigrateUp())
	status, err = db.MigrateStatus()
	require.NoError(t, err)
	assert.True(t, status.UpToDate())

	rows, err := db.Pool.Query(ctx,
		`SELECT user_id, vibe_type FROM vibes WHERE post_id = $1 ORDER BY user_id`, post)
	require.NoError(t, err)
	defer rows.Close()
	var users []int64
	for rows.Next() {
		var userID int64
		var vibeType string
		require.NoError(t, rows.Scan(&userID, &vibeType))
		assert.Equal(t, "energy", vibeType)
		users = append(users, userID)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{alice, bob}, users)

	var exists bool
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT to_regclass('post_likes') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists, "post_likes dropped")
}
