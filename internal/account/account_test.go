package account

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("vibe_master_99"))
	assert.ErrorIs(t, ValidateUsername("ab"), ErrInvalid)
	assert.ErrorIs(t, ValidateUsername("Has-Dash"), ErrInvalid)
	assert.ErrorIs(t, ValidateUsername("admin"), ErrInvalid)
	assert.ErrorIs(t, ValidateUsername("deleted_abc"), ErrInvalid)
	assert.Equal(t, "alice", NormalizeUsername("  @Alice "))
}

func TestValidateEmailAndPassword(t *testing.T) {
	assert.NoError(t, ValidateEmail("a@example.com"))
	assert.ErrorIs(t, ValidateEmail("Alice <a@example.com>"), ErrInvalid)
	assert.ErrorIs(t, ValidateEmail("nope"), ErrInvalid)
	assert.ErrorIs(t, ValidatePassword("short"), ErrInvalid)
	assert.NoError(t, ValidatePassword("long enough"))
}

func TestIsModerator(t *testing.T) {
	assert.True(t, IsModerator(RoleAdmin))
	assert.True(t, IsModerator(RoleModerator))
	assert.False(t, IsModerator(RoleUser))
}

func TestStoreLifecycle(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	u, err := s.Create(ctx, CreateParams{Username: "Alice", Email: "alice@example.com", Password: "hunter2hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, StatusActive, u.Status)
	assert.Equal(t, MessagesFromEveryone, u.AllowMessagesFrom)

	_, err = s.Create(ctx, CreateParams{Username: "alice", Email: "other@example.com", Password: "hunter2hunter2"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	_, err = s.Create(ctx, CreateParams{Username: "alice2", Email: "alice@example.com", Password: "hunter2hunter2"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	got, err := s.Authenticate(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	_, err = s.Authenticate(ctx, "alice", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	bio := "just vibing"
	updated, err := s.UpdateProfile(ctx, u.ID, ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "just vibing", updated.Bio)
	assert.Equal(t, "alice", updated.DisplayName)

	_, err = SetStatus(ctx, db.Pool, u.ID, StatusBanned)
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, "alice", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrBanned)

	_, err = SetStatus(ctx, db.Pool, u.ID, StatusDeleted)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = SetRole(ctx, db.Pool, u.ID, "owner")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = SetRole(ctx, db.Pool, 999999, RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrivacyAndConsents(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	private := true
	p, err := s.UpdatePrivacy(ctx, alice, PrivacyUpdate{IsPrivate: &private})
	require.NoError(t, err)
	assert.True(t, p.IsPrivate)
	assert.Equal(t, MessagesFromEveryone, p.AllowMessagesFrom)

	bad := "friends"
	_, err = s.UpdatePrivacy(ctx, alice, PrivacyUpdate{AllowMessagesFrom: &bad})
	assert.ErrorIs(t, err, ErrInvalid)

	testutil.Exec(t, db, `INSERT INTO follows (follower_id, followee_id, status) VALUES ($1, $2, 'pending')`, bob, alice)
	public := false
	_, err = s.UpdatePrivacy(ctx, alice, PrivacyUpdate{IsPrivate: &public})
	require.NoError(t, err)
	var status string
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT status FROM follows WHERE follower_id = $1`, bob).Scan(&status))
	assert.Equal(t, "accepted", status)

	_, err = s.SetConsent(ctx, alice, ConsentAnalytics, true)
	require.NoError(t, err)
	c, err := s.SetConsent(ctx, alice, ConsentAnalytics, false)
	require.NoError(t, err)
	assert.False(t, c.Granted)

	consents, err := s.ListConsents(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, consents, len(ConsentTypes))

	_, err = s.SetConsent(ctx, alice, "telepathy", true)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAnonymize(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := NewStore(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, alice, "hello")
	testutil.Exec(t, db, `INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2)`, bob, alice)
	testutil.Exec(t, db, `INSERT INTO vibes (user_id, post_id, vibe_type) VALUES ($1, $2, 'fire')`, alice, post)

	err := db.WithTx(ctx, "anonymize", func(tx pgx.Tx) error {
		return Anonymize(ctx, tx, alice)
	})
	require.NoError(t, err)

	u, err := s.GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, u.Status)
	assert.Equal(t, "Deleted user", u.DisplayName)
	assert.Empty(t, u.Email)
	assert.Contains(t, u.Username, "deleted_")

	var n int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM follows`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM posts WHERE id = $1`, post).Scan(&n))
	assert.Equal(t, 1, n)

	err = db.WithTx(ctx, "anonymize again", func(tx pgx.Tx) error {
		return Anonymize(ctx, tx, alice)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}
