package testutil

import (
	"context"
	"testing"

	"github.com/primal-host/vibespace/internal/database"
)

// CreateUser inserts an active user with a throwaway password hash and
// returns its ID.
func CreateUser(t *testing.T, db *database.DB, username string) int64 {
	t.Helper()
	var id int64
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, 'x') RETURNING id`,
		username, username+"@example.com",
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create user %q: %v", username, err)
	}
	return id
}

// CreatePost inserts a post authored by userID and returns its ID.
func CreatePost(t *testing.T, db *database.DB, userID int64, body string) int64 {
	t.Helper()
	var id int64
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO posts (user_id, body) VALUES ($1, $2) RETURNING id`,
		userID, body,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return id
}

// Exec runs a statement and fails the test on error.
func Exec(t *testing.T, db *database.DB, sql string, args ...any) {
	t.Helper()
	if _, err := db.Pool.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}
