// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/database"
	"go.uber.org/zap"
)

// DatabaseURLEnv names the environment variable holding the connection
// string of a PostgreSQL database usable by integration tests.
const DatabaseURLEnv = "VIBESPACE_TEST_DATABASE_URL"

// NewTestDatabase creates a throwaway schema in the integration test
// database, migrates it to the latest version and returns a DB whose
// connections use that schema. Tests calling it are skipped when
// DatabaseURLEnv is unset. The schema is dropped when the test completes.
func NewTestDatabase(t *testing.T) *database.DB {
	t.Helper()

	base := os.Getenv(DatabaseURLEnv)
	if base == "" {
		t.Skipf("%s not set; skipping PostgreSQL integration test", DatabaseURLEnv)
	}

	ctx := context.Background()
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgx.Connect(ctx, base)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close(ctx)
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close(context.Background())
	})

	db, err := database.Open(ctx, withSearchPath(t, base, schema), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func withSearchPath(t *testing.T, connString, schema string) string {
	t.Helper()
	u, err := url.Parse(connString)
	if err != nil {
		t.Fatalf("invalid %s: %v", DatabaseURLEnv, err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}
