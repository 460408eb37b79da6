package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/tunecast/db"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
// The credential table is emptied so tests start from a clean slate.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		_ = database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.ExecContext(ctx, `DELETE FROM oauth_credentials`); err != nil {
		_ = database.Close()
		t.Fatalf("failed to reset credentials: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}
