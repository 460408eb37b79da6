package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
}

func TestCredentialUpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM oauth_credentials WHERE provider = 'dbtest'`)
	})

	if _, err := GetCredential(ctx, db, "dbtest", "user"); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}

	row := CredentialRow{
		Provider: "dbtest", Kind: "user", TokenType: "bearer",
		AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 3600,
		Scope: []string{"chat:read", "chat:edit"}, CreatedAt: 1700000000000,
	}
	if err := UpsertCredential(ctx, db, row); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	row.AccessToken = "a2"
	if err := UpsertCredential(ctx, db, row); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := GetCredential(ctx, db, "dbtest", "user")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "a2" || got.RefreshToken != "r1" || len(got.Scope) != 2 || got.CreatedAt != row.CreatedAt {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestConnectRejectsEmptyDSN(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
