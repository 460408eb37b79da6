// Package db provides the Postgres connection helper, schema migration, and
// the credential table accessors used by the SQL token store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// ErrNoCredential is returned by GetCredential when no row matches.
var ErrNoCredential = errors.New("no credential row")

// Connect opens a Postgres connection pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("DB_DSN is empty")
	}
	dbc, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := dbc.PingContext(ctx); err != nil {
		_ = dbc.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return dbc, nil
}

// Migrate applies idempotent schema changes for all required tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_credentials (
			provider TEXT NOT NULL,
			kind TEXT NOT NULL,
			token_type TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_in BIGINT NOT NULL DEFAULT 0,
			scope TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (provider, kind)
		)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// CredentialRow mirrors one oauth_credentials row. CreatedAt is epoch
// milliseconds and ExpiresIn is seconds.
type CredentialRow struct {
	Provider     string
	Kind         string
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        []string
	CreatedAt    int64
}

// UpsertCredential stores or replaces the credential for (provider, kind).
func UpsertCredential(ctx context.Context, dbx *sql.DB, row CredentialRow) error {
	q := `INSERT INTO oauth_credentials(provider, kind, token_type, access_token, refresh_token, expires_in, scope, created_at, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		  ON CONFLICT(provider, kind) DO UPDATE SET
		    token_type=EXCLUDED.token_type,
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_in=EXCLUDED.expires_in,
		    scope=EXCLUDED.scope,
		    created_at=EXCLUDED.created_at,
		    updated_at=NOW()`
	_, err := dbx.ExecContext(ctx, q, row.Provider, row.Kind, row.TokenType, row.AccessToken,
		row.RefreshToken, row.ExpiresIn, strings.Join(row.Scope, " "), row.CreatedAt)
	return err
}

// GetCredential loads the credential for (provider, kind). It returns
// ErrNoCredential when the slot has never been written.
func GetCredential(ctx context.Context, dbx *sql.DB, provider, kind string) (CredentialRow, error) {
	row := CredentialRow{Provider: provider, Kind: kind}
	var scope string
	err := dbx.QueryRowContext(ctx,
		`SELECT token_type, access_token, refresh_token, expires_in, scope, created_at
		 FROM oauth_credentials WHERE provider = $1 AND kind = $2`, provider, kind).
		Scan(&row.TokenType, &row.AccessToken, &row.RefreshToken, &row.ExpiresIn, &scope, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CredentialRow{}, ErrNoCredential
	}
	if err != nil {
		return CredentialRow{}, err
	}
	row.Scope = strings.Fields(scope)
	return row, nil
}
