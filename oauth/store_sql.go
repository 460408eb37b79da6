package oauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/tunecast/db"
)

// SQLStore keeps credentials in the oauth_credentials table. Call db.Migrate
// before first use.
type SQLStore struct {
	DB *sql.DB
}

func (s *SQLStore) Load(ctx context.Context, key Key) (Credential, error) {
	row, err := db.GetCredential(ctx, s.DB, key.Provider, string(key.Kind))
	if errors.Is(err, db.ErrNoCredential) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load %s: %w", key, err)
	}
	cred := Credential{
		TokenType:    row.TokenType,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresIn:    row.ExpiresIn,
		Scope:        row.Scope,
		CreatedAt:    row.CreatedAt,
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, fmt.Errorf("stored %s: %w", key, err)
	}
	return cred, nil
}

func (s *SQLStore) Save(ctx context.Context, key Key, cred Credential) error {
	err := db.UpsertCredential(ctx, s.DB, db.CredentialRow{
		Provider:     key.Provider,
		Kind:         string(key.Kind),
		TokenType:    cred.TokenType,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresIn:    cred.ExpiresIn,
		Scope:        cred.Scope,
		CreatedAt:    cred.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
