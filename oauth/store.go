package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by a TokenStore that has no record for a key.
var ErrNotFound = errors.New("credential not found")

// TokenStore persists a single credential per key. Only Manager writes to it.
type TokenStore interface {
	Load(ctx context.Context, key Key) (Credential, error)
	Save(ctx context.Context, key Key, cred Credential) error
}

// FileStore keeps one JSON file per key under Dir, at
// <Dir>/<provider>/<kind>.json. Secrets are stored in plaintext; the files
// are created with mode 0600.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("token cache dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token cache dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Path returns the cache file for key.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.Dir, key.Provider, string(key.Kind)+".json")
}

func (s *FileStore) Load(_ context.Context, key Key) (Credential, error) {
	b, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read %s: %w", key, err)
	}
	var cred Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return Credential{}, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, fmt.Errorf("cached %s: %w", key, err)
	}
	return cred, nil
}

// Save writes to a temp file in the same directory and renames it over the
// previous file, so readers never see a partial record.
func (s *FileStore) Save(_ context.Context, key Key, cred Credential) error {
	path := s.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	b, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, "."+string(key.Kind)+"-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
