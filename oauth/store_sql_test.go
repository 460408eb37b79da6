package oauth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/onnwee/tunecast/testutil"
)

func TestSQLStoreRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &SQLStore{DB: database}
	ctx := context.Background()
	key := Key{Provider: "spotify", Kind: KindUser}

	_, err := store.Load(ctx, key)
	require.True(t, errors.Is(err, ErrNotFound), "want ErrNotFound, got %v", err)

	first := Credential{TokenType: "Bearer", AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 3600, Scope: []string{"user-read-playback-state"}, CreatedAt: 1_700_000_000_000}
	require.NoError(t, store.Save(ctx, key, first))
	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := first
	second.AccessToken = "a2"
	second.Scope = nil
	require.NoError(t, store.Save(ctx, key, second))
	got, err = store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Empty(t, got.Scope)

	_, err = store.Load(ctx, Key{Provider: "spotify", Kind: KindApp})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerWithSQLStore(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &SQLStore{DB: database}
	ctx := context.Background()

	spec := Spec{
		Key:       userKey,
		Authorize: func(context.Context) (*oauth2.Token, error) { return token("from-authorize", "refresh-1", 3600), nil },
	}
	m, err := NewManager(ctx, spec, store)
	require.NoError(t, err)
	assert.Equal(t, "from-authorize", m.Current().AccessToken)

	saved, err := store.Load(ctx, spec.Key)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}
