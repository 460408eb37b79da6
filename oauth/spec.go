package oauth

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Spec carries everything provider specific about one credential slot. The
// expiry, caching and single-flight logic in Manager is shared by all specs.
type Spec struct {
	Key Key

	// Authorize mints a fresh token from the long-lived grant (client
	// credentials or a bootstrap authorization code).
	Authorize func(ctx context.Context) (*oauth2.Token, error)

	// Refresh exchanges a refresh token. When nil, an expired credential is
	// replaced by calling Authorize again.
	Refresh func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// Scopes decodes the provider's scope field. Optional.
	Scopes func(tok *oauth2.Token) []string
}

func (s Spec) validate() error {
	if s.Key.Provider == "" || s.Key.Kind == "" {
		return errors.New("spec key is incomplete")
	}
	if s.Authorize == nil {
		return errors.New("spec has no authorize grant")
	}
	return nil
}

// withClient makes x/oauth2 use hc for token endpoint calls.
func withClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// ClientCredentialsGrant returns an authorize func for the client credentials
// flow.
func ClientCredentialsGrant(cfg clientcredentials.Config, hc *http.Client) func(context.Context) (*oauth2.Token, error) {
	return func(ctx context.Context) (*oauth2.Token, error) {
		return cfg.Token(withClient(ctx, hc))
	}
}

// AuthorizationCodeGrant returns an authorize func that exchanges a
// long-lived bootstrap code. Providers usually accept a code once, so this only
// succeeds on the very first start or after the operator issued a new code.
func AuthorizationCodeGrant(cfg *oauth2.Config, code string, hc *http.Client) func(context.Context) (*oauth2.Token, error) {
	return func(ctx context.Context) (*oauth2.Token, error) {
		if code == "" {
			return nil, errors.New("no authorization code configured")
		}
		return cfg.Exchange(withClient(ctx, hc), code)
	}
}

// RefreshTokenGrant returns a refresh func backed by cfg's token endpoint.
func RefreshTokenGrant(cfg *oauth2.Config, hc *http.Client) func(context.Context, string) (*oauth2.Token, error) {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		if refreshToken == "" {
			return nil, errors.New("no refresh token")
		}
		return cfg.TokenSource(withClient(ctx, hc), &oauth2.Token{RefreshToken: refreshToken}).Token()
	}
}
