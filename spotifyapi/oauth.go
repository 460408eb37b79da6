package spotifyapi

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/onnwee/tunecast/oauth"
)

// Provider is the credential provider name for Spotify.
const Provider = "spotify"

// DefaultAccountsBaseURL is the production accounts host.
const DefaultAccountsBaseURL = "https://accounts.spotify.com"

// DefaultScopes cover reading and modifying the playback queue.
var DefaultScopes = []string{"user-read-currently-playing", "user-read-playback-state", "user-modify-playback-state"}

// OAuthConfig holds the Spotify application registration.
type OAuthConfig struct {
	AccountsBaseURL string
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	Scopes          []string
}

// Endpoint returns the Spotify OAuth2 endpoints. Spotify authenticates the
// client with HTTP basic auth.
func Endpoint(accountsBaseURL string) oauth2.Endpoint {
	base := strings.TrimRight(accountsBaseURL, "/")
	if base == "" {
		base = DefaultAccountsBaseURL
	}
	return oauth2.Endpoint{
		AuthURL:   base + "/authorize",
		TokenURL:  base + "/api/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

func (c OAuthConfig) config() *oauth2.Config {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     Endpoint(c.AccountsBaseURL),
		RedirectURL:  c.RedirectURI,
		Scopes:       scopes,
	}
}

// UserSpec describes the Spotify user token. A refresh response may omit the
// refresh token; the manager keeps the previous one.
func UserSpec(c OAuthConfig, code string, hc *http.Client) oauth.Spec {
	cfg := c.config()
	return oauth.Spec{
		Key:       oauth.Key{Provider: Provider, Kind: oauth.KindUser},
		Authorize: oauth.AuthorizationCodeGrant(cfg, code, hc),
		Refresh:   oauth.RefreshTokenGrant(cfg, hc),
		Scopes:    oauth.ScopeString,
	}
}

// BuildAuthorizeURL constructs the user authorization URL.
func BuildAuthorizeURL(c OAuthConfig, state string) (string, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return c.config().AuthCodeURL(state), nil
}
