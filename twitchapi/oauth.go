package twitchapi

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/tunecast/oauth"
)

// Provider is the credential provider name for Twitch.
const Provider = "twitch"

// DefaultIdentityBaseURL is the production Twitch identity host.
const DefaultIdentityBaseURL = "https://id.twitch.tv"

// DefaultScopes are the user scopes needed to post chat messages and manage
// channel point redemptions.
var DefaultScopes = []string{"channel:manage:redemptions", "user:write:chat"}

// OAuthConfig holds the Twitch application registration.
type OAuthConfig struct {
	IdentityBaseURL string
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	Scopes          []string
}

// Endpoint returns the Twitch OAuth2 endpoints under identityBaseURL. Twitch
// expects client credentials in the form body.
func Endpoint(identityBaseURL string) oauth2.Endpoint {
	base := strings.TrimRight(identityBaseURL, "/")
	if base == "" {
		base = DefaultIdentityBaseURL
	}
	return oauth2.Endpoint{
		AuthURL:   base + "/oauth2/authorize",
		TokenURL:  base + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (c OAuthConfig) scopes() []string {
	if len(c.Scopes) == 0 {
		return DefaultScopes
	}
	return c.Scopes
}

func (c OAuthConfig) userConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     Endpoint(c.IdentityBaseURL),
		RedirectURL:  c.RedirectURI,
		Scopes:       c.scopes(),
	}
}

// AppSpec describes the app access token. It has no refresh token, so
// renewal is a new client credentials grant.
func AppSpec(c OAuthConfig, hc *http.Client) oauth.Spec {
	cc := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     Endpoint(c.IdentityBaseURL).TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return oauth.Spec{
		Key:       oauth.Key{Provider: Provider, Kind: oauth.KindApp},
		Authorize: oauth.ClientCredentialsGrant(cc, hc),
		Scopes:    oauth.ScopeList,
	}
}

// UserSpec describes the broadcaster's user token, bootstrapped from a
// one-time authorization code and refreshed afterwards.
func UserSpec(c OAuthConfig, code string, hc *http.Client) oauth.Spec {
	cfg := c.userConfig()
	return oauth.Spec{
		Key:       oauth.Key{Provider: Provider, Kind: oauth.KindUser},
		Authorize: oauth.AuthorizationCodeGrant(cfg, code, hc),
		Refresh:   oauth.RefreshTokenGrant(cfg, hc),
		Scopes:    oauth.ScopeList,
	}
}

// BuildAuthorizeURL constructs the user authorization URL for OAuth code grant.
func BuildAuthorizeURL(c OAuthConfig, state string) (string, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return c.userConfig().AuthCodeURL(state), nil
}

// ParseScopes splits a comma or space separated scope list.
func ParseScopes(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}
