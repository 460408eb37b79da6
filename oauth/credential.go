// Package oauth owns the OAuth2 credentials the service runs on.
//
// A Manager holds exactly one current Credential per (provider, kind). It
// bootstraps from a TokenStore at startup, falls back to a full authorization
// grant when the cache is missing or unusable, and refreshes expired tokens
// with single-flight semantics so concurrent callers never race each other
// into invalidating a refresh token. Every new token is persisted before it
// is handed out. RunRefresher keeps credentials warm on a daily schedule.
package oauth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Kind distinguishes credentials issued for the application itself from
// credentials issued on behalf of a user.
type Kind string

const (
	KindApp  Kind = "app"
	KindUser Kind = "user"
)

// Key identifies a single credential slot.
type Key struct {
	Provider string
	Kind     Kind
}

func (k Key) String() string { return k.Provider + "/" + string(k.Kind) }

// Credential is the cached form of an access token. CreatedAt is epoch
// milliseconds and ExpiresIn is seconds, matching the on-disk format.
type Credential struct {
	TokenType    string   `json:"token_type"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int64    `json:"expires_in"`
	Scope        []string `json:"scope"`
	CreatedAt    int64    `json:"created_at"`
}

// IsExpired reports whether the credential is expired at now. A credential is
// expired at the exact millisecond its lifetime ends.
func (c Credential) IsExpired(now time.Time) bool {
	return c.CreatedAt+c.ExpiresIn*1000 <= now.UnixMilli()
}

// ExpiresAt returns the absolute expiry instant.
func (c Credential) ExpiresAt() time.Time {
	return time.UnixMilli(c.CreatedAt + c.ExpiresIn*1000)
}

// Validate checks the fields a usable credential must carry.
func (c Credential) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("credential has no access token")
	}
	if c.CreatedAt <= 0 {
		return fmt.Errorf("credential has no creation time")
	}
	return nil
}

// LogValue keeps both secrets out of logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token_type", c.TokenType),
		slog.String("access_token", mask(c.AccessToken)),
		slog.Bool("has_refresh_token", c.RefreshToken != ""),
		slog.Time("expires_at", c.ExpiresAt()),
		slog.String("scope", strings.Join(c.Scope, " ")),
	)
}

func mask(s string) string {
	if len(s) <= 6 {
		return "***"
	}
	return "***" + s[len(s)-6:]
}

// fromToken converts a provider token response into a Credential stamped
// with now. Scope decoding is provider specific.
func fromToken(tok *oauth2.Token, now time.Time, scopes func(*oauth2.Token) []string) Credential {
	cred := Credential{
		TokenType:    tok.TokenType,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok, now),
		CreatedAt:    now.UnixMilli(),
	}
	if scopes != nil {
		cred.Scope = scopes(tok)
	}
	return cred
}

// expiresIn prefers the raw expires_in field and falls back to the absolute
// expiry computed by x/oauth2.
func expiresIn(tok *oauth2.Token, now time.Time) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(now); d > 0 {
			return int64(d.Round(time.Second) / time.Second)
		}
	}
	return 0
}

// ScopeList decodes a scope field sent as a JSON array.
func ScopeList(tok *oauth2.Token) []string {
	switch v := tok.Extra("scope").(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return nil
}

// ScopeString decodes a scope field sent as a space separated string.
func ScopeString(tok *oauth2.Token) []string {
	if s, ok := tok.Extra("scope").(string); ok {
		return strings.Fields(s)
	}
	return ScopeList(tok)
}
