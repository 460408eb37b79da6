// Package main provides a CLI helper that obtains the one-time authorization
// code the service bootstraps its user credentials from.
//
// It prints the provider's authorize URL, waits for the browser to be
// redirected back to the configured redirect URI and prints the code in a
// form that can be pasted into .env.
//
// Usage:
//
//	authorize --provider twitch|spotify [--timeout 5m]
//
// Environment Variables:
//
//	TWITCH_CLIENT_ID, TWITCH_OAUTH2_REDIRECT_URI (twitch)
//	SPOTIFY_CLIENT_ID, SPOTIFY_OAUTH2_REDIRECT_URI (spotify)
//
// The redirect URI must point at this machine, e.g. http://localhost:3000/callback.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/onnwee/tunecast/config"
	"github.com/onnwee/tunecast/spotifyapi"
	"github.com/onnwee/tunecast/twitchapi"
)

func main() {
	provider := flag.String("provider", twitchapi.Provider, "Provider to authorize: twitch or spotify")
	timeout := flag.Duration("timeout", 5*time.Minute, "How long to wait for the browser redirect")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	target, err := newTarget(*provider, cfg, uuid.New().String())
	if err != nil {
		slog.Error("invalid request", slog.Any("err", err))
		os.Exit(1)
	}
	if err := run(ctx, target, os.Stdout); err != nil {
		slog.Error("authorization failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// target is one provider's authorize request.
type target struct {
	envVar       string
	authorizeURL string
	redirect     *url.URL
	state        string
}

func newTarget(provider string, cfg *config.Config, state string) (target, error) {
	var (
		t   = target{state: state}
		raw string
		err error
	)
	switch provider {
	case twitchapi.Provider:
		t.envVar = "TWITCH_AUTHORIZATION_CODE"
		raw = cfg.TwitchRedirectURI
		t.authorizeURL, err = twitchapi.BuildAuthorizeURL(twitchapi.OAuthConfig{
			IdentityBaseURL: cfg.TwitchIdentityBaseURL,
			ClientID:        cfg.TwitchClientID,
			RedirectURI:     cfg.TwitchRedirectURI,
			Scopes:          cfg.TwitchScopes,
		}, state)
	case spotifyapi.Provider:
		t.envVar = "SPOTIFY_AUTHORIZATION_CODE"
		raw = cfg.SpotifyRedirectURI
		t.authorizeURL, err = spotifyapi.BuildAuthorizeURL(spotifyapi.OAuthConfig{
			AccountsBaseURL: cfg.SpotifyAccountsBaseURL,
			ClientID:        cfg.SpotifyClientID,
			RedirectURI:     cfg.SpotifyRedirectURI,
		}, state)
	default:
		return target{}, fmt.Errorf("unknown provider %q", provider)
	}
	if err != nil {
		return target{}, err
	}
	t.redirect, err = url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("parse redirect uri: %w", err)
	}
	if t.redirect.Host == "" {
		return target{}, fmt.Errorf("redirect uri %q has no host", raw)
	}
	return t, nil
}

// listenAddr binds on every interface at the redirect URI's port.
func (t target) listenAddr() string {
	port := t.redirect.Port()
	if port == "" {
		port = "80"
		if t.redirect.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort("", port)
}

func (t target) path() string {
	if t.redirect.Path == "" {
		return "/"
	}
	return t.redirect.Path
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler accepts the first redirect whose state matches.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("provider returned %s: %s", q.Get("error"), q.Get("error_description"))
			http.Error(w, "authorization was denied, see terminal", http.StatusBadRequest)
		case q.Get("code") == "":
			res.err = errors.New("redirect carried no code")
			http.Error(w, "missing code", http.StatusBadRequest)
		default:
			res.code = q.Get("code")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, "Authorization code received. You can close this window.\n")
		}
		select {
		case results <- res:
		default:
		}
	})
}

func run(ctx context.Context, t target, out io.Writer) error {
	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.Handle(t.path(), callbackHandler(t.state, results))

	ln, err := net.Listen("tcp", t.listenAddr())
	if err != nil {
		return fmt.Errorf("listen for redirect: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("callback server error", slog.Any("err", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(out, "Open this URL in a browser and approve access:\n\n  %s\n\n", t.authorizeURL)

	select {
	case res := <-results:
		if res.err != nil {
			return res.err
		}
		fmt.Fprintf(out, "%s=%s\n", t.envVar, res.code)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for redirect: %w", ctx.Err())
	}
}
