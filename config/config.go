// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Call Validate before starting anything that talks to Twitch or Spotify.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron"
)

const (
	TokenStoreFile     = "file"
	TokenStorePostgres = "postgres"
)

type Config struct {
	// HTTP
	HTTPAddr            string
	ApplicationHostname string
	WidgetFile          string

	// Twitch
	TwitchIdentityBaseURL string
	TwitchAPIBaseURL      string
	TwitchClientID        string
	TwitchClientSecret    string
	TwitchRedirectURI     string
	TwitchAuthCode        string
	TwitchBroadcasterID   string
	TwitchUserID          string
	TwitchWebhookSecret   string
	TwitchRewardID        string
	TwitchScopes          []string

	// Spotify
	SpotifyAccountsBaseURL string
	SpotifyAPIBaseURL      string
	SpotifyClientID        string
	SpotifyClientSecret    string
	SpotifyRedirectURI     string
	SpotifyAuthCode        string

	// Token persistence
	TokenStore      string
	TokenCacheDir   string
	DBDsn           string
	RefreshSchedule string

	// Events
	EventBusCapacity      int
	LivenessInitialOnline bool

	// Tracing
	OTLPEndpoint string
}

// Load reads environment variables and applies defaults. It only fails on values
// that cannot be parsed; missing credentials are reported by Validate.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
	cfg.ApplicationHostname = strings.TrimRight(os.Getenv("APPLICATION_HOSTNAME"), "/")
	cfg.WidgetFile = os.Getenv("SPOTIFY_WIDGET_FILE")

	// Twitch
	cfg.TwitchIdentityBaseURL = getenv("TWITCH_IDENTITY_BASE_URL", "https://id.twitch.tv")
	cfg.TwitchAPIBaseURL = getenv("TWITCH_API_BASE_URL", "https://api.twitch.tv")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_OAUTH2_REDIRECT_URI")
	cfg.TwitchAuthCode = os.Getenv("TWITCH_AUTHORIZATION_CODE")
	cfg.TwitchBroadcasterID = os.Getenv("TWITCH_BROADCASTER_ID")
	cfg.TwitchUserID = os.Getenv("TWITCH_USER_ID")
	if cfg.TwitchUserID == "" {
		// the bot usually speaks as the broadcaster
		cfg.TwitchUserID = cfg.TwitchBroadcasterID
	}
	cfg.TwitchWebhookSecret = os.Getenv("TWITCH_EVENTSUB_WEBHOOK_SECRET")
	cfg.TwitchRewardID = os.Getenv("TWITCH_SONG_REQUEST_CUSTOM_REWARD_ID")
	cfg.TwitchScopes = strings.Fields(strings.ReplaceAll(os.Getenv("TWITCH_SCOPES"), "+", " "))

	// Spotify
	cfg.SpotifyAccountsBaseURL = getenv("SPOTIFY_ACCOUNTS_BASE_URL", "https://accounts.spotify.com")
	cfg.SpotifyAPIBaseURL = getenv("SPOTIFY_API_BASE_URL", "https://api.spotify.com")
	cfg.SpotifyClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	cfg.SpotifyClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	cfg.SpotifyRedirectURI = os.Getenv("SPOTIFY_OAUTH2_REDIRECT_URI")
	cfg.SpotifyAuthCode = os.Getenv("SPOTIFY_AUTHORIZATION_CODE")

	// Token persistence
	cfg.TokenStore = strings.ToLower(getenv("TOKEN_STORE", TokenStoreFile))
	cfg.TokenCacheDir = getenv("TOKEN_CACHE_DIR", "data/tokens")
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.RefreshSchedule = getenv("TOKEN_REFRESH_SCHEDULE", "0 0 * * *")

	// Events
	cfg.EventBusCapacity = 100
	if v := os.Getenv("EVENTBUS_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid EVENTBUS_CAPACITY %q: must be a positive integer", v)
		}
		cfg.EventBusCapacity = n
	}
	cfg.LivenessInitialOnline = true
	if v := os.Getenv("LIVENESS_INITIAL_ONLINE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LIVENESS_INITIAL_ONLINE %q: %w", v, err)
		}
		cfg.LivenessInitialOnline = b
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error
	required := []struct {
		name, val string
	}{
		{"APPLICATION_HOSTNAME", c.ApplicationHostname},
		{"TWITCH_CLIENT_ID", c.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", c.TwitchClientSecret},
		{"TWITCH_OAUTH2_REDIRECT_URI", c.TwitchRedirectURI},
		{"TWITCH_BROADCASTER_ID", c.TwitchBroadcasterID},
		{"TWITCH_SONG_REQUEST_CUSTOM_REWARD_ID", c.TwitchRewardID},
		{"SPOTIFY_CLIENT_ID", c.SpotifyClientID},
		{"SPOTIFY_CLIENT_SECRET", c.SpotifyClientSecret},
		{"SPOTIFY_OAUTH2_REDIRECT_URI", c.SpotifyRedirectURI},
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if n := len(c.TwitchWebhookSecret); n < 10 || n > 100 {
		errs = append(errs, errors.New("TWITCH_EVENTSUB_WEBHOOK_SECRET must be 10 to 100 characters"))
	}
	switch c.TokenStore {
	case TokenStoreFile:
		if c.TokenCacheDir == "" {
			errs = append(errs, errors.New("TOKEN_CACHE_DIR is required when TOKEN_STORE=file"))
		}
	case TokenStorePostgres:
		if c.DBDsn == "" {
			errs = append(errs, errors.New("DB_DSN is required when TOKEN_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("TOKEN_STORE must be %q or %q, got %q", TokenStoreFile, TokenStorePostgres, c.TokenStore))
	}
	if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid TOKEN_REFRESH_SCHEDULE: %w", err))
	}
	return errors.Join(errs...)
}

// CallbackURL is the public EventSub webhook endpoint.
func (c *Config) CallbackURL() string {
	return c.ApplicationHostname + "/v1/twitch/events"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
