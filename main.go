// Command tunecast is the song request bot. It:
//   - Loads configuration and initializes structured logging.
//   - Bootstraps the Twitch app, Twitch user and Spotify user credentials from
//     the token store, authorizing from scratch when the cache is unusable.
//   - Reconciles EventSub subscriptions, then listens for stream liveness,
//     song request redemptions and chat macros.
//   - Exposes an HTTP server with the EventSub callback, the overlay song
//     queue, /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM. Losing a credential is fatal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tunecast/config"
	"github.com/onnwee/tunecast/db"
	"github.com/onnwee/tunecast/eventsub"
	"github.com/onnwee/tunecast/oauth"
	"github.com/onnwee/tunecast/server"
	"github.com/onnwee/tunecast/songrequest"
	"github.com/onnwee/tunecast/spotifyapi"
	"github.com/onnwee/tunecast/telemetry"
	"github.com/onnwee/tunecast/twitchapi"
)

const serviceVersion = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdown, err := telemetry.InitTracing(cfg.OTLPEndpoint, "tunecast", serviceVersion)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	slog.Info("tracing configured", slog.Bool("enabled", telemetry.IsTracingEnabled()), slog.String("endpoint", cfg.OTLPEndpoint))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("exiting", slog.Any("err", err))
		shutdown()
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hc := &http.Client{Timeout: 15 * time.Second}

	// Credentials. Any bootstrap failure is fatal.
	twitchOAuth := twitchapi.OAuthConfig{
		IdentityBaseURL: cfg.TwitchIdentityBaseURL,
		ClientID:        cfg.TwitchClientID,
		ClientSecret:    cfg.TwitchClientSecret,
		RedirectURI:     cfg.TwitchRedirectURI,
		Scopes:          cfg.TwitchScopes,
	}
	spotifyOAuth := spotifyapi.OAuthConfig{
		AccountsBaseURL: cfg.SpotifyAccountsBaseURL,
		ClientID:        cfg.SpotifyClientID,
		ClientSecret:    cfg.SpotifyClientSecret,
		RedirectURI:     cfg.SpotifyRedirectURI,
	}
	specs := []oauth.Spec{
		twitchapi.AppSpec(twitchOAuth, hc),
		twitchapi.UserSpec(twitchOAuth, cfg.TwitchAuthCode, hc),
		spotifyapi.UserSpec(spotifyOAuth, cfg.SpotifyAuthCode, hc),
	}
	managers := make([]*oauth.Manager, 0, len(specs))
	for _, spec := range specs {
		m, err := oauth.NewManager(ctx, spec, store)
		if err != nil {
			return fmt.Errorf("bootstrap %s credential: %w", spec.Key, err)
		}
		managers = append(managers, m)
	}
	twitchApp, twitchUser, spotifyUser := managers[0], managers[1], managers[2]

	helix := &twitchapi.HelixClient{
		BaseURL:       cfg.TwitchAPIBaseURL,
		ClientID:      cfg.TwitchClientID,
		BroadcasterID: cfg.TwitchBroadcasterID,
		SenderID:      cfg.TwitchUserID,
		AppTokens:     twitchApp,
		UserTokens:    twitchUser,
		HTTPClient:    hc,
	}
	spotify := &spotifyapi.Client{BaseURL: cfg.SpotifyAPIBaseURL, Tokens: spotifyUser, HTTPClient: hc}

	// Event pipeline
	registry := eventsub.NewRegistry(helix, cfg.CallbackURL(), cfg.TwitchWebhookSecret, slog.Default())
	gate := eventsub.NewGate(cfg.LivenessInitialOnline)
	dispatcher := eventsub.NewDispatcher(eventsub.NewBus[eventsub.Message](cfg.EventBusCapacity), gate, registry, slog.Default())

	songs := songrequest.New(songrequest.Config{
		BroadcasterID: cfg.TwitchBroadcasterID,
		RewardID:      cfg.TwitchRewardID,
	}, helix, spotify, slog.Default())

	var widget []byte
	if cfg.WidgetFile != "" {
		widget, err = os.ReadFile(cfg.WidgetFile)
		if err != nil {
			return fmt.Errorf("read song widget: %w", err)
		}
	}

	startPprof()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, server.NewMux(gctx, server.Options{
			Events:        dispatcher,
			WebhookSecret: cfg.TwitchWebhookSecret,
			Songs:         songs,
			WidgetHTML:    widget,
			Ready:         registry.Ready(),
		}))
	})

	// Stale subscriptions must be gone before any listener may subscribe.
	g.Go(func() error {
		if err := registry.Reconcile(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("reconcile eventsub subscriptions: %w", err)
		}
		return nil
	})

	for _, m := range managers {
		g.Go(func() error { return oauth.RunRefresher(gctx, m, cfg.RefreshSchedule) })
		g.Go(func() error {
			select {
			case err := <-m.Fatal():
				return err
			case <-gctx.Done():
				return nil
			}
		})
	}

	liveness := eventsub.Condition{"broadcaster_user_id": cfg.TwitchBroadcasterID}
	for _, typ := range []string{eventsub.TypeStreamOnline, eventsub.TypeStreamOffline} {
		l := dispatcher.Listen(typ, "1", liveness)
		g.Go(func() error {
			// The gate observes these at publish time; the handler only logs.
			err := l.Run(gctx, func(context.Context, eventsub.Notification) error {
				slog.Info("stream state changed", slog.String("type", l.Type()), slog.Bool("online", gate.Online()), slog.String("component", "liveness"))
				return nil
			})
			if err != nil {
				slog.Error("liveness listener ended", slog.String("type", l.Type()), slog.Any("err", err))
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := songs.Run(gctx, dispatcher); err != nil {
			slog.Error("song request listeners ended", slog.Any("err", err))
		}
		return nil
	})

	err = g.Wait()
	var fatal *oauth.FatalError
	if errors.As(err, &fatal) {
		slog.Error("credential lost, re-run the authorize helper to issue a new code", slog.String("credential", fatal.Key.String()))
	}
	return err
}

// openTokenStore returns the configured credential cache and its cleanup.
func openTokenStore(ctx context.Context, cfg *config.Config) (oauth.TokenStore, func(), error) {
	switch cfg.TokenStore {
	case config.TokenStorePostgres:
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("migrate db: %w", err)
		}
		return &oauth.SQLStore{DB: database}, func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}, nil
	default:
		fs, err := oauth.NewFileStore(cfg.TokenCacheDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
