// Command combined-chat serves a merged live-chat stream. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres for the durable resolution cache and
//     linked-account tokens, running idempotent migrations.
//   - Builds the per-platform adapter factory (Twitch IRC, Kick Pusher,
//     YouTube Live polling) with shared badge and resolution caches.
//   - Exposes the HTTP server: /ws, /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/joho/godotenv"
	"github.com/sdingwan/combined-chat/accounts"
	"github.com/sdingwan/combined-chat/cache"
	"github.com/sdingwan/combined-chat/config"
	"github.com/sdingwan/combined-chat/db"
	"github.com/sdingwan/combined-chat/event"
	"github.com/sdingwan/combined-chat/kickchat"
	"github.com/sdingwan/combined-chat/server"
	"github.com/sdingwan/combined-chat/session"
	"github.com/sdingwan/combined-chat/telemetry"
	"github.com/sdingwan/combined-chat/twitchchat"
	"github.com/sdingwan/combined-chat/youtubechat"
)

const (
	twitchTokenURL = "https://id.twitch.tv/oauth2/token"
	kickTokenURL   = "https://id.kick.com/oauth/token"
)

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

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("combined-chat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB is optional: without DB_DSN the service runs memory-only, losing
	// the durable resolution cache and linked-account lookups.
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		slog.Error("database setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		go pruneLoop(ctx, database)
	}

	// YouTube resolution caches: long-lived channel identities, short-lived
	// live sessions, both shadowed in Postgres when available.
	var identityOpts []cache.Option[youtubechat.ChannelIdentity]
	var sessionOpts []cache.Option[youtubechat.LiveSession]
	if database != nil {
		store := &db.CacheStore{DB: database}
		identityOpts = append(identityOpts,
			cache.WithStore[youtubechat.ChannelIdentity](store),
			cache.WithStorePrefix[youtubechat.ChannelIdentity]("yt:id:"))
		sessionOpts = append(sessionOpts,
			cache.WithStore[youtubechat.LiveSession](store),
			cache.WithStorePrefix[youtubechat.LiveSession]("yt:live:"))
	}
	// Identity lookups are never negatived: a missing handle is cheap to
	// retry, unlike a channel with no live stream.
	identities := cache.New[youtubechat.ChannelIdentity](6*time.Hour, 0, identityOpts...)
	liveSessions := cache.New[youtubechat.LiveSession](5*time.Minute, 2*time.Minute, sessionOpts...)

	var resolver *youtubechat.Resolver
	if cfg.HasYouTube() {
		svc, err := youtube.NewService(ctx, option.WithAPIKey(cfg.YouTubeAPIKey))
		if err != nil {
			slog.Error("youtube service init failed", slog.Any("err", err))
			os.Exit(1)
		}
		resolver = youtubechat.NewResolver(svc, identities, liveSessions)
	} else {
		slog.Info("YOUTUBE_API_KEY not set; YouTube channels will be rejected")
	}

	// Twitch badge manifests need an app access token (client credentials).
	// Without credentials chat still works anonymously and badge resolution
	// falls back to labels only.
	var badgeDir *twitchchat.BadgeDirectory
	if cfg.HasTwitchAppCreds() {
		cc := &clientcredentials.Config{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			TokenURL:     twitchTokenURL,
		}
		badgeDir = twitchchat.NewBadgeDirectory(cfg.TwitchClientID, cc.TokenSource(ctx))
	} else {
		slog.Info("twitch app credentials not set; badges resolve to labels only")
	}

	kickClient := &kickchat.Client{ClientToken: cfg.KickClientToken}

	factory := func(ref session.ChannelRef) (session.Adapter, error) {
		switch ref.Platform {
		case event.PlatformTwitch:
			return twitchchat.New(ref.Channel, badgeDir), nil
		case event.PlatformKick:
			return kickchat.New(ref.Channel, kickClient, cfg.KickBadgeDir, cfg.KickBadgeBase), nil
		case event.PlatformYouTube:
			if resolver == nil {
				return nil, fmt.Errorf("YouTube is not configured on this server")
			}
			handle := youtubechat.CanonicalHandle(ref.Channel)
			if handle == "" {
				return nil, fmt.Errorf("invalid YouTube channel %q", ref.Channel)
			}
			return youtubechat.New(handle, resolver), nil
		}
		return nil, fmt.Errorf("unsupported platform %q", ref.Platform)
	}

	tracker := session.NewTracker()
	sessions := session.New(factory, tracker, session.Options{
		QueueSize:      cfg.QueueSize,
		ResolveTimeout: cfg.ResolveTimeout,
	})

	// Linked-account tokens: read on /status, kept fresh in the background.
	accountsSvc := accounts.NewService(database)
	if cfg.HasTwitchAppCreds() {
		accountsSvc.StartRefresher(ctx, accounts.ProviderTwitch, 5*time.Minute, 15*time.Minute,
			accounts.OAuth2Refresh(&oauth2.Config{
				ClientID:     cfg.TwitchClientID,
				ClientSecret: cfg.TwitchClientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: twitchTokenURL},
			}))
	}
	if cfg.KickClientID != "" && cfg.KickClientSecret != "" {
		accountsSvc.StartRefresher(ctx, accounts.ProviderKick, 5*time.Minute, 15*time.Minute,
			accounts.OAuth2Refresh(&oauth2.Config{
				ClientID:     cfg.KickClientID,
				ClientSecret: cfg.KickClientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: kickTokenURL},
			}))
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
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

	handlers := server.NewHandlers(cfg, database, sessions, tracker, accountsSvc)
	slog.Info("starting http server", slog.String("addr", cfg.HTTPAddr))
	if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.DBDsn == "" {
		slog.Info("DB_DSN not set; running with in-memory caching only")
		return nil, nil
	}
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.Migrate(migrateCtx, database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return database, nil
}

// pruneLoop removes expired resolution cache rows hourly.
func pruneLoop(ctx context.Context, database *sql.DB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := db.PruneExpired(pruneCtx, database)
			cancel()
			if err != nil {
				slog.Warn("cache prune failed", slog.Any("err", err))
			} else if n > 0 {
				slog.Debug("cache pruned", slog.Int64("rows", n))
			}
		}
	}
}
