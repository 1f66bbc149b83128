// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup: without any
// platform credentials the server still serves anonymous Twitch IRC and Kick chat; YouTube
// polling additionally requires YOUTUBE_API_KEY.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// Database. Empty disables the durable cache store and linked-account
	// lookups; the service then runs with in-memory caching only.
	DBDsn string

	// Subscription limits
	MaxChannels      int
	QueueSize        int
	SubscribeTimeout time.Duration
	ResolveTimeout   time.Duration

	// Twitch app credentials (badge manifest + user id lookup via Helix).
	// Optional: without them badge resolution falls back to labels only.
	TwitchClientID     string
	TwitchClientSecret string

	// Kick
	KickClientToken string
	KickBadgeDir    string
	KickBadgeBase   string

	// YouTube Data API
	YouTubeAPIKey string

	// Linked-account OAuth clients (token refresh only; the authorization
	// code flows live outside this service).
	KickClientID     string
	KickClientSecret string
}

// Load reads environment variables and applies defaults. Missing optional
// variables disable features rather than failing the load.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8000"
	}

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.MaxChannels = intEnv("MAX_CHANNELS", 10)
	if cfg.MaxChannels <= 0 {
		return nil, fmt.Errorf("MAX_CHANNELS must be positive")
	}
	cfg.QueueSize = intEnv("EVENT_QUEUE_SIZE", 256)
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("EVENT_QUEUE_SIZE must be positive")
	}

	var err error
	if cfg.SubscribeTimeout, err = durationEnv("SUBSCRIBE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ResolveTimeout, err = durationEnv("RESOLVE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.KickClientToken = os.Getenv("KICK_CLIENT_TOKEN")
	cfg.KickBadgeDir = os.Getenv("KICK_BADGE_DIR")
	if cfg.KickBadgeDir == "" {
		cfg.KickBadgeDir = "static/badges/kick"
	}
	cfg.KickBadgeBase = os.Getenv("KICK_BADGE_BASE")
	if cfg.KickBadgeBase == "" {
		cfg.KickBadgeBase = "/static/badges/kick"
	}

	cfg.YouTubeAPIKey = os.Getenv("YOUTUBE_API_KEY")

	cfg.KickClientID = os.Getenv("KICK_CLIENT_ID")
	cfg.KickClientSecret = os.Getenv("KICK_CLIENT_SECRET")

	return cfg, nil
}

// HasYouTube reports whether YouTube polling can run at all.
func (c *Config) HasYouTube() bool { return c.YouTubeAPIKey != "" }

// HasTwitchAppCreds reports whether Helix badge-manifest lookups are possible.
func (c *Config) HasTwitchAppCreds() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
