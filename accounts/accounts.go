// Package accounts exposes linked platform credentials stored in the
// oauth_tokens table and keeps them fresh. The authorization code flows that
// create the rows live outside this service; here we only read tokens and
// refresh them before expiry. Without a database the service degrades to
// "nothing linked" rather than failing.
package accounts

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sdingwan/combined-chat/db"
)

// Providers with linkable accounts.
const (
	ProviderTwitch = "twitch"
	ProviderKick   = "kick"
)

// Credential is one linked account's current token state.
type Credential struct {
	Provider    string
	AccessToken string
	ExpiresAt   time.Time
	Scope       string
}

// Valid reports whether the credential holds a usable, unexpired token.
func (c Credential) Valid() bool {
	return c.AccessToken != "" && (c.ExpiresAt.IsZero() || time.Now().Before(c.ExpiresAt))
}

// Service reads and refreshes linked credentials. A nil database is allowed
// and makes every lookup report no linked account.
type Service struct {
	db *sql.DB
}

func NewService(dbx *sql.DB) *Service {
	return &Service{db: dbx}
}

// Current returns the stored credential for provider. ok is false when no
// account is linked or no database is configured; err is reserved for real
// lookup failures.
func (s *Service) Current(ctx context.Context, provider string) (Credential, bool, error) {
	if s == nil || s.db == nil {
		return Credential{}, false, nil
	}
	access, _, expiry, scope, err := db.GetOAuthToken(ctx, s.db, provider)
	if err != nil {
		return Credential{}, false, err
	}
	if access == "" {
		return Credential{}, false, nil
	}
	return Credential{Provider: provider, AccessToken: access, ExpiresAt: expiry, Scope: scope}, true, nil
}

// Linked reports which of the known providers currently have a stored
// credential. Lookup failures count as not linked.
func (s *Service) Linked(ctx context.Context) map[string]bool {
	out := map[string]bool{ProviderTwitch: false, ProviderKick: false}
	for provider := range out {
		if _, ok, err := s.Current(ctx, provider); err == nil && ok {
			out[provider] = true
		}
	}
	return out
}

// RefreshFunc performs provider-specific refresh and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// OAuth2Refresh builds a RefreshFunc on top of a standard oauth2 client
// config (token endpoint plus client credentials).
func OAuth2Refresh(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		scope, _ := tok.Extra("scope").(string)
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, scope, nil
	}
}

// StartRefresher launches a goroutine that periodically checks the provider's
// token row and refreshes it when remaining lifetime falls within window.
// Jitter on every sleep spreads load across instances sharing a database.
// It is a no-op without a database.
func (s *Service) StartRefresher(ctx context.Context, provider string, interval, window time.Duration, fn RefreshFunc) {
	if s == nil || s.db == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			s.refreshOnce(ctx, provider, window, fn)
		}
	}()
}

func (s *Service) refreshOnce(ctx context.Context, provider string, window time.Duration, fn RefreshFunc) {
	_, rt, exp, scope, err := db.GetOAuthToken(ctx, s.db, provider)
	if err != nil || rt == "" {
		return
	}
	if time.Until(exp) > window {
		return
	}
	// Small pre-refresh jitter to avoid stampedes when many pods see the
	// same expiry.
	//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
	pre := time.Duration(rand.Int63n(int64(5 * time.Second)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(pre):
	}
	refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(refreshCtx, rt)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, s.db, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", provider))
}
