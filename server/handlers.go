// Package server HTTP handler dependencies.
package server

import (
	"database/sql"

	"github.com/sdingwan/combined-chat/accounts"
	"github.com/sdingwan/combined-chat/config"
	"github.com/sdingwan/combined-chat/session"
)

// Handlers holds dependencies for all HTTP handlers. The database is
// optional; readiness and linked-account reporting degrade without it.
type Handlers struct {
	cfg      *config.Config
	db       *sql.DB
	sessions *session.Session
	tracker  *session.Tracker
	accounts *accounts.Service
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(cfg *config.Config, dbx *sql.DB, sessions *session.Session, tracker *session.Tracker, accts *accounts.Service) *Handlers {
	return &Handlers{
		cfg:      cfg,
		db:       dbx,
		sessions: sessions,
		tracker:  tracker,
		accounts: accts,
	}
}
