package server

import (
	"encoding/json"
	"net/http"

	"github.com/sdingwan/combined-chat/session"
)

// statusResponse is the /status payload: live session/adapter counts plus
// which optional platform integrations this instance can actually use.
type statusResponse struct {
	Sessions int                   `json:"sessions"`
	Adapters []session.AdapterInfo `json:"adapters"`

	// Platform configuration presence. Twitch and Kick chat work
	// anonymously; the flags below cover the optional enrichments.
	Platforms struct {
		YouTube      bool `json:"youtube"`
		TwitchBadges bool `json:"twitch_badges"`
	} `json:"platforms"`

	LinkedAccounts map[string]bool `json:"linked_accounts"`
}

// HandleStatus returns a lightweight status summary.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp statusResponse
	resp.Sessions, resp.Adapters = h.tracker.Snapshot()
	if resp.Adapters == nil {
		resp.Adapters = []session.AdapterInfo{}
	}
	resp.Platforms.YouTube = h.cfg.HasYouTube()
	resp.Platforms.TwitchBadges = h.cfg.HasTwitchAppCreds()
	resp.LinkedAccounts = h.accounts.Linked(r.Context())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
