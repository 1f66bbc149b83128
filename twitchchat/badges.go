package twitchchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/sdingwan/combined-chat/event"
)

const defaultHelixBaseURL = "https://api.twitch.tv/helix"

// manifestRetryAfter is the wait before retrying a manifest fetch that
// failed. Without it a persistent Helix outage would turn every incoming
// message into a fresh upstream request.
const manifestRetryAfter = time.Minute

type badgeInfo struct {
	Title    string
	ImageURL string
}

// manifest maps set id -> version -> badge info.
type manifest map[string]map[string]badgeInfo

// BadgeDirectory resolves Twitch badge references to titles and image URLs
// using the Helix chat badge endpoints. The global manifest is fetched once
// per process and per-channel manifests once per broadcaster id; concurrent
// fetches for the same key are collapsed and failed fetches are retried at
// most once per manifestRetryAfter. Without Helix credentials the
// directory degrades to title-cased labels with no images.
type BadgeDirectory struct {
	ClientID    string
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
	BaseURL     string

	mu            sync.Mutex
	global        manifest
	globalLoaded  bool
	globalAttempt time.Time
	channels      map[string]manifest
	attempts      map[string]time.Time

	group singleflight.Group

	now func() time.Time // test hook
}

// NewBadgeDirectory returns a directory backed by the given Helix app
// credentials. tokenSource may be nil, in which case only fallback labels
// are produced.
func NewBadgeDirectory(clientID string, tokenSource oauth2.TokenSource) *BadgeDirectory {
	return &BadgeDirectory{
		ClientID:    clientID,
		TokenSource: tokenSource,
		channels:    make(map[string]manifest),
		attempts:    make(map[string]time.Time),
	}
}

func (d *BadgeDirectory) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *BadgeDirectory) enabled() bool {
	return d != nil && d.ClientID != "" && d.TokenSource != nil
}

func (d *BadgeDirectory) baseURL() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return defaultHelixBaseURL
}

func (d *BadgeDirectory) http() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Prime ensures the global manifest and the manifest for channelID are
// loaded, fetching them in the background when absent. It never blocks on
// the network and is safe to call on every message.
func (d *BadgeDirectory) Prime(ctx context.Context, channelID string) {
	if !d.enabled() {
		return
	}
	d.mu.Lock()
	now := d.clock()
	needGlobal := !d.globalLoaded && now.Sub(d.globalAttempt) >= manifestRetryAfter
	if needGlobal {
		d.globalAttempt = now
	}
	_, haveChannel := d.channels[channelID]
	needChannel := channelID != "" && !haveChannel && now.Sub(d.attempts[channelID]) >= manifestRetryAfter
	if needChannel {
		d.attempts[channelID] = now
	}
	d.mu.Unlock()

	if needGlobal {
		go d.loadGlobal(ctx)
	}
	if needChannel {
		go d.loadChannel(ctx, channelID)
	}
}

func (d *BadgeDirectory) loadGlobal(ctx context.Context) {
	_, _, _ = d.group.Do("global", func() (any, error) {
		d.mu.Lock()
		loaded := d.globalLoaded
		d.mu.Unlock()
		if loaded {
			return nil, nil
		}
		m, err := d.fetch(ctx, d.baseURL()+"/chat/badges/global")
		if err != nil {
			slog.Warn("global badge manifest fetch failed", slog.Any("err", err), slog.String("component", "twitch_badges"))
			return nil, err
		}
		d.mu.Lock()
		d.global = m
		d.globalLoaded = true
		d.mu.Unlock()
		return nil, nil
	})
}

func (d *BadgeDirectory) loadChannel(ctx context.Context, channelID string) {
	_, _, _ = d.group.Do("channel:"+channelID, func() (any, error) {
		d.mu.Lock()
		_, loaded := d.channels[channelID]
		d.mu.Unlock()
		if loaded {
			return nil, nil
		}
		m, err := d.fetch(ctx, d.baseURL()+"/chat/badges?broadcaster_id="+channelID)
		if err != nil {
			slog.Warn("channel badge manifest fetch failed", slog.String("channel_id", channelID), slog.Any("err", err), slog.String("component", "twitch_badges"))
			return nil, err
		}
		d.mu.Lock()
		d.channels[channelID] = m
		d.mu.Unlock()
		return nil, nil
	})
}

func (d *BadgeDirectory) fetch(ctx context.Context, url string) (manifest, error) {
	tok, err := d.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("app token: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", d.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := d.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("badge manifest request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			SetID    string `json:"set_id"`
			Versions []struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				ImageURL string `json:"image_url_4x"`
			} `json:"versions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	m := make(manifest, len(body.Data))
	for _, set := range body.Data {
		versions := make(map[string]badgeInfo, len(set.Versions))
		for _, v := range set.Versions {
			versions[v.ID] = badgeInfo{Title: v.Title, ImageURL: v.ImageURL}
		}
		m[set.SetID] = versions
	}
	return m, nil
}

// Resolve turns the ordered badge references of a message into Badge values,
// checking the channel manifest first and the global one second. Unknown
// references fall back to a title-cased set label with no image.
func (d *BadgeDirectory) Resolve(channelID string, refs []badgeRef) []event.Badge {
	if len(refs) == 0 {
		return nil
	}
	var channel, global manifest
	if d != nil {
		d.mu.Lock()
		channel = d.channels[channelID]
		global = d.global
		d.mu.Unlock()
	}
	out := make([]event.Badge, 0, len(refs))
	for _, ref := range refs {
		b := event.Badge{SetID: ref.SetID, Version: ref.Version, Title: titleCaseSet(ref.SetID)}
		if info, ok := lookup(channel, ref); ok {
			b.Title, b.ImageURL = info.Title, info.ImageURL
		} else if info, ok := lookup(global, ref); ok {
			b.Title, b.ImageURL = info.Title, info.ImageURL
		}
		out = append(out, b)
	}
	return out
}

func lookup(m manifest, ref badgeRef) (badgeInfo, bool) {
	if m == nil {
		return badgeInfo{}, false
	}
	versions, ok := m[ref.SetID]
	if !ok {
		return badgeInfo{}, false
	}
	info, ok := versions[ref.Version]
	return info, ok
}
