// Package kickchat streams a Kick channel's chat over the public Pusher
// websocket and normalizes messages into events.
package kickchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://kick.com/api/v2"

const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5_0) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"

// ErrChannelNotFound indicates the channel slug does not exist on Kick.
var ErrChannelNotFound = errors.New("kick channel not found")

type subscriberAsset struct {
	ImageURL string
	Title    string
}

// ChannelInfo is the result of resolving a Kick channel: the chatroom to
// subscribe to plus presentation metadata.
type ChannelInfo struct {
	Slug             string
	ChatroomID       int64
	DisplayName      string
	ProfileImage     string
	SubscriberBadges map[int]subscriberAsset
}

// Client resolves Kick channels through the public v2 API. The endpoint
// expects browser-like headers; an optional client token is forwarded when
// configured.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	ClientToken string
}

// Slug normalizes a channel name to Kick's URL form: lowercased with
// underscores replaced by dashes.
func Slug(channel string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(channel)), "_", "-")
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultAPIBase
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// GetChannel fetches chatroom id, channel profile, and the subscriber badge
// table for a channel. A 404 maps to ErrChannelNotFound; any other non-200
// is a transient failure.
func (c *Client) GetChannel(ctx context.Context, channel string) (*ChannelInfo, error) {
	slug := Slug(channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/channels/"+slug, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", "https://kick.com/"+slug)
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Accept", "application/json")
	if c.ClientToken != "" {
		req.Header.Set("X-CLIENT-TOKEN", c.ClientToken)
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("kick channel lookup: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, slug)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("kick channel lookup returned status %d for %q: %s", resp.StatusCode, slug, string(b))
	}

	var body struct {
		Chatroom struct {
			ID int64 `json:"id"`
		} `json:"chatroom"`
		User struct {
			Username   string `json:"username"`
			ProfilePic string `json:"profile_pic"`
		} `json:"user"`
		SubscriberBadges []struct {
			Months     int    `json:"months"`
			Text       string `json:"text"`
			BadgeImage struct {
				Src string `json:"src"`
			} `json:"badge_image"`
		} `json:"subscriber_badges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("kick channel lookup response was not valid JSON: %w", err)
	}
	if body.Chatroom.ID == 0 {
		return nil, fmt.Errorf("kick channel lookup response missing chatroom id for %q", slug)
	}

	info := &ChannelInfo{
		Slug:             slug,
		ChatroomID:       body.Chatroom.ID,
		DisplayName:      strings.TrimSpace(body.User.Username),
		ProfileImage:     strings.TrimSpace(body.User.ProfilePic),
		SubscriberBadges: make(map[int]subscriberAsset),
	}
	if info.DisplayName == "" {
		info.DisplayName = slug
	}
	for _, b := range body.SubscriberBadges {
		if b.BadgeImage.Src == "" {
			continue
		}
		info.SubscriberBadges[b.Months] = subscriberAsset{ImageURL: b.BadgeImage.Src, Title: "Subscriber"}
	}
	return info, nil
}
