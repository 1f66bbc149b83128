package youtubechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"

	"github.com/sdingwan/combined-chat/event"
	"github.com/sdingwan/combined-chat/telemetry"
)

const (
	defaultPollInterval = 2500 * time.Millisecond
	minPollInterval     = 1 * time.Second
	maxPollInterval     = 30 * time.Second
	pollCallTimeout     = 10 * time.Second
	dedupCapacity       = 5000
	maxPageResults      = 200
)

// Adapter polls one channel's live chat. The Resolver is shared; the seen
// set and any paging state are per-adapter.
type Adapter struct {
	handle   string
	resolver *Resolver

	identity ChannelIdentity
	session  LiveSession
	resolved bool
	seen     *dedupSet
}

// New returns an adapter for the given canonical handle.
func New(handle string, resolver *Resolver) *Adapter {
	return &Adapter{handle: handle, resolver: resolver, seen: newDedupSet(dedupCapacity)}
}

func (a *Adapter) Platform() event.Platform { return event.PlatformYouTube }
func (a *Adapter) Channel() string          { return a.handle }

// Resolve pins down the channel identity and its active live chat. Both go
// through the shared caches.
func (a *Adapter) Resolve(ctx context.Context) error {
	identity, err := a.resolver.ChannelIdentity(ctx, a.handle)
	if err != nil {
		return fmt.Errorf("youtube channel lookup failed: %w", err)
	}
	session, err := a.resolver.LiveSession(ctx, identity, a.handle)
	if err != nil {
		return err
	}
	a.identity, a.session, a.resolved = identity, session, true
	return nil
}

// Run polls liveChatMessages until the chat ends, the quota runs out, or
// the context is cancelled. The poll interval follows the server's
// pollingIntervalMillis, clamped.
func (a *Adapter) Run(ctx context.Context, emit func(event.Event)) error {
	if !a.resolved {
		if err := a.Resolve(ctx); err != nil {
			return err
		}
	}
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("platform", "youtube"),
		slog.String("channel", a.handle),
		slog.String("component", "youtube_chat"),
	)

	emit(event.Status(event.PlatformYouTube, a.handle, "Connected to YouTube chat for "+a.identity.Title))
	log.Info("youtube live chat polling started", slog.String("live_chat_id", a.session.LiveChatID))

	interval := defaultPollInterval
	pageToken := ""
	for {
		resp, err := a.poll(ctx, pageToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var gerr *googleapi.Error
			if errors.As(err, &gerr) {
				switch gerr.Code {
				case http.StatusForbidden:
					return errors.New("YouTube API quota exceeded or access denied")
				case http.StatusNotFound, http.StatusGone:
					a.resolver.InvalidateLiveSession(ctx, a.identity.ID, a.handle)
					emit(event.Status(event.PlatformYouTube, a.handle, "YouTube live chat ended"))
					log.Info("youtube live chat ended")
					return nil
				}
			}
			log.Warn("youtube chat request failed", slog.Any("err", err))
			if !sleepCtx(ctx, interval) {
				return nil
			}
			continue
		}

		for _, item := range resp.Items {
			if ev, ok := a.normalize(item); ok {
				emit(ev)
			}
		}
		pageToken = resp.NextPageToken
		if resp.PollingIntervalMillis > 0 {
			interval = clampInterval(time.Duration(resp.PollingIntervalMillis) * time.Millisecond)
		}
		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
}

func (a *Adapter) poll(ctx context.Context, pageToken string) (*youtube.LiveChatMessageListResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, pollCallTimeout)
	defer cancel()
	call := a.resolver.svc.LiveChatMessages.List(a.session.LiveChatID, []string{"snippet", "authorDetails"}).
		MaxResults(maxPageResults).
		Context(callCtx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

// normalize converts a liveChatMessage to an event. Only text messages and
// super chats pass; repeated ids and blank display text are dropped.
func (a *Adapter) normalize(item *youtube.LiveChatMessage) (event.Event, bool) {
	if item == nil || item.Snippet == nil || item.AuthorDetails == nil {
		return event.Event{}, false
	}
	if a.seen.Seen(item.Id) {
		return event.Event{}, false
	}
	snippet := item.Snippet
	if snippet.Type != "textMessageEvent" && snippet.Type != "superChatEvent" {
		return event.Event{}, false
	}

	text := snippet.DisplayMessage
	if snippet.Type == "superChatEvent" && snippet.SuperChatDetails != nil {
		if comment := strings.TrimSpace(snippet.SuperChatDetails.UserComment); comment != "" {
			text = snippet.SuperChatDetails.UserComment
		}
	}
	if strings.TrimSpace(text) == "" {
		return event.Event{}, false
	}

	author := item.AuthorDetails
	name := author.DisplayName
	if name == "" {
		name = "YouTube User"
	}

	ev := event.Event{
		Platform:            event.PlatformYouTube,
		Kind:                event.KindChat,
		Channel:             a.handle,
		User:                name,
		UserID:              author.ChannelId,
		Message:             text,
		Avatar:              author.ProfileImageUrl,
		ID:                  item.Id,
		Badges:              authorBadges(author),
		ChannelProfileImage: a.identity.Thumbnail,
		ChannelDisplayName:  a.identity.Title,
	}
	return ev, ev.ValidChat()
}

func authorBadges(author *youtube.LiveChatMessageAuthorDetails) []event.Badge {
	var out []event.Badge
	for _, flag := range []struct {
		set   bool
		title string
	}{
		{author.IsChatOwner, "Owner"},
		{author.IsChatModerator, "Moderator"},
		{author.IsChatSponsor, "Sponsor"},
		{author.IsVerified, "Verified"},
	} {
		if flag.set {
			out = append(out, event.Badge{SetID: "youtube", Version: strings.ToLower(flag.title), Title: flag.title})
		}
	}
	return out
}

func clampInterval(d time.Duration) time.Duration {
	if d < minPollInterval {
		return minPollInterval
	}
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
