package youtubechat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/youtube/v3"

	"github.com/sdingwan/combined-chat/cache"
)

// ErrNoLiveChat indicates the channel exists but has no active live chat.
var ErrNoLiveChat = errors.New("no active youtube live chat")

// ErrChannelNotFound indicates the handle resolved to no channel.
var ErrChannelNotFound = errors.New("youtube channel not found")

// ChannelIdentity is the long-lived part of a resolution: who the channel is.
type ChannelIdentity struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

// LiveSession is the short-lived part: the currently active live chat.
type LiveSession struct {
	LiveChatID string `json:"live_chat_id"`
	VideoID    string `json:"video_id"`
}

// Resolver answers "who is this handle" and "what is their live chat"
// through two TTL caches, so that concurrent sessions watching the same
// channel don't repeat quota-expensive lookups. It is shared process-wide.
type Resolver struct {
	svc        *youtube.Service
	identities *cache.TTLCache[ChannelIdentity]
	sessions   *cache.TTLCache[LiveSession]
}

func NewResolver(svc *youtube.Service, identities *cache.TTLCache[ChannelIdentity], sessions *cache.TTLCache[LiveSession]) *Resolver {
	return &Resolver{svc: svc, identities: identities, sessions: sessions}
}

// ChannelIdentity resolves a canonical handle to its channel id, title, and
// thumbnail. Results are cached under the handle and under "id:<channelID>".
func (r *Resolver) ChannelIdentity(ctx context.Context, handle string) (ChannelIdentity, error) {
	if cached, ok := r.identities.Get(ctx, handle); ok {
		return cached, nil
	}

	resp, err := r.svc.Channels.List([]string{"id", "snippet"}).
		ForHandle(strings.TrimPrefix(handle, "@")).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return ChannelIdentity{}, fmt.Errorf("youtube channels lookup: %w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == "" {
		return ChannelIdentity{}, fmt.Errorf("%w: %s", ErrChannelNotFound, handle)
	}

	item := resp.Items[0]
	identity := ChannelIdentity{ID: item.Id}
	if item.Snippet != nil {
		identity.Title = item.Snippet.Title
		identity.Thumbnail = bestThumbnail(item.Snippet.Thumbnails)
	}
	if identity.Title == "" {
		identity.Title = handle
	}
	r.identities.Put(ctx, handle, identity, "id:"+strings.ToLower(identity.ID))
	return identity, nil
}

// LiveSession finds the active live chat for a channel, via the session
// cache keyed by channel id with the handle as alias. Failed lookups are
// negative-marked so repeated subscribes don't burn quota.
func (r *Resolver) LiveSession(ctx context.Context, identity ChannelIdentity, handle string) (LiveSession, error) {
	key := strings.ToLower(identity.ID)
	if cached, ok := r.sessions.Get(ctx, key); ok {
		return cached, nil
	}
	if cached, ok := r.sessions.Get(ctx, handle); ok {
		return cached, nil
	}
	if r.sessions.Negatived(key) {
		return LiveSession{}, fmt.Errorf("%w for %q (recently checked)", ErrNoLiveChat, identity.Title)
	}

	session, err := r.fetchLiveSession(ctx, identity, handle)
	if err != nil {
		if errors.Is(err, ErrNoLiveChat) {
			r.sessions.NegativeMark(key)
		}
		return LiveSession{}, err
	}
	r.sessions.Put(ctx, key, session, handle)
	return session, nil
}

// InvalidateLiveSession drops the cached live chat for a channel, e.g.
// after the upstream reports it gone.
func (r *Resolver) InvalidateLiveSession(ctx context.Context, channelID, handle string) {
	r.sessions.Invalidate(ctx, strings.ToLower(channelID), handle)
}

func (r *Resolver) fetchLiveSession(ctx context.Context, identity ChannelIdentity, handle string) (LiveSession, error) {
	videoID, err := r.searchLiveVideo(ctx, identity.ID, handle)
	if err != nil {
		return LiveSession{}, err
	}
	if videoID == "" {
		return LiveSession{}, fmt.Errorf("%w for %q", ErrNoLiveChat, identity.Title)
	}

	resp, err := r.svc.Videos.List([]string{"liveStreamingDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return LiveSession{}, fmt.Errorf("youtube videos lookup: %w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].LiveStreamingDetails == nil ||
		resp.Items[0].LiveStreamingDetails.ActiveLiveChatId == "" {
		return LiveSession{}, fmt.Errorf("%w for %q", ErrNoLiveChat, identity.Title)
	}
	return LiveSession{
		LiveChatID: resp.Items[0].LiveStreamingDetails.ActiveLiveChatId,
		VideoID:    videoID,
	}, nil
}

// searchLiveVideo looks for a live video on the channel, then falls back to
// a plain query search on the handle (channel searches occasionally miss
// live streams).
func (r *Resolver) searchLiveVideo(ctx context.Context, channelID, handle string) (string, error) {
	resp, err := r.svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		Order("viewCount").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube live search: %w", err)
	}
	if id := firstVideoID(resp); id != "" {
		return id, nil
	}
	if handle == "" {
		return "", nil
	}

	resp, err = r.svc.Search.List([]string{"id"}).
		Q(handle).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube live search by query: %w", err)
	}
	return firstVideoID(resp), nil
}

func firstVideoID(resp *youtube.SearchListResponse) string {
	if resp == nil || len(resp.Items) == 0 || resp.Items[0].Id == nil {
		return ""
	}
	return resp.Items[0].Id.VideoId
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, candidate := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if candidate != nil && candidate.Url != "" {
			return candidate.Url
		}
	}
	return ""
}
