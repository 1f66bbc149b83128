package kickchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sdingwan/combined-chat/event"
	"github.com/sdingwan/combined-chat/telemetry"
)

const (
	defaultWSURL = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=7.6.0&flash=false"

	chatMessageEvent = `App\Events\ChatMessageEvent`
	pongPayload      = `{"event":"pusher:pong","data":{}}`

	dialWait  = 15 * time.Second
	readWait  = 180 * time.Second
	writeWait = 10 * time.Second
)

// Adapter streams one Kick channel. Resolve must succeed before Run can
// subscribe; a failed resolution is the only per-channel validity signal
// Kick offers.
type Adapter struct {
	channel  string
	client   *Client
	assetDir string
	webBase  string

	// WSURL overrides the Pusher endpoint (tests).
	WSURL string

	info   *ChannelInfo
	badges *badgeResolver
}

// New returns an adapter for the given (already normalized) channel name.
// assetDir/webBase locate the local global-badge images.
func New(channel string, client *Client, assetDir, webBase string) *Adapter {
	return &Adapter{channel: channel, client: client, assetDir: assetDir, webBase: webBase}
}

func (a *Adapter) Platform() event.Platform { return event.PlatformKick }
func (a *Adapter) Channel() string          { return a.channel }

// Resolve looks the channel up through the v2 API, caching the chatroom id,
// profile metadata, and subscriber badge table on the adapter.
func (a *Adapter) Resolve(ctx context.Context) error {
	info, err := a.client.GetChannel(ctx, a.channel)
	if err != nil {
		return fmt.Errorf("kick channel lookup failed: %w", err)
	}
	a.info = info
	a.badges = newBadgeResolver(info, a.assetDir, a.webBase)
	return nil
}

func (a *Adapter) wsURL() string {
	if a.WSURL != "" {
		return a.WSURL
	}
	return defaultWSURL
}

// Run connects to the Pusher endpoint, subscribes to the chatroom, and
// emits normalized events until the context is cancelled or the connection
// fails. It does not retry.
func (a *Adapter) Run(ctx context.Context, emit func(event.Event)) error {
	if a.info == nil {
		if err := a.Resolve(ctx); err != nil {
			return err
		}
	}
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("platform", "kick"),
		slog.String("channel", a.channel),
		slog.String("component", "kick_chat"),
	)

	dialCtx, cancel := context.WithTimeout(ctx, dialWait)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, a.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("kick connection failed: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the session is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	log.Info("kick pusher connected")
	channelName := fmt.Sprintf("chatrooms.%d.v2", a.info.ChatroomID)
	subscribed := false

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kick websocket closed: %w", err)
		}

		var frame pusherFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			telemetry.CountDropped(string(event.PlatformKick))
			log.Debug("invalid json from kick websocket", slog.String("raw", string(raw)))
			continue
		}

		switch frame.Event {
		case "pusher:connection_established":
			sub := map[string]any{
				"event": "pusher:subscribe",
				"data":  map[string]string{"auth": "", "channel": channelName},
			}
			if err := a.writeJSON(conn, sub); err != nil {
				return fmt.Errorf("kick subscribe: %w", err)
			}
		case "pusher_internal:subscription_succeeded":
			if !subscribed {
				subscribed = true
				emit(event.Status(event.PlatformKick, a.channel, "Connected to Kick chat for "+a.channel))
			}
		case "pusher:ping":
			if err := a.writeText(conn, pongPayload); err != nil {
				return fmt.Errorf("kick pong: %w", err)
			}
		case chatMessageEvent:
			data, ok := decodeFrameData(frame.Data)
			if !ok {
				telemetry.CountDropped(string(event.PlatformKick))
				log.Debug("unable to decode kick chat payload")
				continue
			}
			ev, ok := parseChatMessage(data, a.channel, a.info, a.badges)
			if !ok || !ev.ValidChat() {
				telemetry.CountDropped(string(event.PlatformKick))
				continue
			}
			emit(ev)
		case "pusher:error":
			emit(event.Error(event.PlatformKick, a.channel, "Kick reported error: "+errorText(frame.Data)))
		}
	}
}

func (a *Adapter) writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (a *Adapter) writeText(conn *websocket.Conn, payload string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}
