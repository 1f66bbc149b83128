// Package twitchchat streams a Twitch channel's chat over the anonymous IRC
// gateway and normalizes messages into events.
package twitchchat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/sdingwan/combined-chat/event"
	"github.com/sdingwan/combined-chat/telemetry"
)

const (
	defaultIRCAddr     = "irc.chat.twitch.tv:6667"
	defaultIdleTimeout = 300 * time.Second
	pongWait           = 30 * time.Second
	dialTimeout        = 10 * time.Second
	writeTimeout       = 10 * time.Second
)

// Adapter connects to one Twitch channel as an anonymous (justinfan) user.
// It owns the dial, handshake, and keep-alive; record decoding is delegated
// to the go-twitch-irc parser.
type Adapter struct {
	channel string
	badges  *BadgeDirectory

	// Addr overrides the IRC endpoint (tests).
	Addr string
	// IdleTimeout is the silent-read window before a keep-alive ping.
	IdleTimeout time.Duration
}

// New returns an adapter for the given (already normalized) channel login.
// badges may be nil.
func New(channel string, badges *BadgeDirectory) *Adapter {
	return &Adapter{channel: channel, badges: badges}
}

func (a *Adapter) Platform() event.Platform { return event.PlatformTwitch }
func (a *Adapter) Channel() string          { return a.channel }

// Resolve is a no-op: the IRC gateway accepts any channel name and reports
// nothing for dead ones, so there is no upstream identity to verify.
func (a *Adapter) Resolve(ctx context.Context) error { return nil }

func (a *Adapter) addr() string {
	if a.Addr != "" {
		return a.Addr
	}
	return defaultIRCAddr
}

func (a *Adapter) idle() time.Duration {
	if a.IdleTimeout > 0 {
		return a.IdleTimeout
	}
	return defaultIdleTimeout
}

// Run connects, joins the channel, and emits normalized events until the
// context is cancelled or the connection fails. It does not retry.
func (a *Adapter) Run(ctx context.Context, emit func(event.Event)) error {
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("platform", "twitch"),
		slog.String("channel", a.channel),
		slog.String("component", "twitch_chat"),
	)

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", a.addr())
	if err != nil {
		return fmt.Errorf("dial twitch irc: %w", err)
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

	nick := fmt.Sprintf("justinfan%d", 10000+rand.Intn(90000))
	handshake := []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS SCHMOOPIIE",
		"NICK " + nick,
		"JOIN #" + a.channel,
	}
	for _, line := range handshake {
		if err := writeLine(conn, line); err != nil {
			return fmt.Errorf("irc handshake: %w", err)
		}
	}

	emit(event.Status(event.PlatformTwitch, a.channel, "Connected to Twitch chat"))
	log.Info("twitch chat connected")

	reader := bufio.NewReader(conn)
	pinged := false
	for {
		deadline := a.idle()
		if pinged {
			deadline = pongWait
		}
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() && !pinged {
				if werr := writeLine(conn, "PING :keepalive"); werr != nil {
					return fmt.Errorf("keepalive ping: %w", werr)
				}
				pinged = true
				continue
			}
			return fmt.Errorf("irc read: %w", err)
		}
		pinged = false
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if err := a.handleLine(conn, line, emit, log); err != nil {
			return err
		}
	}
}

func (a *Adapter) handleLine(conn net.Conn, line string, emit func(event.Event), log *slog.Logger) error {
	switch msg := twitch.ParseMessage(line).(type) {
	case *twitch.PingMessage:
		// Same token back, role swapped.
		return writeLine(conn, "PONG :"+msg.Message)
	case *twitch.PrivateMessage:
		ev, ok := a.normalize(msg)
		if !ok {
			telemetry.CountDropped(string(event.PlatformTwitch))
			log.Debug("dropped irc frame without user or message")
			return nil
		}
		emit(ev)
	}
	return nil
}

// normalize converts a PRIVMSG to an event. Frames missing a user or
// message text are reported invalid and never emitted.
func (a *Adapter) normalize(msg *twitch.PrivateMessage) (event.Event, bool) {
	user := msg.User.DisplayName
	if user == "" {
		user = msg.User.Name
	}
	ev := event.Event{
		Platform: event.PlatformTwitch,
		Kind:     event.KindChat,
		Channel:  a.channel,
		User:     user,
		UserID:   msg.User.ID,
		Message:  msg.Message,
		Color:    msg.User.Color,
		ID:       msg.ID,
		Emotes:   parseEmoteTag(msg.Tags["emotes"], msg.Message),
		Badges:   a.resolveBadges(msg),
		Reply:    replyFromTags(msg.Tags),
	}
	if !ev.ValidChat() {
		return event.Event{}, false
	}
	return ev, true
}

func (a *Adapter) resolveBadges(msg *twitch.PrivateMessage) []event.Badge {
	refs := parseBadgeTag(msg.Tags["badges"])
	if len(refs) == 0 {
		return nil
	}
	channelID := msg.Tags["room-id"]
	if a.badges != nil {
		a.badges.Prime(context.Background(), channelID)
	}
	return a.badges.Resolve(channelID, refs)
}

func replyFromTags(tags map[string]string) *event.Reply {
	id := tags["reply-parent-msg-id"]
	if id == "" {
		return nil
	}
	user := tags["reply-parent-display-name"]
	if user == "" {
		user = tags["reply-parent-user-login"]
	}
	return &event.Reply{
		MessageID: id,
		User:      user,
		UserID:    tags["reply-parent-user-id"],
		Message:   tags["reply-parent-msg-body"],
	}
}

func writeLine(conn net.Conn, line string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}
