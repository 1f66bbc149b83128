package twitchchat

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sdingwan/combined-chat/event"
)

// fakeIRCServer accepts one connection, records inbound lines, and lets the
// test script outbound lines.
type fakeIRCServer struct {
	ln    net.Listener
	lines chan string
	conn  chan net.Conn
}

func newFakeIRCServer(t *testing.T) *fakeIRCServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeIRCServer{ln: ln, lines: make(chan string, 64), conn: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.conn <- conn
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(s.lines)
				return
			}
			s.lines <- strings.TrimRight(line, "\r\n")
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeIRCServer) expectLine(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.lines:
		if got != want && !strings.HasPrefix(got, want) {
			t.Fatalf("got line %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line %q", want)
	}
}

func (s *fakeIRCServer) send(t *testing.T, line string) {
	t.Helper()
	select {
	case conn := <-s.conn:
		s.conn <- conn
		if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
			t.Fatalf("server write: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
}

func collectEvents(buf chan event.Event) func(event.Event) {
	return func(ev event.Event) { buf <- ev }
}

func TestAdapterHandshakeAndChat(t *testing.T) {
	srv := newFakeIRCServer(t)
	a := New("somechannel", nil)
	a.Addr = srv.ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan event.Event, 16)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, collectEvents(events)) }()

	srv.expectLine(t, "CAP REQ :twitch.tv/tags twitch.tv/commands")
	srv.expectLine(t, "PASS SCHMOOPIIE")
	srv.expectLine(t, "NICK justinfan")
	srv.expectLine(t, "JOIN #somechannel")

	ev := waitEvent(t, events)
	if ev.Kind != event.KindStatus || !strings.Contains(ev.Message, "Connected") {
		t.Fatalf("expected connected status first, got %+v", ev)
	}

	srv.send(t, "@badge-info=;badges=moderator/1;color=#FF0000;display-name=Someone;emotes=25:0-4;id=msg-1;room-id=42;user-id=77 :someone!someone@someone.tmi.twitch.tv PRIVMSG #somechannel :Kappa hi")
	ev = waitEvent(t, events)
	if ev.Kind != event.KindChat {
		t.Fatalf("expected chat event, got %+v", ev)
	}
	if ev.User != "Someone" || ev.UserID != "77" || ev.Message != "Kappa hi" || ev.Color != "#FF0000" || ev.ID != "msg-1" {
		t.Fatalf("unexpected normalization: %+v", ev)
	}
	if len(ev.Emotes) != 1 || ev.Emotes[0].Name != "Kappa" {
		t.Fatalf("expected parsed emote, got %+v", ev.Emotes)
	}
	if len(ev.Badges) != 1 || ev.Badges[0].Title != "Moderator" {
		t.Fatalf("expected fallback badge, got %+v", ev.Badges)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not exit on cancel")
	}
}

func TestAdapterAnswersServerPing(t *testing.T) {
	srv := newFakeIRCServer(t)
	a := New("somechannel", nil)
	a.Addr = srv.ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan event.Event, 16)
	go a.Run(ctx, collectEvents(events))

	srv.expectLine(t, "CAP REQ")
	srv.expectLine(t, "PASS")
	srv.expectLine(t, "NICK")
	srv.expectLine(t, "JOIN")
	waitEvent(t, events) // connected status

	srv.send(t, "PING :tmi.twitch.tv")
	srv.expectLine(t, "PONG :tmi.twitch.tv")

	// A ping produces no client-facing event.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after ping: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapterIdleKeepalive(t *testing.T) {
	srv := newFakeIRCServer(t)
	a := New("somechannel", nil)
	a.Addr = srv.ln.Addr().String()
	a.IdleTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan event.Event, 16)
	go a.Run(ctx, collectEvents(events))

	srv.expectLine(t, "CAP REQ")
	srv.expectLine(t, "PASS")
	srv.expectLine(t, "NICK")
	srv.expectLine(t, "JOIN")

	// With no traffic, the adapter must send its own keepalive.
	srv.expectLine(t, "PING :keepalive")
}

func TestAdapterEOFReturnsError(t *testing.T) {
	srv := newFakeIRCServer(t)
	a := New("somechannel", nil)
	a.Addr = srv.ln.Addr().String()

	events := make(chan event.Event, 16)
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), collectEvents(events)) }()

	srv.expectLine(t, "CAP REQ")
	conn := <-srv.conn
	conn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error on mid-stream close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not exit on close")
	}
}

func TestAdapterDialFailure(t *testing.T) {
	a := New("somechannel", nil)
	a.Addr = "127.0.0.1:1" // nothing listens here
	err := a.Run(context.Background(), func(event.Event) {})
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestAdapterDropsEmptyMessages(t *testing.T) {
	a := New("somechannel", nil)
	srv := newFakeIRCServer(t)
	a.Addr = srv.ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan event.Event, 16)
	go a.Run(ctx, collectEvents(events))

	srv.expectLine(t, "CAP REQ")
	srv.expectLine(t, "PASS")
	srv.expectLine(t, "NICK")
	srv.expectLine(t, "JOIN")
	waitEvent(t, events) // connected status

	// Empty trailing message must be dropped, valid one delivered.
	srv.send(t, ":someone!someone@someone.tmi.twitch.tv PRIVMSG #somechannel :")
	srv.send(t, ":someone!someone@someone.tmi.twitch.tv PRIVMSG #somechannel :real")

	ev := waitEvent(t, events)
	if ev.Message != "real" {
		t.Fatalf("expected only the valid frame, got %+v", ev)
	}
}

func waitEvent(t *testing.T, events chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}
