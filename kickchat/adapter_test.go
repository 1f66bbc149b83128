package kickchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sdingwan/combined-chat/event"
)

// fakePusher upgrades one websocket connection and exchanges frames with
// the test.
type fakePusher struct {
	srv      *httptest.Server
	inbound  chan []byte
	conn     chan *websocket.Conn
	upgrader websocket.Upgrader
}

func newFakePusher(t *testing.T) *fakePusher {
	t.Helper()
	p := &fakePusher{inbound: make(chan []byte, 32), conn: make(chan *websocket.Conn, 1)}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		p.conn <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(p.inbound)
				return
			}
			p.inbound <- msg
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePusher) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *fakePusher) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case conn := <-p.conn:
		p.conn <- conn
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection")
	}
}

func (p *fakePusher) expect(t *testing.T) []byte {
	t.Helper()
	select {
	case msg, ok := <-p.inbound:
		if !ok {
			t.Fatal("connection closed while waiting for frame")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func runningAdapter(t *testing.T, p *fakePusher) (chan event.Event, chan error, context.CancelFunc) {
	t.Helper()
	a := New("streamer", nil, "", "/static/badges/kick")
	a.WSURL = p.url()
	a.info = &ChannelInfo{Slug: "streamer", ChatroomID: 777, DisplayName: "Streamer"}
	a.badges = newBadgeResolver(a.info, "", "/static/badges/kick")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events := make(chan event.Event, 32)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, func(ev event.Event) { events <- ev }) }()
	return events, done, cancel
}

func TestAdapterSubscribeFlow(t *testing.T) {
	p := newFakePusher(t)
	events, _, _ := runningAdapter(t, p)

	p.send(t, `{"event":"pusher:connection_established","data":"{}"}`)
	var sub struct {
		Event string `json:"event"`
		Data  struct {
			Auth    string `json:"auth"`
			Channel string `json:"channel"`
		} `json:"data"`
	}
	if err := json.Unmarshal(p.expect(t), &sub); err != nil {
		t.Fatalf("subscribe frame not json: %v", err)
	}
	if sub.Event != "pusher:subscribe" || sub.Data.Channel != "chatrooms.777.v2" || sub.Data.Auth != "" {
		t.Fatalf("unexpected subscribe frame: %+v", sub)
	}

	// Duplicate acks produce exactly one connected status.
	p.send(t, `{"event":"pusher_internal:subscription_succeeded","data":"{}"}`)
	p.send(t, `{"event":"pusher_internal:subscription_succeeded","data":"{}"}`)

	ev := waitEvent(t, events)
	if ev.Kind != event.KindStatus || !strings.Contains(ev.Message, "Connected") {
		t.Fatalf("expected connected status, got %+v", ev)
	}
	select {
	case dup := <-events:
		t.Fatalf("duplicate ack produced second event: %+v", dup)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapterPongVerbatim(t *testing.T) {
	p := newFakePusher(t)
	runningAdapter(t, p)

	p.send(t, `{"event":"pusher:ping","data":{}}`)
	got := string(p.expect(t))
	if got != `{"event":"pusher:pong","data":{}}` {
		t.Fatalf("pong payload altered: %s", got)
	}
}

func TestAdapterChatMessage(t *testing.T) {
	p := newFakePusher(t)
	events, _, _ := runningAdapter(t, p)

	// Real Pusher frames carry the chat payload double-encoded.
	inner := `{"id":"m-9","content":"hello chat","sender":{"id":5,"username":"viewer","identity":{"color":"#fff","badges":[]}}}`
	frame, _ := json.Marshal(map[string]any{"event": `App\Events\ChatMessageEvent`, "data": inner})
	p.send(t, string(frame))

	ev := waitEvent(t, events)
	if ev.Kind != event.KindChat || ev.User != "viewer" || ev.Message != "hello chat" || ev.ID != "m-9" {
		t.Fatalf("unexpected chat event %+v", ev)
	}
	if ev.ChannelDisplayName != "Streamer" {
		t.Fatalf("channel enrichment missing: %+v", ev)
	}
}

func TestAdapterPusherError(t *testing.T) {
	p := newFakePusher(t)
	events, done, _ := runningAdapter(t, p)

	p.send(t, `{"event":"pusher:error","data":"{\"message\":\"over capacity\",\"code\":4100}"}`)
	ev := waitEvent(t, events)
	if ev.Kind != event.KindError || ev.Message != "Kick reported error: over capacity" {
		t.Fatalf("expected error event, got %+v", ev)
	}
	// The error is non-terminal: adapter keeps running.
	select {
	case err := <-done:
		t.Fatalf("adapter exited after pusher error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapterServerCloseReturnsError(t *testing.T) {
	p := newFakePusher(t)
	_, done, _ := runningAdapter(t, p)

	conn := <-p.conn
	conn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error on mid-stream close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not exit")
	}
}

func TestAdapterCancelCleanExit(t *testing.T) {
	p := newFakePusher(t)
	_, done, cancel := runningAdapter(t, p)

	// Make sure the connection is up before cancelling.
	p.send(t, `{"event":"pusher:ping","data":{}}`)
	p.expect(t)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not exit on cancel")
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
