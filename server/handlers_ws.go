package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sdingwan/combined-chat/event"
	"github.com/sdingwan/combined-chat/session"
	"github.com/sdingwan/combined-chat/telemetry"
)

// Application close codes sent before dropping a client that never got a
// session running.
const (
	closeInvalidFrame     = 4000 // no frame in time, or not valid JSON
	closeNotSubscribe     = 4001 // first frame's action is not "subscribe"
	closeNoChannels       = 4002 // subscribe named no channels at all
	closeNoValidChannels  = 4003 // every named channel failed resolution
	wsWriteTimeout        = 10 * time.Second
	closeHandshakeTimeout = 5 * time.Second
)

// The frontend is served from a different origin in every deployment mode,
// so the upgrader accepts any origin and CORS stays the browser's concern.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the client connection, waits a bounded time for the
// subscribe frame, and then streams the merged session until every adapter
// finishes or the client goes away.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "ws"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	req, ok := h.readSubscribe(conn, log)
	if !ok {
		return
	}
	refs := req.Channels(h.cfg.MaxChannels)
	if len(refs) == 0 {
		closeWith(conn, closeNoChannels, "subscribe named no channels")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// After the subscribe frame the client is write-only from our side; a
	// read error (close, network drop) ends the session.
	_ = conn.SetReadDeadline(time.Time{})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writer := &wsWriter{conn: conn}
	err = h.sessions.Run(ctx, refs, writer.write)
	if errors.Is(err, session.ErrNoValidChannels) {
		closeWith(conn, closeNoValidChannels, "no valid channels")
		return
	}
	if err != nil {
		log.Warn("session ended with error", slog.Any("err", err))
		return
	}
	closeWith(conn, websocket.CloseNormalClosure, "all channels finished")
}

// readSubscribe enforces the first-frame contract: one JSON subscribe frame
// within the configured window, or an application close code.
func (h *Handlers) readSubscribe(conn *websocket.Conn, log *slog.Logger) (session.SubscribeRequest, bool) {
	var req session.SubscribeRequest

	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.SubscribeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		closeWith(conn, closeInvalidFrame, "expected a subscribe frame")
		return req, false
	}
	if err := json.Unmarshal(data, &req); err != nil {
		log.Debug("invalid subscribe frame", slog.Any("err", err))
		closeWith(conn, closeInvalidFrame, "subscribe frame is not valid JSON")
		return req, false
	}
	if req.Action != "subscribe" {
		closeWith(conn, closeNotSubscribe, "first frame must be a subscribe action")
		return req, false
	}
	return req, true
}

// closeWith starts the close handshake with an application close code. The
// peer may already be gone; errors are ignored.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeHandshakeTimeout))
}

// wsWriter serializes events onto one connection. The session forwarder is
// a single goroutine, but close frames and future control writes share the
// connection, so writes stay mutex-guarded and deadline-bounded.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(ev event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(ev)
}
