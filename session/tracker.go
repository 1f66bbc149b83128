package session

import (
	"sync"

	"github.com/sdingwan/combined-chat/event"
	"github.com/sdingwan/combined-chat/telemetry"
)

// AdapterInfo describes one live adapter for status reporting.
type AdapterInfo struct {
	Platform event.Platform `json:"platform"`
	Channel  string         `json:"channel"`
}

// Tracker is the process-wide live set of sessions and adapters, feeding
// /status and the gauges. Handles are removed on every adapter exit path.
type Tracker struct {
	mu       sync.Mutex
	sessions int
	nextID   uint64
	adapters map[uint64]AdapterInfo
}

func NewTracker() *Tracker {
	return &Tracker{adapters: make(map[uint64]AdapterInfo)}
}

func (t *Tracker) addSession() {
	t.mu.Lock()
	t.sessions++
	n := t.sessions
	t.mu.Unlock()
	if telemetry.SessionsActive != nil {
		telemetry.SessionsActive.Set(float64(n))
	}
}

func (t *Tracker) removeSession() {
	t.mu.Lock()
	t.sessions--
	n := t.sessions
	t.mu.Unlock()
	if telemetry.SessionsActive != nil {
		telemetry.SessionsActive.Set(float64(n))
	}
}

func (t *Tracker) addAdapter(info AdapterInfo) uint64 {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.adapters[id] = info
	n := len(t.adapters)
	t.mu.Unlock()
	if telemetry.AdaptersActive != nil {
		telemetry.AdaptersActive.Set(float64(n))
	}
	return id
}

func (t *Tracker) removeAdapter(id uint64) {
	t.mu.Lock()
	delete(t.adapters, id)
	n := len(t.adapters)
	t.mu.Unlock()
	if telemetry.AdaptersActive != nil {
		telemetry.AdaptersActive.Set(float64(n))
	}
}

// Snapshot returns the current session count and live adapters.
func (t *Tracker) Snapshot() (int, []AdapterInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AdapterInfo, 0, len(t.adapters))
	for _, info := range t.adapters {
		out = append(out, info)
	}
	return t.sessions, out
}
