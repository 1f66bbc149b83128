// Package testutil provides shared test scaffolding: a TEST_PG_DSN-gated
// database helper and a scripted upstream HTTP server for API fakes.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ScriptedServer is a test server whose responses are scripted per path.
// Unscripted paths answer 404 so tests fail loudly on unexpected calls.
type ScriptedServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewScriptedServer creates a scripted server that is torn down with the test.
func NewScriptedServer(t *testing.T) *ScriptedServer {
	t.Helper()
	s := &ScriptedServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		handler, ok := s.handlers[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// Handle scripts a custom handler for path.
func (s *ScriptedServer) Handle(path string, handler http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[path] = handler
}

// RespondJSON scripts a fixed JSON response for path.
func (s *ScriptedServer) RespondJSON(path string, status int, body any) {
	s.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

// Hits returns how many times path was requested.
func (s *ScriptedServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}
