// Package gatewaytest runs the reference backend in-process for tests.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mmynk/splitwithme/internal/api"
	"github.com/mmynk/splitwithme/internal/backend"
	"github.com/mmynk/splitwithme/internal/storage"
	"github.com/mmynk/splitwithme/internal/storage/sqlite"
)

// Server is a running reference backend with an empty database.
type Server struct {
	*httptest.Server

	// Store is the backend's storage, for seeding and inspecting state.
	Store storage.Store

	mu       sync.Mutex
	faults   []*fault
	requests []string
}

type fault struct {
	method  string
	pattern string
	status  int
	skip    int
	times   int
	spent   bool
}

// NewServer starts a backend over a fresh SQLite database in t.TempDir.
// Everything is torn down when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "backend.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	s := &Server{Store: store}
	router := backend.New(store).Router()
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		if status, ok := s.injected(r); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(api.ErrorResponse{Detail: http.StatusText(status)})
			return
		}
		router.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		s.Close()
		store.Close()
	})
	return s
}

// FailOn makes requests matching method and pattern (a path.Match pattern
// such as "/expenses/*/friends/*") answer with status instead of reaching
// the backend. The first skip matches pass through; after that, times
// matches fail. times <= 0 means every later match fails.
func (s *Server) FailOn(method, pattern string, status, skip, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{method: method, pattern: pattern, status: status, skip: skip, times: times})
}

// ClearFaults removes all injected failures.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
}

func (s *Server) injected(r *http.Request) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.faults {
		if f.method != r.Method {
			continue
		}
		if ok, _ := path.Match(f.pattern, r.URL.Path); !ok {
			continue
		}
		if f.skip > 0 {
			f.skip--
			continue
		}
		if f.spent {
			continue
		}
		if f.times > 0 {
			f.times--
			f.spent = f.times == 0
		}
		return f.status, true
	}
	return 0, false
}
