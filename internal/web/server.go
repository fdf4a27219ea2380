// Package web exposes the detector's live occlusion state over HTTP: an
// auto-refreshing page for people, index.json for scripts and healthz for
// supervisors that restart a stopped detector.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/sweeney/occlusion-sensor/internal/status"
)

// Server renders status.Tracker snapshots. It never writes to the tracker.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New builds a Server on addr. Every request takes a fresh snapshot, so a
// page always shows the detector's state at the time it was served.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	for path, h := range map[string]http.HandlerFunc{
		"/":           s.handlePage,
		"/index.html": s.handlePage,
		"/index.json": s.handleJSON,
		"/healthz":    s.handleHealth,
	} {
		mux.Handle(path, readOnly(h))
	}

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the route table, for mounting under httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// readOnly rejects anything but GET and HEAD and stops caches from serving
// a stale occlusion state.
func readOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		next(w, r)
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	// "/" is the mux fallback for every unknown path
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// handleHealth answers 200 while the monitor is polling and 503 after it
// was stopped, whether by a control command or a failed start.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.tracker.Snapshot().Running {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("stopped\n"))
		return
	}
	w.Write([]byte("ok\n"))
}
