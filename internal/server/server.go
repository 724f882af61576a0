// Package server provides the HTTP surface of the sign detection demo.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/bisindo/internal/log"
	"github.com/ayusman/bisindo/internal/server/api"
	"github.com/ayusman/bisindo/internal/session"
	"github.com/ayusman/bisindo/internal/store"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Session is what the server needs from the session controller.
type Session interface {
	api.Session
	Subscriber
}

// Config holds the server configuration.
type Config struct {
	StaticDir     string
	ScreenshotDir string

	Session Session
	Store   *store.Store

	// Preview serves /api/stream, Signal serves /api/signal and Metrics
	// serves /metrics. Each is optional.
	Preview http.Handler
	Signal  http.Handler
	Metrics http.Handler
}

// Server is the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Session != nil {
		sessionHandler := api.NewSessionHandler(s.config.Session)
		s.mux.Handle("/api/session", sessionHandler)
		s.mux.Handle("/api/session/", sessionHandler)
		s.mux.Handle("/api/cameras", api.NewCamerasHandler(s.config.Session))
		s.mux.Handle("/api/snapshots", api.NewSnapshotsHandler(s.config.Session, s.config.Store))
		s.mux.Handle("/api/events", NewEventsHandler(s.config.Session))
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", s.config.Preview)
	}
	if s.config.Signal != nil {
		s.mux.Handle("/api/signal", s.config.Signal)
	}
	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics)
	}

	if s.config.ScreenshotDir != "" {
		fs := http.FileServer(http.Dir(s.config.ScreenshotDir))
		s.mux.Handle("/snapshots/", http.StripPrefix("/snapshots/", fs))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Session != nil {
		st := s.config.Session.Status()
		response["state"] = st.State
		response["cameras"] = len(st.Cameras)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	log.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
		srv.Close()
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Compile-time check that the controller satisfies Session.
var _ Session = (*session.Controller)(nil)
