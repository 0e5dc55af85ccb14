package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/service"
)

// StatusSource provides the latest poll status.
type StatusSource interface {
	Status() service.Status
}

// Server exposes the daemon state over HTTP
type Server struct {
	source   StatusSource
	addr     string
	interval time.Duration
	started  time.Time
}

// HealthResponse represents the JSON response for the health endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
	Uptime    string    `json:"uptime"`
}

// New creates a status server. interval is the poll interval used to decide
// whether the loop is stalled.
func New(source StatusSource, addr string, interval time.Duration) *Server {
	return &Server{
		source:   source,
		addr:     addr,
		interval: interval,
		started:  time.Now(),
	}
}

// Handler returns the routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	slog.Info("Starting status server", "url", fmt.Sprintf("http://%s/status", ln.Addr()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
}

// handleStatus returns the controller state after the last poll
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, s.source.Status())
}

// handleHealth reports unhealthy when the audio server query fails or the
// loop has not polled for several intervals
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	st := s.source.Status()
	resp := HealthResponse{
		Status:    "ok",
		LastPoll:  st.LastPoll,
		LastError: st.LastError,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}

	code := http.StatusOK
	switch {
	case st.LastError != "":
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	case st.LastPoll.IsZero() || time.Since(st.LastPoll) > 5*s.interval:
		resp.Status = "stalled"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, resp)
}
