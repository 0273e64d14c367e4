// Package health hosts the liveness HTTP surface and the outbound self-ping
// used by platform keep-alive.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/vigil-mon/vigil/internal/alert"
)

// ServerConfig configures the liveness server.
type ServerConfig struct {
	Port       int
	AppName    string
	AppVersion string

	// AdminToken guards GET /stats; empty disables the endpoint.
	AdminToken string

	// Diagnostics supplies the /stats payload. Nil yields an empty object.
	Diagnostics func() map[string]any
}

// Server is the embedded liveness endpoint set: /, /ping, /health, /status,
// and the token-guarded /stats.
type Server struct {
	cfg      ServerConfig
	srv      *http.Server
	ln       net.Listener
	started  time.Time
	requests *xsync.Counter
}

// NewServer builds the server without binding the port.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:      cfg,
		requests: xsync.NewCounter(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the port and begins serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("health: listen on :%d: %w", s.cfg.Port, err)
	}
	s.ln = ln
	s.started = time.Now()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[health] serve: %v", err)
		}
	}()
	log.Printf("[health] listening on %s", ln.Addr())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.requests.Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.requests.Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.requests.Inc()
	uptime := time.Since(s.started)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptimeSeconds":  int64(uptime.Seconds()),
		"uptimeHuman":    alert.HumanDuration(uptime),
		"requestsServed": s.requests.Value(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"port":           s.cfg.Port,
		"appName":        s.cfg.AppName,
		"appVersion":     s.cfg.AppVersion,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc()
	if s.cfg.AdminToken == "" {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.cfg.AdminToken {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	payload := map[string]any{}
	if s.cfg.Diagnostics != nil {
		payload = s.cfg.Diagnostics()
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[health] encode response: %v", err)
	}
}
