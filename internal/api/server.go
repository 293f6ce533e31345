package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pmsurveil/internal/metrics"
)

// StatusProvider supplies the live state the status surface reports.
// Satisfied by *collector.Collector; declared narrowly here to avoid an
// import cycle (collector wires api, not the other way around).
type StatusProvider interface {
	Metrics() *metrics.Collector
}

// VenueLister is optionally implemented by the StatusProvider to enrich the
// status payload with per-venue subscription state.
type VenueLister interface {
	VenueStatuses() []VenueStatus
}

// Server runs the minimal status/health HTTP and WebSocket surface.
type Server struct {
	provider StatusProvider
	hub      *Hub
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a status server bound to port.
func NewServer(port int, provider StatusProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	s := &Server{
		provider: provider,
		hub:      hub,
		logger:   logger.With("component", "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the hub and HTTP server, blocking until the server is stopped.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.broadcastLoop()

	s.logger.Info("status server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.hub.BroadcastStatus(s.snapshot())
	}
}

func (s *Server) snapshot() StatusSnapshot {
	snap := StatusSnapshot{Metrics: s.provider.Metrics().Snapshot()}
	if vl, ok := s.provider.(VenueLister); ok {
		snap.Venues = vl.VenueStatuses()
	}
	return snap
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Error("encode status failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin allows non-browser clients (no Origin header) and browser
// clients from localhost. This status feed has no remote dashboard to
// serve, so anything else is refused.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(s.hub, conn)

	data, err := json.Marshal(s.snapshot())
	if err != nil {
		s.logger.Error("marshal initial status failed", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
	}
}
