package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gamgui/gamgui-server/internal/config"
)

type Server struct {
	cfg      *config.Config
	sessions SessionService
	sockets  SocketHandler
	history  CommandHistory
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer builds the REST router. history may be nil when command
// auditing is disabled.
func NewServer(cfg *config.Config, sessions SessionService, sockets SocketHandler, history CommandHistory, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		sockets:  sockets,
		history:  history,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.requestIDMiddleware(s.mux))
}

func (s *Server) routes() {
	// Session REST surface (with auth)
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /sessions/{id}/websocket", s.handleWebsocketInfo)
	s.mux.HandleFunc("GET /sessions/{id}/history", s.handleSessionHistory)

	// Real-time relay (session ids gate access, not the API key)
	s.mux.HandleFunc("GET /ws/terminal", s.sockets.HandleTerminal)
	s.mux.HandleFunc("GET /sessions/{id}/ws", s.sockets.HandleSession)

	// Health check (no auth)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
