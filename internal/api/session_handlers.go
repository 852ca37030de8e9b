package api

import (
	"net/http"

	"github.com/gamgui/gamgui-server/internal/audit"
	"github.com/gamgui/gamgui-server/internal/repository"
	"github.com/gamgui/gamgui-server/internal/session"
)

type createSessionRequest struct {
	Name              string            `json:"name"`
	ImageID           string            `json:"imageId"`
	Config            map[string]string `json:"config"`
	CredentialsSecret string            `json:"credentialsSecret"`
	UserID            string            `json:"userId"`
}

type createSessionResponse struct {
	Session       *repository.Session    `json:"session"`
	WebsocketInfo *session.WebsocketInfo `json:"websocketInfo"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}

	if err := validateCreateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("create session request", "name", req.Name, "image", req.ImageID)
	sess, wsInfo, err := s.sessions.Create(r.Context(), session.CreateOpts{
		Name:              req.Name,
		Image:             req.ImageID,
		Config:            req.Config,
		CredentialsSecret: req.CredentialsSecret,
		UserID:            req.UserID,
	})
	if err != nil {
		s.logger.Error("create session", "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Session: sess, WebsocketInfo: wsInfo})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("list sessions result", "count", len(sessions))
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	s.logger.Debug("delete session", "session_id", id)
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete session", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		writeAPIError(w, err)
		return
	}
	entries := []audit.Entry{}
	if s.history != nil {
		entries = append(entries, s.history.History(id)...)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWebsocketInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	info, err := s.sessions.WebsocketInfo(id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
