package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gamgui/gamgui-server/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the session REST API is key-protected; the relay relies on session
	// ids being unguessable
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Service struct {
	sessions SessionService
	term     TerminalService
	manager  *SocketManager
	logger   *slog.Logger

	lockMu    sync.Mutex
	joinLocks map[string]*sync.Mutex
}

func NewService(sessions SessionService, term TerminalService, manager *SocketManager, logger *slog.Logger) *Service {
	return &Service{
		sessions:  sessions,
		term:      term,
		manager:   manager,
		logger:    logger,
		joinLocks: make(map[string]*sync.Mutex),
	}
}

// joinLock returns the per-session mutex serializing first-join stream
// creation, so one handle only ever gets one stream pair.
func (s *Service) joinLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.joinLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.joinLocks[sessionID] = l
	}
	return l
}

// DisconnectSession force-closes every connection joined to a session and
// drops its join lock. Called by the session layer on teardown.
func (s *Service) DisconnectSession(sessionID string) {
	s.manager.DisconnectSession(sessionID)
	s.lockMu.Lock()
	delete(s.joinLocks, sessionID)
	s.lockMu.Unlock()
}

// joinSession is the single join path both channels converge on: verify the
// session and its handle, lazily create the terminal stream, and register
// the connection in the session's room.
func (s *Service) joinSession(ctx context.Context, c *Conn, sessionID string) error {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return err
	}

	lock := s.joinLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	info, err := s.sessions.ContainerInfo(sessionID)
	if err != nil {
		return err
	}

	if info.Stream == nil {
		stream := s.term.CreateStream(context.Background(), sessionID, info.Virtual, func(text string) {
			s.manager.Broadcast(sessionID, text)
		})
		info, err = s.sessions.UpdateContainerInfo(sessionID, session.ContainerInfoUpdate{Stream: stream})
		if err != nil {
			stream.Close()
			return err
		}
	}

	s.manager.Join(sessionID, c)
	s.logger.Debug("connection joined session", "session_id", sessionID, "virtual", info.Virtual)
	return nil
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
}

type connectedPayload struct {
	SessionID  string `json:"sessionId"`
	Kubernetes bool   `json:"kubernetes"`
}

// HandleTerminal serves the generic terminal channel. The client addresses
// a session explicitly through join-session/leave-session events and sends
// input as terminal-input; output comes back as terminal-output.
func (s *Service) HandleTerminal(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := newConn(wsConn, "terminal-output")
	defer func() {
		s.manager.LeaveAll(c)
		c.close()
	}()

	joined := ""
	for {
		var env Envelope
		if err := wsConn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Event {
		case "join-session":
			var p joinPayload
			if err := json.Unmarshal(env.Data, &p); err != nil || p.SessionID == "" {
				c.sendError("invalid join-session payload", err)
				continue
			}
			if err := s.joinSession(r.Context(), c, p.SessionID); err != nil {
				c.sendError("could not join session", err)
				continue
			}
			joined = p.SessionID
			_ = c.send("session-joined", joinPayload{SessionID: p.SessionID})

		case "leave-session":
			var p joinPayload
			if err := json.Unmarshal(env.Data, &p); err != nil || p.SessionID == "" {
				c.sendError("invalid leave-session payload", err)
				continue
			}
			s.manager.Leave(p.SessionID, c)
			if joined == p.SessionID {
				joined = ""
			}
			_ = c.send("session-left", joinPayload{SessionID: p.SessionID})

		case "terminal-input":
			if joined == "" {
				c.sendError("no session joined", nil)
				continue
			}
			s.writeInput(joined, env.Data, c)

		default:
			c.sendError("unknown event: "+env.Event, nil)
		}
	}
}

// HandleSession serves the per-session URL channel. The session id comes
// from the path; a failed join emits an error event and closes the
// connection, since the client cannot recover without re-navigating.
func (s *Service) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	c := newConn(wsConn, "output")
	defer func() {
		s.manager.Leave(sessionID, c)
		c.close()
	}()

	if err := s.joinSession(r.Context(), c, sessionID); err != nil {
		c.sendError("could not join session", err)
		return
	}

	info, err := s.sessions.ContainerInfo(sessionID)
	if err != nil {
		c.sendError("could not join session", err)
		return
	}
	_ = c.send("connected", connectedPayload{SessionID: sessionID, Kubernetes: !info.Virtual})

	for {
		var env Envelope
		if err := wsConn.ReadJSON(&env); err != nil {
			return
		}
		if env.Event != "input" {
			c.sendError("unknown event: "+env.Event, nil)
			continue
		}
		s.writeInput(sessionID, env.Data, c)
	}
}

// writeInput decodes a text payload and queues it on the session's stream.
func (s *Service) writeInput(sessionID string, data json.RawMessage, c *Conn) {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		c.sendError("invalid input payload", err)
		return
	}
	info, err := s.sessions.ContainerInfo(sessionID)
	if err != nil || info.Stream == nil {
		c.sendError("session has no terminal", err)
		return
	}
	info.Stream.WriteInput(text)
}
