// Package ws relays terminal I/O between websocket connections and session
// streams. Two addressing schemes share one join path: a generic channel
// where the client names the session in a join event, and a per-session URL
// channel where the session id is part of the connection path.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for every event on both channels.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Conn wraps a websocket connection with a write lock (gorilla allows only
// one concurrent writer) and the output event name its channel expects.
type Conn struct {
	ws          *websocket.Conn
	outputEvent string

	mu     sync.Mutex
	closed bool
}

func newConn(wsConn *websocket.Conn, outputEvent string) *Conn {
	return &Conn{ws: wsConn, outputEvent: outputEvent}
}

func (c *Conn) send(event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteJSON(Envelope{Event: event, Data: data})
}

func (c *Conn) sendError(message string, cause error) {
	p := errorPayload{Message: message}
	if cause != nil {
		p.Error = cause.Error()
	}
	_ = c.send("error", p)
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.ws.Close()
}

// SocketManager tracks which connections belong to which session and fans
// stream output out to them.
type SocketManager struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewSocketManager() *SocketManager {
	return &SocketManager{rooms: make(map[string]map[*Conn]struct{})}
}

func (m *SocketManager) Join(sessionID string, c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[sessionID]
	if !ok {
		room = make(map[*Conn]struct{})
		m.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

// Leave removes the connection from a session's room. An emptied room is
// kept out of the map but the session itself stays joinable.
func (m *SocketManager) Leave(sessionID string, c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[sessionID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(m.rooms, sessionID)
		}
	}
}

// LeaveAll removes the connection from every room it joined.
func (m *SocketManager) LeaveAll(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sessionID, room := range m.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(m.rooms, sessionID)
		}
	}
}

// Broadcast delivers one output chunk to every connection in the session's
// room, each under its channel's own output event name.
func (m *SocketManager) Broadcast(sessionID, text string) {
	m.mu.RLock()
	conns := make([]*Conn, 0, 4)
	for c := range m.rooms[sessionID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.send(c.outputEvent, text)
	}
}

// DisconnectSession force-closes every connection joined to a session.
func (m *SocketManager) DisconnectSession(sessionID string) {
	m.mu.Lock()
	room := m.rooms[sessionID]
	delete(m.rooms, sessionID)
	m.mu.Unlock()

	for c := range room {
		c.close()
	}
}

// ConnectionCount reports how many connections are joined to a session.
func (m *SocketManager) ConnectionCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[sessionID])
}
