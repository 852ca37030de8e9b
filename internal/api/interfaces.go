package api

import (
	"context"
	"net/http"

	"github.com/gamgui/gamgui-server/internal/audit"
	"github.com/gamgui/gamgui-server/internal/repository"
	"github.com/gamgui/gamgui-server/internal/session"
)

// SessionService abstracts the session lifecycle operations the handlers
// need.
type SessionService interface {
	Create(ctx context.Context, opts session.CreateOpts) (*repository.Session, *session.WebsocketInfo, error)
	Get(ctx context.Context, id string) (*repository.Session, error)
	List(ctx context.Context) ([]*repository.Session, error)
	Delete(ctx context.Context, id string) error
	WebsocketInfo(id string) (*session.WebsocketInfo, error)
}

// CommandHistory exposes the recorded command log of a session.
type CommandHistory interface {
	History(sessionID string) []audit.Entry
}

// SocketHandler is the websocket transport mounted under the API router.
type SocketHandler interface {
	HandleTerminal(w http.ResponseWriter, r *http.Request)
	HandleSession(w http.ResponseWriter, r *http.Request)
}
