// Package repository persists session records and tracks the runtime
// container state attached to them. Session rows survive a process restart
// when the sqlite backend is configured; container info holds live handles
// (the terminal stream) and is always in-memory only.
package repository

import (
	"errors"
	"time"

	"github.com/gamgui/gamgui-server/internal/terminal"
)

var ErrNotFound = errors.New("session not found")

// Session statuses.
const (
	StatusCreating = "creating"
	StatusActive   = "active"
	StatusError    = "error"
	StatusDeleted  = "deleted"
)

type Session struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	PodName      string            `json:"pod_name,omitempty"`
	Image        string            `json:"image,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
	Status       string            `json:"status"`
	UserID       string            `json:"user_id,omitempty"`
	BucketName   string            `json:"bucket_name,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
	// ExpiresAt is the deadline after which the reaper tears the session
	// down. Zero means the session never expires.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// ContainerInfo is the runtime state for a session's sandbox: the pod and
// service backing it (empty for virtual sessions), the websocket path
// clients connect to, and the lazily created terminal stream.
type ContainerInfo struct {
	ID            string
	SessionID     string
	PodName       string
	ServiceName   string
	WebsocketPath string
	Virtual       bool

	// Stream is set on first terminal join and reused for the life of
	// the container info.
	Stream *terminal.Stream
}

type Repository interface {
	Save(session *Session) error
	Find(id string) (*Session, error)
	List() ([]*Session, error)
	Delete(id string) error
	CountByStatus(status string) (int, error)

	SaveContainerInfo(info *ContainerInfo) error
	GetContainerInfo(sessionID string) (*ContainerInfo, error)
	DeleteContainerInfo(sessionID string) error

	Close() error
}
