package session

import (
	"context"
	"time"

	"github.com/gamgui/gamgui-server/internal/kubernetes"
)

type ContainerService interface {
	CreateContainer(ctx context.Context, sessionID string, opts kubernetes.CreateOptions) (*kubernetes.Handle, error)
	WaitReady(ctx context.Context, sessionID string, timeout time.Duration) error
	DeleteContainer(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (kubernetes.Phase, error)
	WebsocketPath(sessionID string) string
}

type BucketService interface {
	EnsureBucket(ctx context.Context, sessionID string) (string, error)
	DeleteBucket(ctx context.Context, name string) error
}

// TerminalReleaser drops per-session interpreter state on teardown.
type TerminalReleaser interface {
	Release(sessionID string)
}

// ConnectionCloser force-closes the websocket connections of a session.
type ConnectionCloser interface {
	DisconnectSession(sessionID string)
}
