package reaper

import (
	"context"

	"github.com/gamgui/gamgui-server/internal/kubernetes"
	"github.com/gamgui/gamgui-server/internal/repository"
)

// ReaperStore abstracts the repository operations the reaper needs.
type ReaperStore interface {
	List() ([]*repository.Session, error)
	Save(session *repository.Session) error
	GetContainerInfo(sessionID string) (*repository.ContainerInfo, error)
}

// SandboxStatus reports the pod phase backing a session.
type SandboxStatus interface {
	Status(ctx context.Context, sessionID string) (kubernetes.Phase, error)
}

// SessionDeleter tears a session fully down: sandbox, bucket, handle and
// record. The reaper uses it for sessions that lived past their expiry.
type SessionDeleter interface {
	Delete(ctx context.Context, id string) error
}
