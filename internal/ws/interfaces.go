package ws

import (
	"context"

	"github.com/gamgui/gamgui-server/internal/repository"
	"github.com/gamgui/gamgui-server/internal/session"
	"github.com/gamgui/gamgui-server/internal/terminal"
)

type SessionService interface {
	Get(ctx context.Context, id string) (*repository.Session, error)
	ContainerInfo(id string) (*repository.ContainerInfo, error)
	UpdateContainerInfo(id string, update session.ContainerInfoUpdate) (*repository.ContainerInfo, error)
}

type TerminalService interface {
	CreateStream(ctx context.Context, sessionID string, virtual bool, sink func(text string)) *terminal.Stream
}
